/*
Package filesystem provides the cache directory operations used by the media
cache: atomic writes, stat and remove, each retried when the directory sits
on an NFS mount and returns a stale file handle (ESTALE).

Only ESTALE is retried. Every other error is returned immediately. Backoff
starts at RetryConfig.InitialBackoff and doubles up to MaxBackoff.

	err := filesystem.WriteFileAtomic(path, data, 0o644, filesystem.DefaultRetryConfig())

Metrics are recorded through the Observer installed with SetObserver; with no
observer installed, recording is skipped.
*/
package filesystem
