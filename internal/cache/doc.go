// Package cache downloads, normalizes and stores local copies of pin images.
//
// A Pool runs a fixed number of workers over one bounded FIFO queue. Each
// task resolves its media cache entry, honours the retry backoff, fetches
// the image (or a video frame), resizes it to the quality preset and writes
// it under a deterministic filename. A periodic sweep expires entries that
// have not been accessed within the retention window and repairs entries
// whose file has disappeared.
package cache
