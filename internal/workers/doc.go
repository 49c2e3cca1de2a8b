/*
Package workers sizes the media cache's worker pools in containerized
environments.

Go 1.19+ sets GOMAXPROCS from the container CPU limit, while runtime.NumCPU
still reports host CPUs. Pool sizes are therefore derived from GOMAXPROCS:

	// Cache workers download, decode, resize and encode: mixed work.
	n := workers.ForMixed("CACHE_WORKERS", 8)

	// Dimension probes are almost pure network wait.
	n := workers.ForIO("DIMENSION_WORKERS", 16)

Operators can pin a pool size with the named environment variable; the limit
still applies to overrides.
*/
package workers
