// Package media turns fetched image bytes into the size-capped copies kept
// in the cache directory, and owns the cache filename scheme.
//
// libvips is used when it has been initialized; otherwise the pure Go
// imaging library does the same work.
package media
