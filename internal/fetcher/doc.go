// Package fetcher retrieves remote media for the cache and the dimension
// resolver.
//
// Images are fetched over HTTP with a bounded ranged probe that falls back to
// a full, size-capped download. Video URLs are handed to ffmpeg, which pulls a
// single frame as PNG. Classify sorts URLs into image, video and denylisted
// before anything touches the network.
package fetcher
