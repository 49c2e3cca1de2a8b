// Package handlers implements the admin HTTP API and the cached media file
// server.
//
// Admin routes control the cache worker pool (enqueue, cache-all, stats,
// cleanup) and the dimension resolver (start, stop, stats, activity). All of
// them answer JSON; long-running work is started in the background and the
// request returns 202 immediately.
//
// GET /cached/{filename} serves normalized images from the cache directory.
// Only names produced by media.CacheFilename are accepted, so the handler
// cannot be used to read other files.
package handlers
