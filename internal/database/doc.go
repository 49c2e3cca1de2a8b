// Package database provides the SQLite-backed media store for the scrapbook
// media cache.
//
// It holds:
//   - One media_cache row per (source URL, quality level), with status and
//     retry bookkeeping
//   - The cached_media_id reference on pins, the only pin column it writes
//   - Queries that feed the cache sweep and the dimension resolver
//
// Every state transition is a single conditional UPDATE, so concurrent
// workers never need application-level locks. The database runs in WAL mode
// and initializes its schema on open.
package database
