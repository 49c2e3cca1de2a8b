// Package dimensions backfills pixel width and height for pins.
//
// A Resolver walks pins missing dimensions in batches, cheapest sources
// first, and probes only as many bytes as it takes to read an image header.
// It never caches files and never touches retry bookkeeping; a failed pin is
// simply picked up again by a later job.
//
// Pins that point at this server's own /cached/ files are measured from disk
// when Config.CacheDir is set. A dry run probes and reports without writing.
package dimensions
