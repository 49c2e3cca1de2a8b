// Package logging provides a simple leveled logging interface for the
// scrapbook media cache.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable, or
// forced to debug with DEBUG=true. Long-running components obtain a scoped
// logger with Named so their output can be told apart:
//
//	log := logging.Named("dimensions")
//	log.Info("batch %d: %d pins", n, len(pins))
package logging
