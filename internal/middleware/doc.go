// Package middleware provides HTTP request logging and Prometheus request
// metrics for the admin API and cached media server.
package middleware
