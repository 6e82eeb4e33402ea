// Package progress carries scrape-batch progress from workers to sinks. Workers
// emit events without blocking; a Hub batches them on a background goroutine
// and fans each batch out to sinks such as logs, Prometheus, Postgres, or
// Pub/Sub notifications.
package progress
