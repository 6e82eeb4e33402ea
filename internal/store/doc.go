// Package store declares the persistence contract for scrape-batch progress
// and ships an in-process implementation used when no database is configured.
package store
