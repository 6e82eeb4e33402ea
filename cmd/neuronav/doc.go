// Package main hosts the neuronav entrypoint.
//
// Architecture overview:
//   - Scrape: `neuronav scrape <model> <layer> <count>` fans one fetch per neuron out through
//     internal/scrape. The default mode persists pages through the configured storage provider
//     (local data root, GCS, MinIO or memory) under a fixed permit pool and skips pages that are
//     already stored; --collect fetches every page at once and prints them. The first failure
//     cancels the rest of the layer.
//   - Fetch pipeline: a Colly collector issues one GET per page with a per-fetch timeout and goquery
//     parses the importance table. There are no retries.
//   - Persistence: pages are encoded by internal/codec (zstd, lz4 or flate with a CRC32 trailer) at
//     <root>/<model>/neuroscope/l<layer>n<neuron>.nrnp, or the same key under a bucket prefix.
//   - Serving: `neuronav serve` exposes GET /api/{model}/{service}/{layer}/{neuron}. The registry in
//     <root>/config.json maps each service name to a provider: compressed neuroscope pages or raw JSON
//     files. Any lookup failure answers 503 with the error message.
//   - Progress: scrape batches emit events into a non-blocking hub that fans out to log, Prometheus,
//     Postgres (batch_runs) and Pub/Sub sinks. /api/batches reads the batch rows back.
//
// Quick checklist:
//   - Configure env vars with the NEURONAV_ prefix, e.g. NEURONAV_DATA_ROOT, NEURONAV_SCRAPE_CONCURRENCY,
//     NEURONAV_STORAGE_PROVIDER, NEURONAV_PROGRESS_POSTGRES_DSN, or pass --config.
//   - Run locally: go run ./cmd/neuronav init --data ./data && go run ./cmd/neuronav add-service neuroscope.
package main
