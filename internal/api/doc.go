// Package api hosts the HTTP server for stored neuron pages. Routes:
//   - GET /api/{model}/{service}/{layer}/{neuron} serves one page as JSON.
//   - GET /api/models and /api/services list what the data root holds.
//   - GET /api/batches and /api/batches/{batch_id} report scrape progress.
//   - GET /healthz and /metrics for probes and Prometheus.
package api
