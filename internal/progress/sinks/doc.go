// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, a batch repository, and completion notifications. Each sink
// satisfies progress.Sink and tolerates repeated Consume/Close calls.
package sinks
