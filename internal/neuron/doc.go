// Package neuron defines the domain types shared by the fetcher, codec,
// orchestrator, and dispatch layers: addresses, importance entries, pages,
// and the error kinds they report.
package neuron
