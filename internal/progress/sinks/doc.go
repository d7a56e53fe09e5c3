// Package sinks contains progress.Sink implementations: structured logs,
// Prometheus collectors and the attempt store.
package sinks
