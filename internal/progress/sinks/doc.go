// Package sinks holds the progress.Sink implementations: structured logs,
// Prometheus collectors, and a plain callback for embedding callers.
package sinks
