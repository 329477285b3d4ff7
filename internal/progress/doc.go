// Package progress carries the status notifications an archive run produces:
// cycle milestones, asset download progress, and short operator messages. A
// non-blocking Hub batches events on a background goroutine and fans them out
// to pluggable sinks such as structured logs, Prometheus, or a caller func.
package progress
