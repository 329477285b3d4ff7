package progress

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Reporter stamps events for one archive run with its run ID, thread label,
// and timestamp before handing them to an Emitter.
type Reporter struct {
	emitter Emitter
	clock   Clock
	runID   [16]byte
	thread  string
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// NewReporter builds a Reporter. A nil emitter discards events and a nil
// clock falls back to the wall clock.
func NewReporter(emitter Emitter, clock Clock, runID uuid.UUID, thread string) *Reporter {
	if emitter == nil {
		emitter = Nop{}
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &Reporter{
		emitter: emitter,
		clock:   clock,
		runID:   UUIDToBytes(runID),
		thread:  thread,
	}
}

// RunID returns the run identifier stamped on every event.
func (r *Reporter) RunID() uuid.UUID {
	return uuid.UUID(r.runID)
}

// Emit stamps and forwards evt. Fields already set by the caller win.
func (r *Reporter) Emit(evt Event) {
	if r == nil {
		return
	}
	if evt.RunID == [16]byte{} {
		evt.RunID = r.runID
	}
	if evt.TS.IsZero() {
		evt.TS = r.clock.Now()
	}
	if evt.Thread == "" {
		evt.Thread = r.thread
	}
	r.emitter.Emit(evt)
}

// Messagef emits a MESSAGE event.
func (r *Reporter) Messagef(format string, args ...any) {
	r.Emit(Event{Stage: StageMessage, Message: fmt.Sprintf(format, args...)})
}

// DownloadProgress returns a callback that reports bytes read for url.
func (r *Reporter) DownloadProgress(url string) func(read, total int64) {
	return func(read, total int64) {
		r.Emit(Event{Stage: StageDownloadBytes, URL: url, Bytes: read, Total: total})
	}
}
