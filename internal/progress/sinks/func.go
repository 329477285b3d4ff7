package sinks

import (
	"context"

	"github.com/JakeFAU/thread-archiver/internal/progress"
)

// FuncSink forwards every event to a callback, one at a time. It lets an
// embedding program subscribe to notifications without writing a Sink.
type FuncSink func(progress.Event)

// Consume implements progress.Sink.
func (f FuncSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		f(evt)
	}
	return nil
}

// Close implements progress.Sink.
func (FuncSink) Close(context.Context) error { return nil }
