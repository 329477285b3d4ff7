package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/thread-archiver/internal/archive"
	"github.com/JakeFAU/thread-archiver/internal/fetch"
	"github.com/JakeFAU/thread-archiver/internal/progress"
)

type step struct {
	report archive.Report
	err    error
}

type fakeChecker struct {
	mu     sync.Mutex
	steps  []step
	forces []bool
	onCall func(n int)
}

func (f *fakeChecker) URL() string { return "https://boards.4chan.org/g/thread/1" }

func (f *fakeChecker) Check(_ context.Context, force bool) (archive.Report, error) {
	f.mu.Lock()
	f.forces = append(f.forces, force)
	n := len(f.forces)
	if len(f.steps) == 0 {
		f.mu.Unlock()
		return archive.Report{Outcome: archive.OutcomeNotFound}, nil
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(n)
	}
	return s.report, s.err
}

// fakeClock advances virtual time whenever a timer is requested.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	elapsed time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.elapsed += d
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, evt := range r.events {
		if evt.Stage == progress.StageMessage {
			out = append(out, evt.Message)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		Continuous:       true,
		Interval:         30 * time.Second,
		AutoIncrement:    5 * time.Second,
		MaxAutoIncrement: 90 * time.Second,
		MaxRetries:       2,
		RetryIncrement:   120 * time.Second,
	}
}

var (
	updated     = step{report: archive.Report{Outcome: archive.OutcomeUpdated, NewPosts: 3}}
	notModified = step{report: archive.Report{Outcome: archive.OutcomeNotModified}}
	notFound    = step{report: archive.Report{Outcome: archive.OutcomeNotFound}}
)

func transient() step {
	return step{err: fetch.StatusError("https://boards.4chan.org/g/thread/1", 503)}
}

func TestNextInterval(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	tests := []struct {
		name     string
		retries  int
		noChange int
		want     time.Duration
	}{
		{name: "fresh", want: 30 * time.Second},
		{name: "two unchanged", noChange: 2, want: 40 * time.Second},
		{name: "capped", noChange: 100, want: 120 * time.Second},
		{name: "first retry", retries: 1, noChange: 4, want: 120 * time.Second},
		{name: "third retry", retries: 3, want: 360 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, cfg.NextInterval(tc.retries, tc.noChange))
		})
	}
}

func TestRunUntilNotFound(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{steps: []step{updated, notModified, notModified, notFound}}
	clock := newFakeClock()
	rec := &recorder{}
	cfg := testConfig()
	cfg.Force = true
	c := New(cfg, checker, clock, progress.NewReporter(rec, clock, uuid.New(), "g/1"), nil)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []bool{true, false, false, false}, checker.forces)
	assert.Equal(t, 105*time.Second, clock.Elapsed())

	snap := c.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.Equal(t, StopNotFound, snap.StopReason)
	assert.Equal(t, 4, snap.Checks)
	assert.Equal(t, 3, snap.NewPosts)
	assert.Equal(t, 2, snap.NoChangeCount)
	assert.True(t, snap.NextCheck.IsZero())

	msgs := rec.messages()
	assert.Contains(t, msgs, "Checking in 30")
	assert.Contains(t, msgs, "Checking in 35")
	assert.Contains(t, msgs, "Checking in 40")
}

func TestRunRetriesExhausted(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{steps: []step{transient(), transient(), transient(), updated}}
	clock := newFakeClock()
	rec := &recorder{}
	c := New(testConfig(), checker, clock, progress.NewReporter(rec, clock, uuid.New(), "g/1"), nil)

	err := c.Run(context.Background())
	require.Error(t, err)
	var httpErr *fetch.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 503, httpErr.Code)

	assert.Len(t, checker.forces, 3)
	assert.Equal(t, 360*time.Second, clock.Elapsed())
	snap := c.Snapshot()
	assert.Equal(t, StopRetries, snap.StopReason)
	assert.Equal(t, 2, snap.RetryCount)
	assert.NotEmpty(t, snap.LastError)

	msgs := rec.messages()
	assert.Contains(t, msgs, "Retrying (1 of 2) in 120")
	assert.Contains(t, msgs, "Retrying (2 of 2) in 240")
}

func TestRunRetryRecovers(t *testing.T) {
	t.Parallel()
	incomplete := step{err: fmt.Errorf("asset: %w", fetch.ErrIncompleteDownload)}
	checker := &fakeChecker{steps: []step{incomplete, notModified, notFound}}
	clock := newFakeClock()
	c := New(testConfig(), checker, clock, nil, nil)

	require.NoError(t, c.Run(context.Background()))
	// 120s retry wait, then 30s plus one auto-increment.
	assert.Equal(t, 155*time.Second, clock.Elapsed())
	snap := c.Snapshot()
	assert.Zero(t, snap.RetryCount)
	assert.Empty(t, snap.LastError)
}

func TestRunFatalError(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk full")
	checker := &fakeChecker{steps: []step{{err: boom}, updated}}
	c := New(testConfig(), checker, newFakeClock(), nil, nil)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Len(t, checker.forces, 1)
	assert.Equal(t, StopFatal, c.Snapshot().StopReason)
}

func TestRunCancelledCheck(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{steps: []step{{err: fmt.Errorf("cycle: %w", archive.ErrCancelled)}}}
	rec := &recorder{}
	clock := newFakeClock()
	c := New(testConfig(), checker, clock, progress.NewReporter(rec, clock, uuid.New(), "g/1"), nil)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StopCancelled, c.Snapshot().StopReason)
	assert.Contains(t, rec.messages(), "Download cancelled. Thread has not been saved.")
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	checker := &fakeChecker{steps: []step{updated, updated}, onCall: func(int) { cancel() }}
	c := New(testConfig(), checker, newFakeClock(), nil, nil)

	require.NoError(t, c.Run(ctx))
	assert.Len(t, checker.forces, 1)
	assert.Equal(t, StopCancelled, c.Snapshot().StopReason)
}

func TestRunAlreadyCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker := &fakeChecker{steps: []step{updated}}
	c := New(testConfig(), checker, newFakeClock(), nil, nil)

	require.NoError(t, c.Run(ctx))
	assert.Empty(t, checker.forces)
	assert.Equal(t, StopCancelled, c.Snapshot().StopReason)
}

func TestRunSingleCheck(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Continuous = false
		checker := &fakeChecker{steps: []step{updated, updated}}
		clock := newFakeClock()
		c := New(cfg, checker, clock, nil, nil)

		require.NoError(t, c.Run(context.Background()))
		assert.Len(t, checker.forces, 1)
		assert.Zero(t, clock.Elapsed())
		assert.Equal(t, StopOneShot, c.Snapshot().StopReason)
	})

	t.Run("transient failure", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Continuous = false
		checker := &fakeChecker{steps: []step{transient()}}
		c := New(cfg, checker, newFakeClock(), nil, nil)

		err := c.Run(context.Background())
		var httpErr *fetch.HTTPError
		require.ErrorAs(t, err, &httpErr)
		snap := c.Snapshot()
		assert.Equal(t, StopOneShot, snap.StopReason)
		assert.Equal(t, 1, snap.RetryCount)
	})
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "server error", err: fetch.StatusError("u", 500), want: true},
		{name: "transport", err: &fetch.HTTPError{URL: "u", Err: errors.New("reset")}, want: true},
		{name: "not found", err: fetch.StatusError("u", 404), want: false},
		{name: "incomplete", err: fmt.Errorf("x: %w", fetch.ErrIncompleteDownload), want: true},
		{name: "other", err: errors.New("parse"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
