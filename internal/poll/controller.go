// Package poll drives repeated archive cycles for one thread: it classifies
// each cycle's outcome, keeps the retry and no-change counters, computes the
// wait before the next check, and stops on 404, exhausted retries, fatal
// errors, or cancellation.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/thread-archiver/internal/archive"
	"github.com/JakeFAU/thread-archiver/internal/fetch"
	"github.com/JakeFAU/thread-archiver/internal/progress"
)

// State is a poll controller state.
type State string

// Controller states.
const (
	StateIdle     State = "idle"
	StateChecking State = "checking"
	StateUpToDate State = "up_to_date"
	StateUpdated  State = "updated"
	StateRetrying State = "retrying"
	StateStopped  State = "stopped"
)

// Reasons recorded when the controller stops.
const (
	StopNotFound  = "not_found"
	StopCancelled = "cancelled"
	StopRetries   = "retries_exhausted"
	StopFatal     = "fatal"
	StopOneShot   = "single_check"
)

// Checker runs one archive cycle. *archive.Engine satisfies it.
type Checker interface {
	Check(ctx context.Context, force bool) (archive.Report, error)
	URL() string
}

// Clock supplies time and timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Config drives the schedule.
type Config struct {
	// Continuous keeps checking until the thread 404s or the run stops.
	// Otherwise Run performs exactly one check.
	Continuous bool
	// Force skips the conditional-fetch header on the first check only.
	Force            bool
	Interval         time.Duration
	AutoIncrement    time.Duration
	MaxAutoIncrement time.Duration
	MaxRetries       int
	RetryIncrement   time.Duration
}

// NextInterval computes the wait before the next check. While retrying it
// is RetryIncrement*retries; otherwise the base interval plus an
// auto-increment per unchanged check, capped at MaxAutoIncrement.
func (c Config) NextInterval(retries, noChange int) time.Duration {
	if retries > 0 {
		return c.RetryIncrement * time.Duration(retries)
	}
	extra := c.AutoIncrement * time.Duration(noChange)
	if extra > c.MaxAutoIncrement {
		extra = c.MaxAutoIncrement
	}
	return c.Interval + extra
}

// Snapshot is a point-in-time view of a controller.
type Snapshot struct {
	URL           string    `json:"url"`
	State         State     `json:"state"`
	StopReason    string    `json:"stop_reason,omitempty"`
	Checks        int       `json:"checks"`
	RetryCount    int       `json:"retry_count"`
	NoChangeCount int       `json:"consecutive_no_change_count"`
	LastCheck     time.Time `json:"last_check_time"`
	NextCheck     time.Time `json:"next_check_time"`
	LastError     string    `json:"last_error,omitempty"`
	NewPosts      int       `json:"new_posts"`
}

// Controller is the poll state machine for one thread.
type Controller struct {
	cfg      Config
	checker  Checker
	clock    Clock
	reporter *progress.Reporter
	logger   *zap.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// New builds a Controller. reporter and logger may be nil.
func New(cfg Config, checker Checker, clock Clock, reporter *progress.Reporter, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		checker:  checker,
		clock:    clock,
		reporter: reporter,
		logger:   logger,
		snap:     Snapshot{URL: checker.URL(), State: StateIdle},
	}
}

// Snapshot returns the current state and counters.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Controller) update(fn func(s *Snapshot)) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.snap)
	return c.snap
}

func (c *Controller) stop(reason string) {
	c.update(func(s *Snapshot) {
		s.State = StateStopped
		s.StopReason = reason
		s.NextCheck = time.Time{}
	})
}

// Run checks the thread until it stops. Cancellation and a 404 return nil.
// Exhausted retries return the last transient error, fatal errors are
// returned as they are, and in single-check mode a transient failure is
// returned without retrying.
func (c *Controller) Run(ctx context.Context) error {
	force := c.cfg.Force
	for {
		if ctx.Err() != nil {
			c.stop(StopCancelled)
			return nil
		}

		snap, err := c.checkOnce(ctx, force)
		force = false
		if snap.State == StateStopped {
			return err
		}
		if !c.cfg.Continuous {
			c.stop(StopOneShot)
			if snap.State == StateRetrying {
				return err
			}
			return nil
		}

		if !c.wait(ctx, snap) {
			c.stop(StopCancelled)
			return nil
		}
	}
}

// checkOnce runs one cycle and applies the state transition.
func (c *Controller) checkOnce(ctx context.Context, force bool) (Snapshot, error) {
	url := c.checker.URL()
	c.update(func(s *Snapshot) { s.State = StateChecking })
	c.reporter.Messagef("Checking thread [%s] for updates...", url)

	report, err := c.checker.Check(ctx, force)
	now := c.clock.Now()

	switch {
	case errors.Is(err, archive.ErrCancelled) || (err != nil && ctx.Err() != nil):
		c.reporter.Messagef("Download cancelled. Thread has not been saved.")
		c.update(func(s *Snapshot) { s.LastCheck = now; s.Checks++ })
		c.stop(StopCancelled)
		return c.Snapshot(), nil

	case err == nil && report.Outcome == archive.OutcomeNotFound:
		c.update(func(s *Snapshot) { s.LastCheck = now; s.Checks++; s.LastError = "" })
		c.stop(StopNotFound)
		c.logger.Info("thread gone, stopping", zap.String("url", url))
		return c.Snapshot(), nil

	case err == nil && report.Outcome == archive.OutcomeNotModified:
		return c.update(func(s *Snapshot) {
			s.State = StateUpToDate
			s.LastCheck = now
			s.Checks++
			s.NoChangeCount++
			s.RetryCount = 0
			s.LastError = ""
		}), nil

	case err == nil:
		return c.update(func(s *Snapshot) {
			s.State = StateUpdated
			s.LastCheck = now
			s.Checks++
			s.NoChangeCount = 0
			s.RetryCount = 0
			s.LastError = ""
			s.NewPosts += report.NewPosts
		}), nil

	case IsTransient(err):
		c.logger.Warn("check failed", zap.String("url", url), zap.Error(err))
		snap := c.update(func(s *Snapshot) {
			s.LastCheck = now
			s.Checks++
			s.LastError = err.Error()
			if s.RetryCount < c.cfg.MaxRetries {
				s.RetryCount++
				s.State = StateRetrying
			}
		})
		if snap.State != StateRetrying {
			c.stop(StopRetries)
			return c.Snapshot(), fmt.Errorf("giving up on %s after %d retries: %w", url, c.cfg.MaxRetries, err)
		}
		return snap, err

	default:
		c.logger.Error("fatal archive error", zap.String("url", url), zap.Error(err))
		c.update(func(s *Snapshot) { s.LastCheck = now; s.Checks++; s.LastError = err.Error() })
		c.stop(StopFatal)
		return c.Snapshot(), err
	}
}

// wait sleeps until the next check is due, emitting a countdown once per
// second. It reports false when ctx ends first.
func (c *Controller) wait(ctx context.Context, snap Snapshot) bool {
	interval := c.cfg.NextInterval(snap.RetryCount, snap.NoChangeCount)
	next := snap.LastCheck.Add(interval)
	c.update(func(s *Snapshot) { s.NextCheck = next })

	if remaining := next.Sub(c.clock.Now()); remaining > 0 {
		if snap.RetryCount > 0 {
			c.reporter.Messagef("Retrying (%d of %d) in %.0f", snap.RetryCount, c.cfg.MaxRetries, remaining.Seconds())
		} else {
			c.reporter.Messagef("Checking in %.0f", remaining.Seconds())
		}
	}
	for {
		remaining := next.Sub(c.clock.Now())
		if remaining <= 0 {
			return true
		}
		c.reporter.Emit(progress.Event{Stage: progress.StageWait, URL: snap.URL, Dur: remaining})
		step := remaining
		if step > time.Second {
			step = time.Second
		}
		select {
		case <-ctx.Done():
			return false
		case <-c.clock.After(step):
		}
	}
}

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *fetch.HTTPError
	if errors.As(err, &httpErr) {
		return !errors.Is(err, fetch.ErrNotFound)
	}
	return errors.Is(err, fetch.ErrIncompleteDownload)
}
