package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/thread-archiver/internal/fetch"
	"github.com/JakeFAU/thread-archiver/internal/progress"
)

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Stats summarises one drain.
type Stats struct {
	Downloaded int
	Missing    int
	Bytes      int64
}

// Drainer fetches queued tasks one at a time.
type Drainer struct {
	fetcher  fetch.Fetcher
	limiter  Limiter
	reporter *progress.Reporter
	logger   *zap.Logger
}

// NewDrainer builds a Drainer. limiter, reporter, and logger may be nil.
func NewDrainer(fetcher fetch.Fetcher, limiter Limiter, reporter *progress.Reporter, logger *zap.Logger) *Drainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drainer{fetcher: fetcher, limiter: limiter, reporter: reporter, logger: logger}
}

// Drain empties q. A task answered with 404 is dropped for good. Any other
// failure puts the task back at the head of q and returns the error, leaving
// the rest of q untouched. Cancellation is checked before every task.
func (d *Drainer) Drain(ctx context.Context, q *Queue) (Stats, error) {
	var stats Stats
	for q.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		task, _ := q.Pop()
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, task.URL); err != nil {
				q.PushFront(task)
				return stats, err
			}
		}

		d.reporter.Emit(progress.Event{Stage: progress.StageDownloadStart, URL: task.URL})
		start := time.Now()
		resp, err := d.fetcher.Fetch(ctx, fetch.Request{
			URL:         task.URL,
			Destination: task.Destination,
			Progress:    d.reporter.DownloadProgress(task.URL),
		})
		if err != nil {
			d.reportDone(task, statusOf(err), 0, time.Since(start))
			if errors.Is(err, fetch.ErrNotFound) {
				stats.Missing++
				d.logger.Info("asset missing, skipping", zap.String("url", task.URL))
				continue
			}
			q.PushFront(task)
			return stats, fmt.Errorf("download %s: %w", task.URL, err)
		}

		stats.Downloaded++
		stats.Bytes += resp.Bytes
		d.reportDone(task, resp.StatusCode, resp.Bytes, resp.Duration)
		d.logger.Debug("asset downloaded",
			zap.String("url", task.URL),
			zap.String("path", task.Destination),
			zap.Int64("bytes", resp.Bytes))
	}
	return stats, nil
}

func (d *Drainer) reportDone(task Task, code int, n int64, dur time.Duration) {
	d.reporter.Emit(progress.Event{
		Stage:       progress.StageDownloadDone,
		URL:         task.URL,
		Bytes:       n,
		StatusClass: progress.ClassifyStatus(code),
		Dur:         dur,
	})
}

func statusOf(err error) int {
	var httpErr *fetch.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	if errors.Is(err, fetch.ErrIncompleteDownload) {
		return http.StatusOK
	}
	return 0
}
