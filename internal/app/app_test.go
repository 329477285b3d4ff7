// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/thread-archiver/internal/app"
	"github.com/JakeFAU/thread-archiver/internal/config"
	"github.com/JakeFAU/thread-archiver/internal/poll"
	"github.com/JakeFAU/thread-archiver/internal/progress"
)

const threadPage = `<!DOCTYPE html><html><head><title>/g/</title></head><body>` +
	`<div class="board"><div class="thread" id="t39894014">` +
	`<div class="postContainer opContainer" id="pc39894014"><div class="post op" id="p39894014">` +
	`<a class="fileThumb" href="/img/1.jpg"><img src="/img/1.jpg" alt=""></a>` +
	`<blockquote class="postMessage">hello</blockquote></div></div>` +
	`</div></div></body></html>`

func newThreadServer(t *testing.T, status *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/img/1.jpg":
			_, _ = w.Write([]byte("JPEG"))
		case r.URL.Path == "/g/res/39894014":
			if code := status.Load(); code != 0 {
				w.WriteHeader(int(code))
				return
			}
			_, _ = w.Write([]byte(threadPage))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type messages struct {
	mu   sync.Mutex
	list []string
}

func (m *messages) record(evt progress.Event) {
	if evt.Stage != progress.StageMessage {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, evt.Message)
}

func (m *messages) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.list...)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(config.NewViper(), "")
	require.NoError(t, err)
	cfg.Archive.Root = t.TempDir()
	cfg.Archive.NoSubfolder = true
	cfg.Archive.Filename = "thread.html"
	cfg.Archive.BoardType = "4chan"
	cfg.HTTP.Timeout = 5 * time.Second
	cfg.HTTP.DownloadsPerSecond = 0
	cfg.Poll.Interval = time.Millisecond
	cfg.Poll.AutoIncrement = 0
	cfg.Poll.RetryIncrement = time.Millisecond
	cfg.Progress.MaxBatchWait = 10 * time.Millisecond
	return cfg
}

func TestFetchArchivesThread(t *testing.T) {
	t.Parallel()
	var status atomic.Int32
	srv := newThreadServer(t, &status)
	cfg := testConfig(t)
	reg := prometheus.NewRegistry()
	msgs := &messages{}

	a, err := app.New(cfg, zap.NewNop(), app.WithRegistry(reg), app.WithSubscriber(msgs.record))
	require.NoError(t, err)

	url := srv.URL + "/g/res/39894014"
	require.NoError(t, a.Fetch(context.Background(), []string{url}))
	require.NoError(t, a.Close(context.Background()))

	saved := filepath.Join(cfg.Archive.Root, "thread.html")
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.FileExists(t, saved+".original")

	snaps := a.Threads().Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, poll.StateStopped, snaps[0].State)
	assert.Equal(t, poll.StopOneShot, snaps[0].StopReason)

	joined := strings.Join(msgs.all(), "\n")
	assert.Contains(t, joined, "Using board type '4chan'.")
	assert.Contains(t, joined, "downloaded to ["+saved+"]")

	assert.InDelta(t, 1, counterValue(t, reg, "archiver_cycles_completed_total", "updated"), 0)
}

func TestFetchContinuesAfterBadURL(t *testing.T) {
	t.Parallel()
	var status atomic.Int32
	status.Store(http.StatusNotFound)
	srv := newThreadServer(t, &status)

	a, err := app.New(testConfig(t), nil, app.WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	err = a.Fetch(context.Background(), []string{"https://example.com/not-a-thread", srv.URL + "/g/res/39894014"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "example.com")

	snaps := a.Threads().Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, poll.StopNotFound, snaps[0].StopReason)
}

func TestWatchStopsWhenThreadsDisappear(t *testing.T) {
	t.Parallel()
	var status atomic.Int32
	srv := newThreadServer(t, &status)
	cfg := testConfig(t)
	cfg.Archive.Filename = ""
	cfg.Archive.NoSubfolder = false
	cfg.Metrics.Addr = "127.0.0.1:0"
	msgs := &messages{}

	var checks atomic.Int32
	a, err := app.New(cfg, zap.NewNop(), app.WithRegistry(prometheus.NewRegistry()), app.WithSubscriber(func(evt progress.Event) {
		msgs.record(evt)
		if evt.Stage == progress.StageCycleDone && checks.Add(1) == 2 {
			status.Store(http.StatusNotFound)
		}
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, a.Watch(ctx, []string{srv.URL + "/g/res/39894014"}))

	snaps := a.Threads().Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, poll.StopNotFound, snaps[0].StopReason)
	assert.GreaterOrEqual(t, snaps[0].Checks, 3)
}

func TestWatchRejectsUnsupportedURL(t *testing.T) {
	t.Parallel()
	a, err := app.New(testConfig(t), nil, app.WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	err = a.Watch(context.Background(), []string{"ftp://nowhere"})
	require.Error(t, err)
	assert.Zero(t, a.Threads().Len())
}

func TestWatchCancelled(t *testing.T) {
	t.Parallel()
	var status atomic.Int32
	srv := newThreadServer(t, &status)
	cfg := testConfig(t)
	cfg.Poll.Interval = time.Hour

	a, err := app.New(cfg, nil, app.WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		assert.Eventually(t, func() bool {
			snaps := a.Threads().Snapshots()
			return len(snaps) == 1 && !snaps[0].NextCheck.IsZero()
		}, 10*time.Second, 10*time.Millisecond)
	}()
	require.NoError(t, a.Watch(ctx, []string{srv.URL + "/g/res/39894014"}))
	assert.Equal(t, poll.StopCancelled, a.Threads().Snapshots()[0].StopReason)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}

func TestHandlerServesThreads(t *testing.T) {
	t.Parallel()
	var status atomic.Int32
	status.Store(http.StatusNotFound)
	srv := newThreadServer(t, &status)

	a, err := app.New(testConfig(t), nil, app.WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	require.NoError(t, a.Fetch(context.Background(), []string{srv.URL + "/g/res/39894014"}))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/threads?state=stopped", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stop_reason":"not_found"`)
}
