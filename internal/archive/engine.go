// Package archive runs one thread's fetch, merge, localize, download, and
// save cycle and owns the thread's on-disk artifact tree.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/thread-archiver/internal/board"
	"github.com/JakeFAU/thread-archiver/internal/document"
	"github.com/JakeFAU/thread-archiver/internal/download"
	"github.com/JakeFAU/thread-archiver/internal/fetch"
	"github.com/JakeFAU/thread-archiver/internal/localize"
	"github.com/JakeFAU/thread-archiver/internal/merge"
	"github.com/JakeFAU/thread-archiver/internal/progress"
	"github.com/JakeFAU/thread-archiver/internal/thread"
)

// MergeMode overrides whether fetched snapshots are merged into the saved
// artifact.
type MergeMode string

// Merge modes.
const (
	// MergeAuto merges when the board type supports it.
	MergeAuto MergeMode = "auto"
	// MergeOn always merges, using the generic adapter for unknown sites.
	MergeOn MergeMode = "on"
	// MergeOff replaces the artifact with every fetch.
	MergeOff MergeMode = "off"
)

const (
	originalSuffix = ".original"
	tmpSuffix      = ".tmp"
)

// Options configures an Engine.
type Options struct {
	// Root is the archive root. Empty leaves the engine without a
	// destination until SetDestination is called.
	Root string
	// Filename overrides the artifact name, default "<thread_id>.html".
	Filename string
	// NoSubfolder writes into Root instead of Root/site/board/thread_id.
	NoSubfolder bool
	// BoardType is an explicit board-type label. It wins over the label a
	// first-party host implies.
	BoardType  string
	Merge      MergeMode
	Extensions localize.ExtensionSet
}

// Deps are the engine's collaborators.
type Deps struct {
	Fetcher  fetch.Fetcher
	Limiter  download.Limiter
	Reporter *progress.Reporter
	Logger   *zap.Logger
}

// Report describes one finished cycle.
type Report struct {
	Outcome   Outcome
	NewPosts  int
	Queued    int
	Downloads download.Stats
	Path      string
	Duration  time.Duration
}

// Engine archives one thread. It is not safe for concurrent use; run one
// engine per thread.
type Engine struct {
	url      string
	match    thread.Match
	mode     MergeMode
	fetcher  fetch.Fetcher
	drainer  *download.Drainer
	reporter *progress.Reporter
	logger   *zap.Logger

	selection *board.Selection
	queue     *download.Queue
	localizer *localize.Localizer

	saveDir  string
	savePath string

	doc              *document.Document
	adapter          board.Adapter
	downloadedBefore bool
	lastModified     time.Time
}

// New resolves threadURL and builds its engine. A URL without a scheme is
// taken to be https.
func New(threadURL string, opts Options, deps Deps) (*Engine, error) {
	threadURL = withScheme(threadURL)
	match, err := thread.Resolve(threadURL)
	if err != nil {
		return nil, err
	}
	if deps.Fetcher == nil {
		return nil, errors.New("archive engine needs a fetcher")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := opts.Merge
	if mode == "" {
		mode = MergeAuto
	}

	e := &Engine{
		url:       threadURL,
		match:     match,
		mode:      mode,
		fetcher:   deps.Fetcher,
		reporter:  deps.Reporter,
		logger:    logger.With(zap.String("thread", match.Identity.String())),
		selection: board.NewSelection(),
		queue:     download.NewQueue(),
	}
	e.drainer = download.NewDrainer(deps.Fetcher, deps.Limiter, deps.Reporter, e.logger)

	label := opts.BoardType
	if label == "" {
		label = match.BoardType
	}
	if label != "" {
		if err := e.setBoardType(label); err != nil {
			return nil, err
		}
	}

	e.localizer, err = localize.New(localize.Options{
		ThreadURL:  threadURL,
		Patterns:   e.selection.Type().LinkPatterns,
		Extensions: opts.Extensions,
		Queue:      e.queue,
		Logger:     e.logger,
		OnLink: func(abs, _ string) {
			e.logger.Debug("link found", zap.String("url", abs))
		},
	})
	if err != nil {
		return nil, err
	}

	if opts.Root != "" {
		if err := e.SetDestination(opts.Root, opts.Filename, opts.NoSubfolder); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Identity returns the resolved thread identity.
func (e *Engine) Identity() thread.Identity {
	return e.match.Identity
}

// URL returns the thread URL.
func (e *Engine) URL() string {
	return e.url
}

// BoardType returns the board-type label, or "" while it is unknown.
func (e *Engine) BoardType() string {
	return e.selection.Type().Label
}

// SavePath returns the artifact path, or "" before a destination is set.
func (e *Engine) SavePath() string {
	return e.savePath
}

// SetDestination picks the directory and file name of the artifact and
// creates the directory.
func (e *Engine) SetDestination(root, filename string, noSubfolder bool) error {
	if root == "" {
		return ErrNoDestination
	}
	dir := root
	if !noSubfolder {
		id := e.match.Identity
		dir = filepath.Join(root, id.Site, id.Board, id.ThreadID)
	}
	if filename == "" {
		filename = e.match.Identity.ThreadID + ".html"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination %s: %w", dir, err)
	}
	e.saveDir = dir
	e.savePath = filepath.Join(dir, filename)
	e.localizer.SetSaveDir(dir)
	return nil
}

func (e *Engine) setBoardType(label string) error {
	if err := e.selection.Set(label); err != nil {
		return err
	}
	if e.localizer != nil {
		e.localizer.SetPatterns(e.selection.Type().LinkPatterns)
	}
	e.reporter.Messagef("Using board type '%s'.", label)
	return nil
}

func (e *Engine) mergeEnabled() bool {
	switch e.mode {
	case MergeOn:
		return true
	case MergeOff:
		return false
	default:
		return e.selection.Type().Merge
	}
}

// Check runs one cycle. force drops the conditional-fetch header. The
// recognised outcomes come back in Report; errors are transient fetch
// failures, ErrCancelled, or fatal conditions such as
// merge.ErrInconsistent.
func (e *Engine) Check(ctx context.Context, force bool) (Report, error) {
	if e.savePath == "" {
		return Report{}, ErrNoDestination
	}
	if err := ctx.Err(); err != nil {
		return Report{}, cancelled(err)
	}

	start := time.Now()
	e.reporter.Emit(progress.Event{Stage: progress.StageCycleStart, URL: e.url})
	report, err := e.check(ctx, force)
	report.Duration = time.Since(start)
	if err != nil {
		e.reporter.Emit(progress.Event{
			Stage:   progress.StageCycleError,
			URL:     e.url,
			Message: err.Error(),
			Dur:     report.Duration,
		})
		return report, err
	}
	e.reporter.Emit(progress.Event{
		Stage:  progress.StageCycleDone,
		URL:    e.url,
		Result: report.Outcome.String(),
		Posts:  report.NewPosts,
		Dur:    report.Duration,
	})
	return report, nil
}

func (e *Engine) check(ctx context.Context, force bool) (Report, error) {
	originalPath := e.savePath + originalSuffix
	tmpPath := e.savePath + tmpSuffix

	if !e.downloadedBefore {
		if err := e.loadSaved(originalPath); err != nil {
			return Report{}, err
		}
	}

	since := e.lastModified
	if force {
		since = time.Time{}
	}
	resp, err := e.fetcher.Fetch(ctx, fetch.Request{
		URL:         e.url,
		Destination: tmpPath,
		Headers:     fetch.IfModifiedSince(since),
		Progress:    e.reporter.DownloadProgress(e.url),
	})
	switch {
	case ctx.Err() != nil:
		return Report{}, cancelled(ctx.Err())
	case errors.Is(err, fetch.ErrNotModified):
		e.reporter.Messagef("Thread already up to date [%s]", e.url)
		return Report{Outcome: OutcomeNotModified, Path: e.savePath}, nil
	case errors.Is(err, fetch.ErrNotFound):
		e.reporter.Messagef("Thread not found [%s]", e.url)
		return Report{Outcome: OutcomeNotFound, Path: e.savePath}, nil
	case err != nil:
		return Report{}, err
	}

	fresh, err := readDocument(tmpPath)
	if err != nil {
		return Report{}, err
	}
	if !e.selection.IsSet() && !e.downloadedBefore {
		if label := board.Identify(fresh); label != "" {
			if err := e.setBoardType(label); err != nil {
				return Report{}, err
			}
		}
	}

	bt := e.selection.Type()
	artifact, adapter, scope, newPosts, err := e.integrate(fresh, bt)
	if err != nil {
		return Report{}, err
	}

	stats := e.localizer.Localize(scope)
	bt.Hooks.ProcessNewPosts(scope)

	downloads, err := e.drainer.Drain(ctx, e.queue)
	if err != nil {
		if ctx.Err() != nil {
			return Report{}, cancelled(ctx.Err())
		}
		return Report{}, err
	}

	if err := saveArtifact(artifact, e.savePath); err != nil {
		return Report{}, err
	}
	if err := os.Rename(tmpPath, originalPath); err != nil {
		return Report{}, fmt.Errorf("rename %s: %w", tmpPath, err)
	}

	e.doc = artifact
	e.adapter = adapter
	e.downloadedBefore = true
	e.lastModified = resp.LastModified
	e.reporter.Messagef("Thread [%s] downloaded to [%s]", e.url, e.savePath)

	return Report{
		Outcome:   OutcomeUpdated,
		NewPosts:  newPosts,
		Queued:    stats.Queued,
		Downloads: downloads,
		Path:      e.savePath,
	}, nil
}

// loadSaved picks up state left by an earlier run: the conditional-fetch
// time from the raw copy's mtime and, when merging, the saved artifact.
func (e *Engine) loadSaved(originalPath string) error {
	if info, err := os.Stat(originalPath); err == nil {
		e.lastModified = info.ModTime()
	}
	if !e.mergeEnabled() || e.doc != nil {
		return nil
	}
	if _, err := os.Stat(e.savePath); err != nil {
		return nil
	}
	saved, err := readDocument(e.savePath)
	if err != nil {
		return err
	}
	e.doc = saved
	e.adapter = e.selection.Type().NewAdapter(saved)
	e.downloadedBefore = true
	e.logger.Info("loaded saved artifact", zap.String("path", e.savePath))
	return nil
}

// integrate folds the fresh snapshot into the artifact. It returns the
// document to save, its adapter, the selection to localize, and the number of
// new posts.
func (e *Engine) integrate(fresh *document.Document, bt board.Type) (*document.Document, board.Adapter, *goquery.Selection, int, error) {
	if e.mergeEnabled() && e.doc != nil {
		res, err := merge.Merge(e.adapter, bt.NewAdapter(fresh))
		if err != nil {
			return nil, nil, nil, 0, fmt.Errorf("merge %s: %w", e.url, err)
		}
		e.reporter.Messagef("%d new posts merged.", res.Delta.Length())
		return e.doc, e.adapter, res.Delta, res.Delta.Length(), nil
	}

	bt.Hooks.ProcessDocument(fresh)
	adapter := bt.NewAdapter(fresh)
	count := 0
	if posts, err := adapter.Posts(); err == nil {
		count = posts.Len()
	}
	return fresh, adapter, fresh.Selection(), count, nil
}

func withScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case !strings.Contains(raw, "://"):
		return "https://" + raw
	}
	return raw
}

func readDocument(path string) (*document.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	doc, err := document.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// saveArtifact serialises doc next to path and renames it into place, so a
// failed write never leaves a truncated artifact behind.
func saveArtifact(doc *document.Document, path string) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if err := doc.Render(f); err != nil {
		return fmt.Errorf("render artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod artifact: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}
