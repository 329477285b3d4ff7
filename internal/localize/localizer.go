package localize

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/thread-archiver/internal/board"
	"github.com/JakeFAU/thread-archiver/internal/download"
)

// FilesDir is the top-level directory for localized assets.
const FilesDir = "files"

// Queue receives download tasks.
type Queue interface {
	Push(download.Task)
}

// Options configures a Localizer.
type Options struct {
	// ThreadURL is the page the links were found on.
	ThreadURL string
	// SaveDir is the thread's directory; assets land under SaveDir/files.
	SaveDir    string
	Patterns   []board.LinkPattern
	Extensions ExtensionSet
	Registry   *Registry
	Queue      Queue
	Logger     *zap.Logger
	// OnLink is called once per newly registered URL.
	OnLink func(abs, rel string)
}

// Localizer rewrites link-bearing attributes. It never performs network I/O.
type Localizer struct {
	base     *url.URL
	saveDir  string
	patterns []board.LinkPattern
	exts     ExtensionSet
	registry *Registry
	queue    Queue
	logger   *zap.Logger
	onLink   func(abs, rel string)
}

// Stats counts the effect of one Localize call.
type Stats struct {
	Rewritten int
	Queued    int
}

// New builds a Localizer.
func New(opts Options) (*Localizer, error) {
	base, err := url.Parse(opts.ThreadURL)
	if err != nil {
		return nil, fmt.Errorf("parse thread url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("thread url %q is not absolute", opts.ThreadURL)
	}
	if opts.Queue == nil {
		return nil, errors.New("localizer needs a download queue")
	}
	l := &Localizer{
		base:     base,
		saveDir:  opts.SaveDir,
		patterns: opts.Patterns,
		exts:     opts.Extensions,
		registry: opts.Registry,
		queue:    opts.Queue,
		logger:   opts.Logger,
		onLink:   opts.OnLink,
	}
	if l.patterns == nil {
		l.patterns = board.DefaultLinkPatterns
	}
	if l.exts == nil {
		l.exts = NewExtensionSet()
	}
	if l.registry == nil {
		l.registry = NewRegistry()
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l, nil
}

// SetPatterns replaces the link patterns, e.g. once the board type is known.
func (l *Localizer) SetPatterns(patterns []board.LinkPattern) {
	l.patterns = patterns
}

// SetSaveDir changes where assets are written.
func (l *Localizer) SetSaveDir(dir string) {
	l.saveDir = dir
}

// Registry exposes the run-scoped link registry.
func (l *Localizer) Registry() *Registry {
	return l.registry
}

// Localize rewrites the link attributes of every element below sel, in
// document order.
func (l *Localizer) Localize(sel *goquery.Selection) Stats {
	var stats Stats
	if len(l.patterns) == 0 {
		return stats
	}
	sel.Find(l.selector()).Each(func(_ int, el *goquery.Selection) {
		tag := goquery.NodeName(el)
		for _, p := range l.patterns {
			if p.Tag != tag {
				continue
			}
			link, ok := el.Attr(p.Attr)
			if !ok {
				continue
			}
			if rel, ok := l.handle(link, &stats); ok {
				el.SetAttr(p.Attr, rel)
				stats.Rewritten++
			}
		}
	})
	return stats
}

// selector joins the patterns into one group so matches come back in
// document order.
func (l *Localizer) selector() string {
	parts := make([]string, 0, len(l.patterns))
	for _, p := range l.patterns {
		parts = append(parts, p.Tag+"["+p.Attr+"]")
	}
	return strings.Join(parts, ", ")
}

// handle returns the replacement value for link, or false to leave the
// attribute untouched.
func (l *Localizer) handle(link string, stats *Stats) (string, bool) {
	abs, err := l.base.Parse(strings.TrimSpace(link))
	if err != nil {
		l.logger.Debug("link skipped, unparsable", zap.String("link", link), zap.Error(err))
		return "", false
	}
	key := abs.String()
	if rel, ok := l.registry.Lookup(key); ok {
		return rel, true
	}

	if abs.Fragment != "" && abs.Host == l.base.Host && abs.Path == l.base.Path {
		return "#" + abs.Fragment, true
	}
	if abs.Path == "" || !isFileLike(abs.Path) {
		l.logger.Debug("link skipped, no path or not a file", zap.String("link", key))
		return "", false
	}
	if hasEncodedSeparator(abs.EscapedPath()) {
		l.logger.Debug("link skipped, encoded path separator", zap.String("link", key))
		return "", false
	}

	rel := path.Join(FilesDir, abs.Host, strings.TrimPrefix(abs.EscapedPath(), "/"))
	l.registry.Register(key, rel)
	if l.onLink != nil {
		l.onLink(key, rel)
	}

	if !l.exts.Allows(abs.Path) {
		return rel, true
	}
	dest := l.Destination(abs)
	if _, err := os.Stat(dest); err == nil {
		return rel, true
	}
	l.queue.Push(download.Task{URL: key, Destination: dest})
	stats.Queued++
	return rel, true
}

// Destination is the on-disk path an asset URL is saved to. Its segments
// are the unescaped segments of the rewritten link.
func (l *Localizer) Destination(u *url.URL) string {
	clean := path.Clean("/" + u.Path)
	return filepath.Join(l.saveDir, FilesDir, u.Host, filepath.FromSlash(clean))
}

// hasEncodedSeparator reports whether an escaped path hides a separator
// inside one segment. Such a segment would be one name in the rewritten link
// but several directories on disk.
func hasEncodedSeparator(escaped string) bool {
	upper := strings.ToUpper(escaped)
	return strings.Contains(upper, "%2F") || strings.Contains(upper, "%5C")
}

// isFileLike reports whether the last path segment has a dot followed by at
// least one character.
func isFileLike(p string) bool {
	last := p[strings.LastIndex(p, "/")+1:]
	return strings.Contains(strings.TrimRight(last, "."), ".")
}
