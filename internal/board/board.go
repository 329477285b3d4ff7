// Package board implements the site adapters that know where a thread's posts
// live inside a page, how new posts are spliced into a saved copy, and which
// per-site content adjustments apply.
package board

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/thread-archiver/internal/document"
)

// Board-type labels.
const (
	TypeFourChan  = "4chan"
	TypeTinyboard = "tinyboard"
	TypeMLPChan   = "mlpchan"
)

var (
	// ErrUnknownBoardType is returned for an unrecognised label.
	ErrUnknownBoardType = errors.New("unknown board type")
	// ErrBoardTypeSet is returned when a board type is assigned twice.
	ErrBoardTypeSet = errors.New("board type already set")
	// ErrNoThread is returned when the thread root cannot be located.
	ErrNoThread = errors.New("thread root not found")
)

// LinkPattern names a (tag, attribute) pair whose value is an asset link.
type LinkPattern struct {
	Tag  string
	Attr string
}

// DefaultLinkPatterns are the link-bearing attributes common to every site.
var DefaultLinkPatterns = []LinkPattern{
	{Tag: "link", Attr: "href"},
	{Tag: "script", Attr: "src"},
	{Tag: "a", Attr: "href"},
	{Tag: "img", Attr: "src"},
}

// Adapter extracts posts from one Document and splices posts into it.
type Adapter interface {
	// ThreadRoot locates the element holding the posts.
	ThreadRoot() (*goquery.Selection, error)
	// Post returns the post with the given identifier.
	Post(id string) (*goquery.Selection, bool)
	// Posts returns the document's posts in document order. The set is built
	// once per adapter and kept current by InsertPostsAfter.
	Posts() (*PostSet, error)
	// PostsAfter returns the posts strictly after id, in document order.
	PostsAfter(id string) (*goquery.Selection, error)
	// InsertPostsAfter moves posts into this document directly after id.
	InsertPostsAfter(id string, posts *goquery.Selection) error
}

// Hooks are content adjustments a site applies to fetched markup.
type Hooks interface {
	// ProcessDocument runs once per freshly loaded or fetched Document.
	ProcessDocument(doc *document.Document)
	// ProcessNewPosts runs once per batch of newly merged posts.
	ProcessNewPosts(posts *goquery.Selection)
}

// Factory builds an Adapter bound to a Document.
type Factory func(doc *document.Document) Adapter

// Type is the resolved behaviour for a board-type label.
type Type struct {
	Label        string
	Merge        bool
	NewAdapter   Factory
	Hooks        Hooks
	LinkPatterns []LinkPattern
}

// Default is the behaviour used before any board type is known.
func Default() Type {
	return Type{
		NewAdapter:   NewGeneric,
		Hooks:        NoHooks{},
		LinkPatterns: append([]LinkPattern(nil), DefaultLinkPatterns...),
	}
}

// Lookup resolves a board-type label.
func Lookup(label string) (Type, error) {
	t := Default()
	t.Label = strings.ToLower(strings.TrimSpace(label))
	switch t.Label {
	case TypeFourChan:
		t.Merge = true
	case TypeTinyboard:
		t.Merge = true
		t.NewAdapter = NewAlternate
	case TypeMLPChan:
		t.Merge = true
		t.NewAdapter = NewMature
		t.Hooks = MatureHooks{}
		t.LinkPatterns = append(t.LinkPatterns, LinkPattern{Tag: "img", Attr: MatureSrcAttr})
	default:
		return Type{}, fmt.Errorf("%w: %q", ErrUnknownBoardType, label)
	}
	return t, nil
}

// Identify inspects fetched markup for a board-software marker.
func Identify(doc *document.Document) string {
	if doc.Find("a[href='http://tinyboard.org/']").Length() > 0 {
		return TypeTinyboard
	}
	return ""
}

// Selection holds the board type of one engine. It may be set only once.
type Selection struct {
	current Type
	set     bool
}

// NewSelection starts with the default behaviour and no label.
func NewSelection() *Selection {
	return &Selection{current: Default()}
}

// Set assigns the board type. A second call is a programming error.
func (s *Selection) Set(label string) error {
	if s.set {
		return fmt.Errorf("%w: %q, cannot set %q", ErrBoardTypeSet, s.current.Label, label)
	}
	t, err := Lookup(label)
	if err != nil {
		return err
	}
	s.current = t
	s.set = true
	return nil
}

// IsSet reports whether a label has been assigned.
func (s *Selection) IsSet() bool {
	return s.set
}

// Type returns the current behaviour.
func (s *Selection) Type() Type {
	return s.current
}

// NoHooks performs no content adjustment.
type NoHooks struct{}

// ProcessDocument implements Hooks.
func (NoHooks) ProcessDocument(*document.Document) {}

// ProcessNewPosts implements Hooks.
func (NoHooks) ProcessNewPosts(*goquery.Selection) {}
