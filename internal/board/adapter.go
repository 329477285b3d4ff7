package board

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/thread-archiver/internal/document"
)

const (
	genericThreadSelector = "div.thread"
	genericPostSelector   = "div.postContainer"
	alternatePostSelector = "div.post"
)

// threadLocator finds the element holding the posts. An empty selection means
// the page has no thread.
type threadLocator func(doc *document.Document, postSelector string) *goquery.Selection

// postAdapter is the shared extraction logic. Variants differ only in their
// post selector, how the thread root is found, and whether a separator
// element goes between appended posts.
type postAdapter struct {
	doc          *document.Document
	postSelector string
	locate       threadLocator
	separator    atom.Atom

	root  *goquery.Selection
	posts *PostSet
}

// NewGeneric builds the adapter for boards whose posts are div.postContainer
// children of div.thread.
func NewGeneric(doc *document.Document) Adapter {
	return &postAdapter{
		doc:          doc,
		postSelector: genericPostSelector,
		locate:       locateByThreadClass,
	}
}

// NewAlternate builds the adapter for Tinyboard-style markup: posts are
// div.post elements, the thread root is the first post's parent, and
// appended posts are separated by a <br>.
func NewAlternate(doc *document.Document) Adapter {
	return &postAdapter{
		doc:          doc,
		postSelector: alternatePostSelector,
		locate:       locateByFirstPostParent,
		separator:    atom.Br,
	}
}

func locateByThreadClass(doc *document.Document, _ string) *goquery.Selection {
	return doc.Find(genericThreadSelector).First()
}

func locateByFirstPostParent(doc *document.Document, postSelector string) *goquery.Selection {
	return doc.Find(postSelector).First().Parent()
}

func (a *postAdapter) ThreadRoot() (*goquery.Selection, error) {
	if a.root != nil {
		return a.root, nil
	}
	root := a.locate(a.doc, a.postSelector)
	if root.Length() == 0 {
		return nil, ErrNoThread
	}
	a.root = root
	return root, nil
}

func (a *postAdapter) Posts() (*PostSet, error) {
	if a.posts != nil {
		return a.posts, nil
	}
	root, err := a.ThreadRoot()
	if err != nil {
		return nil, err
	}
	set := NewPostSet()
	root.ChildrenFiltered(a.postSelector).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		set.Append(id, s)
	})
	a.posts = set
	return set, nil
}

func (a *postAdapter) Post(id string) (*goquery.Selection, bool) {
	set, err := a.Posts()
	if err != nil {
		return nil, false
	}
	return set.Get(id)
}

func (a *postAdapter) PostsAfter(id string) (*goquery.Selection, error) {
	post, ok := a.Post(id)
	if !ok {
		return nil, fmt.Errorf("post %q not found", id)
	}
	return post.NextAllFiltered(a.postSelector), nil
}

func (a *postAdapter) InsertPostsAfter(id string, posts *goquery.Selection) error {
	anchor, ok := a.Post(id)
	if !ok {
		return fmt.Errorf("post %q not found", id)
	}
	if posts.Length() == 0 {
		return nil
	}

	nodes := make([]*html.Node, 0, 2*posts.Length())
	for _, n := range posts.Nodes {
		if a.separator != 0 {
			nodes = append(nodes, &html.Node{
				Type:     html.ElementNode,
				Data:     a.separator.String(),
				DataAtom: a.separator,
			})
		}
		nodes = append(nodes, n)
	}
	anchor.AfterNodes(nodes...)

	var (
		ids   []string
		moved []*goquery.Selection
	)
	a.root.ChildrenFiltered(a.postSelector).FilterNodes(posts.Nodes...).Each(func(_ int, s *goquery.Selection) {
		pid, _ := s.Attr("id")
		ids = append(ids, pid)
		moved = append(moved, s)
	})
	a.posts.InsertAfter(id, ids, moved)
	return nil
}
