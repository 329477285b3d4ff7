package board

import "github.com/PuerkitoBio/goquery"

// PostSet is an insertion-ordered map from post identifier to post element.
// Order is document order. Removal happens from the newest end, which the
// merge walk depends on; a plain map would lose that ordering.
type PostSet struct {
	ids   []string
	posts map[string]*goquery.Selection
}

// NewPostSet returns an empty set.
func NewPostSet() *PostSet {
	return &PostSet{posts: make(map[string]*goquery.Selection)}
}

// Len returns the number of posts.
func (s *PostSet) Len() int {
	return len(s.ids)
}

// IDs returns the identifiers in document order.
func (s *PostSet) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Has reports whether id is present.
func (s *PostSet) Has(id string) bool {
	_, ok := s.posts[id]
	return ok
}

// Get returns the post element for id.
func (s *PostSet) Get(id string) (*goquery.Selection, bool) {
	p, ok := s.posts[id]
	return p, ok
}

// Append adds id at the newest end. A duplicate id keeps its first position.
func (s *PostSet) Append(id string, post *goquery.Selection) {
	if _, ok := s.posts[id]; ok {
		return
	}
	s.ids = append(s.ids, id)
	s.posts[id] = post
}

// InsertAfter places the given posts directly after anchor, in order.
// Identifiers already present are skipped.
func (s *PostSet) InsertAfter(anchor string, ids []string, posts []*goquery.Selection) {
	pos := -1
	for i, id := range s.ids {
		if id == anchor {
			pos = i
			break
		}
	}
	if pos < 0 {
		for i, id := range ids {
			s.Append(id, posts[i])
		}
		return
	}
	added := make([]string, 0, len(ids))
	for i, id := range ids {
		if _, ok := s.posts[id]; ok {
			continue
		}
		s.posts[id] = posts[i]
		added = append(added, id)
	}
	rest := append([]string(nil), s.ids[pos+1:]...)
	s.ids = append(append(s.ids[:pos+1], added...), rest...)
}

// PopNewest removes and returns the most recently inserted entry.
func (s *PostSet) PopNewest() (string, *goquery.Selection, bool) {
	if len(s.ids) == 0 {
		return "", nil, false
	}
	last := len(s.ids) - 1
	id := s.ids[last]
	p := s.posts[id]
	s.ids = s.ids[:last]
	delete(s.posts, id)
	return id, p, true
}

// Clone returns an independent copy sharing the post selections.
func (s *PostSet) Clone() *PostSet {
	out := &PostSet{
		ids:   append([]string(nil), s.ids...),
		posts: make(map[string]*goquery.Selection, len(s.posts)),
	}
	for k, v := range s.posts {
		out.posts[k] = v
	}
	return out
}
