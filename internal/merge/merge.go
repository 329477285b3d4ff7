// Package merge reconciles a previously saved thread snapshot with a freshly
// fetched one, splicing genuinely new posts into the saved copy.
package merge

import (
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/thread-archiver/internal/board"
)

// ErrInconsistent means the two snapshots share no post at all. There is no
// safe merge point, so the saved copy is left untouched.
var ErrInconsistent = errors.New("no common post between saved and fetched thread")

// Result describes one merge.
type Result struct {
	// AnchorID is the newest saved post that still exists upstream.
	AnchorID string
	// Delta holds the newly merged posts, now owned by the saved document.
	// It is empty when nothing was merged.
	Delta *goquery.Selection
}

// Merge splices the posts of fetched that follow the newest shared post into
// saved, directly after that shared post. The newest saved post may have been
// deleted upstream, so the walk moves backwards from the newest saved post
// until it finds one the fetched snapshot still carries.
func Merge(saved, fetched board.Adapter) (Result, error) {
	oldPosts, err := saved.Posts()
	if err != nil {
		return Result{}, fmt.Errorf("saved posts: %w", err)
	}
	newPosts, err := fetched.Posts()
	if err != nil {
		return Result{}, fmt.Errorf("fetched posts: %w", err)
	}

	anchor, err := findAnchor(oldPosts, newPosts)
	if err != nil {
		return Result{}, err
	}

	delta, err := fetched.PostsAfter(anchor)
	if err != nil {
		return Result{}, fmt.Errorf("posts after %q: %w", anchor, err)
	}
	if delta.Length() == 0 {
		return Result{AnchorID: anchor, Delta: delta}, nil
	}
	if err := saved.InsertPostsAfter(anchor, delta); err != nil {
		return Result{}, fmt.Errorf("insert after %q: %w", anchor, err)
	}
	return Result{AnchorID: anchor, Delta: delta}, nil
}

func findAnchor(oldPosts, newPosts *board.PostSet) (string, error) {
	walk := oldPosts.Clone()
	for {
		id, _, ok := walk.PopNewest()
		if !ok {
			return "", ErrInconsistent
		}
		if newPosts.Has(id) {
			return id, nil
		}
	}
}
