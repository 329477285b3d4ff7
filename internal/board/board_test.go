package board

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/thread-archiver/internal/document"
)

func genericPage(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="board"><div class="thread" id="t1">`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<div class="postContainer replyContainer" id="%s">%s</div>`, id, id)
	}
	b.WriteString(`</div></div></body></html>`)
	return b.String()
}

func tinyboardPage(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><form><div id="thread_1">`)
	for i, id := range ids {
		if i > 0 {
			b.WriteString(`<br/>`)
		}
		fmt.Fprintf(&b, `<div class="post reply" id="%s">%s</div>`, id, id)
	}
	b.WriteString(`</div></form><a href="http://tinyboard.org/">Tinyboard</a></body></html>`)
	return b.String()
}

func mustParse(t *testing.T, markup string) *document.Document {
	t.Helper()
	doc, err := document.ParseBytes([]byte(markup))
	require.NoError(t, err)
	return doc
}

func ids(sel *goquery.Selection) []string {
	return sel.Map(func(_ int, s *goquery.Selection) string {
		return s.AttrOr("id", "")
	})
}

func TestGenericAdapterPosts(t *testing.T) {
	t.Parallel()

	a := NewGeneric(mustParse(t, genericPage("p1", "p2", "p3")))
	set, err := a.Posts()
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, set.IDs())

	again, err := a.Posts()
	require.NoError(t, err)
	assert.Same(t, set, again)

	after, err := a.PostsAfter("p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p3"}, ids(after))

	_, err = a.PostsAfter("missing")
	require.Error(t, err)
}

func TestGenericAdapterOnlyDirectChildren(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `<html><body><div class="thread">`+
		`<div class="postContainer" id="p1"><div class="postContainer" id="inline">quoted</div></div>`+
		`<hr><div class="postContainer" id="p2">p2</div>`+
		`</div><div class="thread"><div class="postContainer" id="other">x</div></div></body></html>`)
	a := NewGeneric(doc)

	set, err := a.Posts()
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, set.IDs())

	after, err := a.PostsAfter("p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids(after))
}

func TestGenericAdapterNoThread(t *testing.T) {
	t.Parallel()

	a := NewGeneric(mustParse(t, `<html><body><p>nothing</p></body></html>`))
	_, err := a.Posts()
	require.True(t, errors.Is(err, ErrNoThread))
}

func TestGenericInsertPostsAfterAppendsDirectly(t *testing.T) {
	t.Parallel()

	oldDoc := mustParse(t, genericPage("p1", "p2"))
	newDoc := mustParse(t, genericPage("p2", "p3", "p4"))
	oldA := NewGeneric(oldDoc)
	newA := NewGeneric(newDoc)

	delta, err := newA.PostsAfter("p2")
	require.NoError(t, err)
	require.NoError(t, oldA.InsertPostsAfter("p2", delta))

	set, err := oldA.Posts()
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, set.IDs())

	root, err := oldA.ThreadRoot()
	require.NoError(t, err)
	out, err := document.OuterHTML(root)
	require.NoError(t, err)
	assert.NotContains(t, out, "<br/>")
	assert.Less(t, strings.Index(out, `id="p3"`), strings.Index(out, `id="p4"`))
}

func TestAlternateInsertPostsAfterAddsSeparators(t *testing.T) {
	t.Parallel()

	oldDoc := mustParse(t, tinyboardPage("1", "2"))
	newDoc := mustParse(t, tinyboardPage("1", "2", "3", "4"))
	oldA := NewAlternate(oldDoc)
	newA := NewAlternate(newDoc)

	root, err := oldA.ThreadRoot()
	require.NoError(t, err)
	assert.Equal(t, "thread_1", root.AttrOr("id", ""))

	delta, err := newA.PostsAfter("2")
	require.NoError(t, err)
	require.Equal(t, []string{"3", "4"}, ids(delta))
	require.NoError(t, oldA.InsertPostsAfter("2", delta))

	out, err := document.OuterHTML(root)
	require.NoError(t, err)
	assert.Equal(t, `<div id="thread_1">`+
		`<div class="post reply" id="1">1</div><br/>`+
		`<div class="post reply" id="2">2</div><br/>`+
		`<div class="post reply" id="3">3</div><br/>`+
		`<div class="post reply" id="4">4</div></div>`, out)
}

func TestLookupAndSelection(t *testing.T) {
	t.Parallel()

	for _, label := range []string{TypeFourChan, TypeTinyboard, TypeMLPChan} {
		typ, err := Lookup(label)
		require.NoError(t, err, label)
		assert.True(t, typ.Merge, label)
	}
	mlp, err := Lookup(TypeMLPChan)
	require.NoError(t, err)
	assert.Contains(t, mlp.LinkPatterns, LinkPattern{Tag: "img", Attr: MatureSrcAttr})
	assert.NotContains(t, DefaultLinkPatterns, LinkPattern{Tag: "img", Attr: MatureSrcAttr})

	_, err = Lookup("vichan")
	assert.True(t, errors.Is(err, ErrUnknownBoardType))

	sel := NewSelection()
	assert.False(t, sel.IsSet())
	assert.False(t, sel.Type().Merge)
	require.NoError(t, sel.Set(TypeTinyboard))
	assert.True(t, sel.IsSet())
	err = sel.Set(TypeFourChan)
	assert.True(t, errors.Is(err, ErrBoardTypeSet))
	assert.Equal(t, TypeTinyboard, sel.Type().Label)
}

func TestIdentify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, TypeTinyboard, Identify(mustParse(t, tinyboardPage("1"))))
	assert.Empty(t, Identify(mustParse(t, genericPage("1"))))
}

func TestMatureHooks(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `<html><head><link id="stylesheet" rel="stylesheet" href="/bad.css">`+
		`<link rel="stylesheet" href="/good.css"></head><body>`+
		`<div class="mature_warning">18+</div>`+
		`<div class="thread mature_thread" style="display:none">`+
		`<div class="postContainer" id="pc1"><img class="postimg" src="/spoiler.png" data-mature-src="/thumb/1s.jpg">`+
		`<img class="plain" src="/plain.png"></div>`+
		`</div></body></html>`)

	hooks := MatureHooks{}
	hooks.ProcessDocument(doc)
	assert.Zero(t, doc.Find("link#stylesheet").Length())
	assert.Equal(t, 1, doc.Find("link[href='/good.css']").Length())
	assert.Zero(t, doc.Find("div.mature_warning").Length())
	assert.Equal(t, "display:inline", doc.Find("div.mature_thread").AttrOr("style", ""))

	a := NewMature(doc)
	set, err := a.Posts()
	require.NoError(t, err)
	post, ok := set.Get("pc1")
	require.True(t, ok)
	hooks.ProcessNewPosts(post)
	assert.Equal(t, "/thumb/1s.jpg", doc.Find("img").AttrOr("src", ""))
	assert.Equal(t, "/plain.png", doc.Find("img.plain").AttrOr("src", ""))
}
