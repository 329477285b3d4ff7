package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `<html><head><link rel="stylesheet" id="stylesheet" href="/s.css"></head>` +
	`<body><div class="thread main"><div class="postContainer" id="p1">one</div>` +
	`<div class="postContainer" id="p2">two</div></div></body></html>`

func TestFindAndEdit(t *testing.T) {
	t.Parallel()

	doc, err := ParseBytes([]byte(sample))
	require.NoError(t, err)

	thread := doc.Find("div.thread").First()
	require.Equal(t, 1, thread.Length())
	assert.Equal(t, 2, thread.ChildrenFiltered("div.postContainer").Length())

	doc.Find("link#stylesheet").Remove()
	assert.Zero(t, doc.Find("link#stylesheet").Length())

	thread.Find("#p2").SetAttr("data-extra", "1")
	out, err := OuterHTML(doc.Find("#p2"))
	require.NoError(t, err)
	assert.Equal(t, `<div class="postContainer" id="p2" data-extra="1">two</div>`, out)
}

func TestSelectionMovesAcrossDocuments(t *testing.T) {
	t.Parallel()

	a, err := ParseBytes([]byte(`<div id="list"><p id="x">x</p><p id="y">y</p></div>`))
	require.NoError(t, err)
	b, err := ParseBytes([]byte(`<div><p id="z">z</p></div>`))
	require.NoError(t, err)

	a.Find("#x").AfterSelection(b.Find("#z"))

	out, err := OuterHTML(a.Find("#list"))
	require.NoError(t, err)
	assert.Equal(t, `<div id="list"><p id="x">x</p><p id="z">z</p><p id="y">y</p></div>`, out)
	assert.Zero(t, b.Find("#z").Length())
}

func TestRenderRoundTripIsStable(t *testing.T) {
	t.Parallel()

	doc, err := ParseBytes([]byte(sample))
	require.NoError(t, err)
	first, err := doc.Bytes()
	require.NoError(t, err)

	again, err := ParseBytes(first)
	require.NoError(t, err)
	second, err := again.Bytes()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.True(t, strings.HasPrefix(string(first), "<html>"))
}
