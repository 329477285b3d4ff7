// Package document wraps a goquery document as one mutable thread snapshot:
// parse it, query and edit it through goquery selections, and render it back.
package document

import (
	"bytes"
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is one parsed snapshot of a thread page.
type Document struct {
	doc *goquery.Document
}

// Parse builds a Document from markup.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return &Document{doc: doc}, nil
}

// ParseBytes is a convenience wrapper around Parse.
func ParseBytes(markup []byte) (*Document, error) {
	return Parse(bytes.NewReader(markup))
}

// Selection is the whole document as a goquery selection.
func (d *Document) Selection() *goquery.Selection {
	return d.doc.Selection
}

// Find returns every element matching the CSS selector.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Render serialises the whole document.
func (d *Document) Render(w io.Writer) error {
	if err := html.Render(w, d.doc.Nodes[0]); err != nil {
		return fmt.Errorf("render markup: %w", err)
	}
	return nil
}

// Bytes returns the serialised document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// OuterHTML serialises the first element of sel.
func OuterHTML(sel *goquery.Selection) (string, error) {
	out, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", fmt.Errorf("render selection: %w", err)
	}
	return out, nil
}
