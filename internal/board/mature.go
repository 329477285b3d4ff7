package board

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/thread-archiver/internal/document"
)

// MatureSrcAttr carries the real thumbnail of a mature-gated image.
const MatureSrcAttr = "data-mature-src"

// NewMature builds the adapter for boards with mature-content gating. Post
// extraction is identical to Generic.
func NewMature(doc *document.Document) Adapter {
	return NewGeneric(doc)
}

// MatureHooks un-gates mature content so the archive is readable offline.
type MatureHooks struct{}

// ProcessDocument drops the overriding stylesheet and the warning banner and
// forces the gated thread visible.
func (MatureHooks) ProcessDocument(doc *document.Document) {
	doc.Find("link#stylesheet").Remove()
	doc.Find("div.mature_warning").Remove()
	doc.Find("div.mature_thread").SetAttr("style", "display:inline")
}

// ProcessNewPosts swaps gated thumbnails for the real ones.
func (MatureHooks) ProcessNewPosts(posts *goquery.Selection) {
	posts.Find("img.postimg[" + MatureSrcAttr + "]").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr(MatureSrcAttr); ok {
			img.SetAttr("src", src)
		}
	})
}
