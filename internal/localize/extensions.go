package localize

import (
	"path"
	"sort"
	"strings"
)

// DefaultExtensions are the asset types downloaded without configuration:
// icons, stylesheets, and common raster image and video formats.
var DefaultExtensions = []string{".ico", ".css", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".webm", ".mp4"}

// ExtensionSet is the allow-list of downloadable file extensions.
type ExtensionSet map[string]struct{}

// NewExtensionSet returns DefaultExtensions plus extra. Entries may omit the
// leading dot and may themselves be ";" or "," separated lists.
func NewExtensionSet(extra ...string) ExtensionSet {
	s := make(ExtensionSet, len(DefaultExtensions)+len(extra))
	for _, ext := range DefaultExtensions {
		s[ext] = struct{}{}
	}
	for _, entry := range extra {
		for _, ext := range strings.FieldsFunc(entry, func(r rune) bool { return r == ';' || r == ',' }) {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s[ext] = struct{}{}
		}
	}
	return s
}

// Allows reports whether the final segment of urlPath carries an allowed
// extension. Matching ignores case.
func (s ExtensionSet) Allows(urlPath string) bool {
	ext := strings.ToLower(path.Ext(urlPath))
	if ext == "" {
		return false
	}
	_, ok := s[ext]
	return ok
}

// List returns the extensions in sorted order.
func (s ExtensionSet) List() []string {
	out := make([]string, 0, len(s))
	for ext := range s {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
