// Package thread recognises discussion-thread URLs and derives the identity
// that determines where a thread is archived on disk.
package thread

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrUnsupportedSite is returned when a URL matches none of the known shapes.
var ErrUnsupportedSite = errors.New("unsupported site")

// Identity names one archived thread. It is fixed for the lifetime of an engine.
type Identity struct {
	Site     string `json:"site"`
	Board    string `json:"board"`
	ThreadID string `json:"thread_id"`
}

// String renders the identity as site/board/thread_id.
func (id Identity) String() string {
	return id.Site + "/" + id.Board + "/" + id.ThreadID
}

// Match is the result of resolving a thread URL.
type Match struct {
	Identity Identity
	// Shape names the URL shape that matched.
	Shape string
	// BoardType is the board-type label implied by a first-party host, or "".
	BoardType string
}

type shape struct {
	name    string
	pattern *regexp.Regexp
}

type firstParty struct {
	host      string
	boardType string
	shape     shape
}

// First-party hosts are matched by exact host before any generic shape is tried.
var firstPartyHosts = []firstParty{
	{
		host:      "boards.4chan.org",
		boardType: "4chan",
		shape: shape{
			name:    "4chan",
			pattern: regexp.MustCompile(`^(?:https?://)?(boards\.4chan\.org)/(\w+)/(?:res|thread)/(\d+)`),
		},
	},
	{
		host:      "mlpchan.net",
		boardType: "mlpchan",
		shape: shape{
			name:    "mlpchan",
			pattern: regexp.MustCompile(`^(?:https?://)?(mlpchan\.net)/(\w+)/res/(\d+)`),
		},
	},
}

// Generic board-software shapes, most specific first.
var genericShapes = []shape{
	{name: "res", pattern: regexp.MustCompile(`^(?:https?://)?([\w.]+)/(\w+)/res/(\d+)`)},
	{name: "thread", pattern: regexp.MustCompile(`^(?:https?://)?([\w.]+)/(\w+)/thread/S?(\d+)`)},
	{name: "chan-res", pattern: regexp.MustCompile(`^(?:https?://)?([\w.]+)/chan/(\w+)/res/(\d+)`)},
	{name: "numeric", pattern: regexp.MustCompile(`^(?:https?://)?([\w.]+)/(\w+)/(\d+)`)},
	{name: "nested-res", pattern: regexp.MustCompile(`^(?:https?://)?([^/]+)(?:/.+?)?/(\w+)/res/(\d+)`)},
}

// Resolve classifies rawURL and extracts its thread identity. First-party
// hosts take precedence over the generic shapes because the generic shapes
// are loose enough to match first-party URLs incorrectly.
func Resolve(rawURL string) (Match, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return Match{}, fmt.Errorf("%w: empty url", ErrUnsupportedSite)
	}

	if host := hostOf(raw); host != "" {
		for _, fp := range firstPartyHosts {
			if !strings.EqualFold(fp.host, host) {
				continue
			}
			if id, ok := apply(fp.shape, raw); ok {
				return Match{Identity: id, Shape: fp.shape.name, BoardType: fp.boardType}, nil
			}
		}
	}

	for _, s := range genericShapes {
		if id, ok := apply(s, raw); ok {
			return Match{Identity: id, Shape: s.name}, nil
		}
	}
	return Match{}, fmt.Errorf("%w: %s", ErrUnsupportedSite, raw)
}

func apply(s shape, raw string) (Identity, bool) {
	m := s.pattern.FindStringSubmatch(raw)
	if m == nil {
		return Identity{}, false
	}
	return Identity{Site: m[1], Board: m[2], ThreadID: m[3]}, true
}

func hostOf(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
