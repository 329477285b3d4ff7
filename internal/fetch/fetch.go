// Package fetch defines the HTTP-fetch contract the archive engine and the
// download drainer depend on, the error taxonomy for fetch outcomes, and the
// helper that streams a response body to disk.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrNotModified reports an HTTP 304: the resource has not changed.
	ErrNotModified = errors.New("not modified")
	// ErrNotFound reports an HTTP 404.
	ErrNotFound = errors.New("not found")
	// ErrIncompleteDownload reports a body shorter than its declared length.
	ErrIncompleteDownload = errors.New("incomplete download")
)

// HTTPError describes a failed GET. Code is zero for transport failures.
type HTTPError struct {
	URL    string
	Code   int
	Reason string
	Err    error
}

func (e *HTTPError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("GET %s: HTTP %d %s", e.URL, e.Code, e.Reason)
}

// Unwrap exposes the transport error, if any.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Is lets callers test a status with errors.Is(err, ErrNotModified) or
// errors.Is(err, ErrNotFound).
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotModified:
		return e.Code == http.StatusNotModified
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	}
	return false
}

// StatusError builds the HTTPError for a non-success status code.
func StatusError(url string, code int) *HTTPError {
	return &HTTPError{URL: url, Code: code, Reason: http.StatusText(code)}
}

// ProgressFunc receives the number of bytes written so far and the declared
// total, or -1 when the server did not declare one.
type ProgressFunc func(read, total int64)

// Request is one GET.
type Request struct {
	URL string
	// Destination is the file the body is written to. When empty the body is
	// returned in Response.Body instead.
	Destination string
	Headers     http.Header
	Progress    ProgressFunc
}

// Response summarises a successful GET.
type Response struct {
	URL          string
	StatusCode   int
	Status       string
	Headers      http.Header
	Body         []byte
	Bytes        int64
	LastModified time.Time
	Duration     time.Duration
}

// Fetcher performs GET requests. Implementations return an error matching
// ErrNotModified or ErrNotFound for those statuses, an *HTTPError for every
// other failure, and ErrIncompleteDownload for a short body.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) (Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// ContentLength returns the declared body length or -1.
func ContentLength(h http.Header) int64 {
	raw := h.Get("Content-Length")
	if raw == "" {
		return -1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// LastModified parses the Last-Modified header, returning the zero time when
// it is absent or malformed.
func LastModified(h http.Header) time.Time {
	raw := h.Get("Last-Modified")
	if raw == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IfModifiedSince returns headers for a conditional GET against t.
func IfModifiedSince(t time.Time) http.Header {
	h := http.Header{}
	if !t.IsZero() {
		h.Set("If-Modified-Since", t.UTC().Format(http.TimeFormat))
	}
	return h
}
