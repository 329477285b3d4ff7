// Package collyfetcher implements fetch.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/corpix/uarand"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/thread-archiver/internal/fetch"
)

const defaultTimeout = 60 * time.Second

// Config controls collector behavior.
type Config struct {
	// UserAgent is sent with every request. Empty picks a random browser
	// agent once per Fetcher.
	UserAgent string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Fetcher implements fetch.Fetcher with one Colly collector cloned per
// request so callbacks never leak between requests.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = uarand.GetRandom()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(0),
		colly.ParseHTTPErrorResponse(),
		colly.UserAgent(cfg.UserAgent),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{cfg: cfg, logger: logger, baseCollector: c}
}

// UserAgent reports the agent string in use.
func (f *Fetcher) UserAgent() string {
	return f.cfg.UserAgent
}

// outcome collects what the collector callbacks observed. resp is set only
// for a 2xx response; status is any status the server answered with.
type outcome struct {
	resp   *colly.Response
	status int
	err    error
}

// Fetch performs a GET and, on success, writes the body to
// req.Destination.
func (f *Fetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error) {
	start := time.Now()
	collector := f.baseCollector.Clone()
	var out outcome
	f.configureCollectorHooks(collector, req, &out)

	runErr := f.runCollector(ctx, collector, req.URL)
	if runErr != nil && ctx.Err() != nil {
		// The visit may still be running; out must not be read.
		return fetch.Response{}, runErr
	}
	if out.resp == nil {
		if out.err == nil {
			out.err = runErr
		}
		return fetch.Response{}, classify(req.URL, out)
	}

	r := out.resp
	headers := http.Header{}
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	result := fetch.Response{
		URL:          r.Request.URL.String(),
		StatusCode:   r.StatusCode,
		Status:       fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		Headers:      headers,
		LastModified: fetch.LastModified(headers),
	}

	declared := fetch.ContentLength(headers)
	if req.Destination == "" {
		if declared >= 0 && int64(len(r.Body)) < declared {
			return fetch.Response{}, fmt.Errorf("GET %s: got %d of %d bytes: %w",
				req.URL, len(r.Body), declared, fetch.ErrIncompleteDownload)
		}
		result.Body = append([]byte(nil), r.Body...)
		result.Bytes = int64(len(r.Body))
	} else {
		n, err := fetch.WriteBody(req.Destination, bytes.NewReader(r.Body), declared, result.LastModified, req.Progress)
		if err != nil {
			return fetch.Response{}, err
		}
		result.Bytes = n
	}
	result.Duration = time.Since(start)
	f.logger.Debug("fetched",
		zap.String("url", req.URL),
		zap.Int("status", r.StatusCode),
		zap.Int64("bytes", result.Bytes),
		zap.Duration("dur", result.Duration))
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, req fetch.Request, out *outcome) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(req.Headers, r)
	})
	// Every status reaches OnResponse; OnError sees transport failures only.
	hooks.OnResponse(func(r *colly.Response) {
		out.status = r.StatusCode
		if r.StatusCode >= 200 && r.StatusCode <= 299 {
			out.resp = r
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		out.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// classify maps what the collector saw onto the fetch error taxonomy.
func classify(url string, out outcome) error {
	if out.status != 0 {
		return fetch.StatusError(url, out.status)
	}
	err := out.err
	if err == nil {
		err = fmt.Errorf("no response")
	}
	return &fetch.HTTPError{URL: url, Err: err}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
