// Package probe implements the cheap fetch tier: a plain HTTP GET through
// gocolly, presenting the session's fingerprint and proxy. Pages that need
// client-side rendering are promoted to the headless tier by the caller.
package probe

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"mpharvester/internal/harvest"
)

// Config controls collector behavior.
type Config struct {
	// UserAgent is the fallback identity when a request carries no session.
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps response bodies; 0 keeps colly's default.
	MaxBodyBytes int
}

// Fetcher implements harvest.Fetcher with the Colly collector.
type Fetcher struct {
	cfg   Config
	base  *http.Transport
	clock harvest.Clock
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a probe Fetcher.
func New(cfg Config, clock harvest.Clock) *Fetcher {
	return &Fetcher{
		cfg:   cfg,
		base:  newHTTPTransport(),
		clock: clock,
	}
}

// newCollector builds a collector for one fetch. Collectors are not
// shared: colly clones share one HTTP backend, which would leak one
// session's proxy and cookies into another under concurrent fetches.
func (f *Fetcher) newCollector() *colly.Collector {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	// Blocked and gone pages still carry the markers the detector reads,
	// so non-2xx responses must come back as pages, not errors.
	c.ParseHTTPErrorResponse = true
	if f.cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = f.cfg.MaxBodyBytes
	}
	return c
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.Page, error) {
	var (
		page     harvest.Page
		fetchErr error
	)
	start := f.clock.Now()
	collector := f.buildCollector(request, start, &page, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL); err != nil {
		return harvest.Page{}, err
	}
	if fetchErr != nil {
		return harvest.Page{}, harvest.WrapTransient("probe fetch", fetchErr)
	}
	return page, nil
}

func (f *Fetcher) buildCollector(
	request harvest.FetchRequest,
	start time.Time,
	page *harvest.Page,
	fetchErr *error,
) *colly.Collector {
	collector := f.newCollector()
	collector.UserAgent = f.cfg.UserAgent
	if request.Session != nil && request.Session.Fingerprint.UserAgent != "" {
		collector.UserAgent = request.Session.Fingerprint.UserAgent
	}

	timeout := request.Timeout
	if timeout == 0 {
		timeout = f.cfg.Timeout
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transportFor(request.Session))

	page.URL = request.URL
	page.Mode = harvest.FetchProbe
	if request.Session != nil {
		page.SessionID = request.Session.ContextID
		page.ProxyID = request.Session.ProxyID
	}

	f.configureCollectorHooks(collector, request, start, page, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request harvest.FetchRequest,
	start time.Time,
	page *harvest.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if request.Session != nil {
			if lang := acceptLanguage(request.Session.Fingerprint.Locale); lang != "" {
				r.Headers.Set("Accept-Language", lang)
			}
		}
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*page = harvest.Page{
			URL:        request.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Mode:       harvest.FetchProbe,
			FetchedAt:  start,
			Duration:   f.clock.Now().Sub(start),
			SessionID:  page.SessionID,
			ProxyID:    page.ProxyID,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return harvest.WrapTransient("probe visit", err)
		}
		return nil
	}
}

// transportFor clones the pooled base transport, pointing it at the
// session's proxy when one is assigned.
func (f *Fetcher) transportFor(session *harvest.SessionHandle) *http.Transport {
	transport := f.base.Clone()
	if session == nil || session.ProxyURL == "" {
		return transport
	}
	proxyURL, err := url.Parse(session.ProxyURL)
	if err != nil {
		return transport
	}
	transport.Proxy = http.ProxyURL(proxyURL)
	return transport
}

// acceptLanguage turns a fingerprint locale like zh-CN into an
// Accept-Language value with an English fallback.
func acceptLanguage(locale string) string {
	if locale == "" {
		return ""
	}
	return locale + "," + "en;q=0.8"
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
