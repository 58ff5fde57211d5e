// Package headless implements the rendered fetch tier: it drives the
// browser session attached to the request through chromedp, waits for
// client-side content, and returns the settled DOM. Concurrency is
// bounded upstream by the session pool, one in-flight fetch per session.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"mpharvester/internal/harvest"
)

// Config controls the behavior of the rendered fetcher.
type Config struct {
	NavigationTimeout time.Duration
	// ScrollPause is the settle time after each scroll round.
	ScrollPause time.Duration
	// SettleDelay runs after the wait selector appears, letting late
	// scripts populate embedded payloads.
	SettleDelay time.Duration
}

// Fetcher implements harvest.Fetcher using chromedp over the browser
// session carried by each request.
type Fetcher struct {
	cfg   Config
	clock harvest.Clock
}

// NewChromedp creates a rendered fetcher backed by chromedp.
func NewChromedp(cfg Config, clock harvest.Clock) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = 2 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	return &Fetcher{cfg: cfg, clock: clock}
}

// Fetch renders the URL in the request's browser session and returns the
// settled DOM.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.Page, error) {
	if request.Session == nil {
		return harvest.Page{}, errors.New("rendered fetch requires a session")
	}
	alloc, ok := request.Session.AllocatorCtx.(context.Context)
	if !ok || alloc == nil {
		return harvest.Page{}, errors.New("session carries no browser allocator")
	}

	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.NavigationTimeout
	}

	taskCtx, taskCancel := chromedp.NewContext(alloc)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := f.clock.Now()
	html, finalURL, err := f.runRendered(taskCtx, request)
	if err != nil {
		if ctx.Err() != nil {
			return harvest.Page{}, ctx.Err()
		}
		return harvest.Page{}, harvest.WrapTransient("rendered fetch", err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}

	return harvest.Page{
		URL:        request.URL,
		FinalURL:   responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Mode:       harvest.FetchRendered,
		FetchedAt:  start,
		Duration:   f.clock.Now().Sub(start),
		SessionID:  request.Session.ContextID,
		ProxyID:    request.Session.ProxyID,
	}, nil
}

func (f *Fetcher) runRendered(ctx context.Context, request harvest.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	waitSelector := request.WaitSelector
	if waitSelector == "" {
		waitSelector = "body"
	}

	actions := []chromedp.Action{
		f.sessionSetupAction(request.Session.Fingerprint),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(waitSelector, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
	}
	if request.ScrollRounds > 0 {
		actions = append(actions, f.scrollAction(request.ScrollRounds))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

// sessionSetupAction aligns the page environment with the session's
// fingerprint before navigation: device metrics, locale and timezone, and
// the stealth script that hides automation markers from page scripts.
func (f *Fetcher) sessionSetupAction(fp harvest.FingerprintProfile) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if fp.Width > 0 && fp.Height > 0 {
			if err := emulation.SetDeviceMetricsOverride(fp.Width, fp.Height, 3, true).Do(ctx); err != nil {
				return fmt.Errorf("set device metrics: %w", err)
			}
			if err := emulation.SetTouchEmulationEnabled(true).Do(ctx); err != nil {
				return fmt.Errorf("enable touch emulation: %w", err)
			}
		}
		if fp.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(fp.Locale).Do(ctx); err != nil {
				return fmt.Errorf("set locale: %w", err)
			}
		}
		if fp.Timezone != "" {
			if err := emulation.SetTimezoneOverride(fp.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript(fp.Locale)).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		return nil
	})
}

// scrollAction performs bounded scroll-to-bottom rounds to trigger lazy
// listings, clicking a load-more control when one appears. It stops early
// after two consecutive rounds with no growth in document height.
func (f *Fetcher) scrollAction(rounds int) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var (
			lastHeight int64
			stalls     int
		)
		for i := 0; i < rounds; i++ {
			if err := chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil).Do(ctx); err != nil {
				return fmt.Errorf("scroll round %d: %w", i+1, err)
			}
			if err := chromedp.Sleep(f.cfg.ScrollPause).Do(ctx); err != nil {
				return err
			}

			var clicked bool
			if err := chromedp.Evaluate(loadMoreScript, &clicked).Do(ctx); err == nil && clicked {
				if err := chromedp.Sleep(f.cfg.ScrollPause).Do(ctx); err != nil {
					return err
				}
			}

			var height int64
			if err := chromedp.Evaluate(`document.body.scrollHeight`, &height).Do(ctx); err != nil {
				return fmt.Errorf("measure height: %w", err)
			}
			if height == lastHeight {
				stalls++
				if stalls >= 2 {
					return nil
				}
			} else {
				stalls = 0
				lastHeight = height
			}
		}
		return nil
	})
}

// loadMoreScript clicks the listing's load-more control if one is
// visible. Text match first, class fallback second.
const loadMoreScript = `(() => {
	const byText = Array.from(document.querySelectorAll('a,button'))
		.find(el => el.textContent && el.textContent.includes('加载更多'));
	const el = byText || document.querySelector('.load-more');
	if (el) { el.click(); return true; }
	return false;
})()`

// stealthScript hides the automation markers page scripts probe for. It
// runs before any page script on every new document in the session.
func stealthScript(locale string) string {
	languages := `'zh-CN', 'zh'`
	if locale != "" && !strings.HasPrefix(locale, "zh") {
		primary := locale
		if i := strings.IndexByte(locale, '-'); i > 0 {
			primary = locale[:i]
		}
		languages = fmt.Sprintf("'%s', '%s'", locale, primary)
	}
	return fmt.Sprintf(`
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => [%s] });
window.chrome = { runtime: {} };
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
	parameters.name === 'notifications' ?
	Promise.resolve({ state: Notification.permission }) :
	originalQuery(parameters)
);`, languages)
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, cloneHeader(m.headers), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// snapshotWithFallbacks fills gaps event capture can leave: the reported
// URL falls back to the browser location then the request URL, a missing
// status reads as 200.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}
