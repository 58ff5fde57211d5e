// Package session owns browser session lifecycles. Each session pairs a
// client fingerprint with one outbound proxy identity and is retired after
// its request budget or on a detection signal, so no single identity
// accumulates enough traffic to be profiled.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"mpharvester/internal/harvest"
)

// ErrClosed is returned by Acquire after the pool has shut down.
var ErrClosed = errors.New("session pool closed")

// Config sizes the pool and its retirement policy.
type Config struct {
	// MaxSessions caps concurrently live sessions; Acquire suspends the
	// caller when the cap is reached.
	MaxSessions int
	// RequestBudget retires a session after this many fetches. Zero
	// disables budget retirement.
	RequestBudget int
	// Headless controls whether sessions carry a browser allocator.
	// Probe-only deployments run with it off.
	Headless bool
	// Fingerprints are the client identities sessions rotate through.
	// Defaults to the built-in mobile profiles.
	Fingerprints []harvest.FingerprintProfile
}

// Pool hands out session handles to workers. It is shared across jobs and
// safe for concurrent use.
type Pool struct {
	logger  *zap.Logger
	clock   harvest.Clock
	idgen   harvest.IDGenerator
	proxies harvest.ProxyPool
	cfg     Config

	slots chan struct{}
	idle  chan *harvest.SessionHandle

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	nextFP  int
	closed  bool
}

// New builds a session pool. proxies may be nil, in which case sessions
// connect directly.
func New(logger *zap.Logger, clock harvest.Clock, idgen harvest.IDGenerator, proxies harvest.ProxyPool, cfg Config) *Pool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	if len(cfg.Fingerprints) == 0 {
		cfg.Fingerprints = DefaultFingerprints()
	}
	return &Pool{
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
		proxies: proxies,
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.MaxSessions),
		idle:    make(chan *harvest.SessionHandle, cfg.MaxSessions),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Acquire returns a session handle, reusing an idle session when one
// exists and spawning a new one otherwise. It suspends the caller while
// the pool is at capacity.
func (p *Pool) Acquire(ctx context.Context) (*harvest.SessionHandle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	select {
	case h := <-p.idle:
		return h, nil
	default:
	}

	select {
	case h := <-p.idle:
		return h, nil
	case p.slots <- struct{}{}:
		h, err := p.spawn()
		if err != nil {
			<-p.slots
			return nil, err
		}
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns the handle to the pool. The outcome drives proxy health
// reporting and retirement: a detection retires the session immediately,
// and any outcome retires it once the request budget is spent.
func (p *Pool) Release(h *harvest.SessionHandle, outcome harvest.SessionOutcome) {
	if h == nil {
		return
	}
	h.RequestCount++
	h.LastUsedAt = p.clock.Now()

	if p.proxies != nil && h.ProxyID != "" {
		p.proxies.Report(h.ProxyID, outcome == harvest.SessionOK)
	}

	switch {
	case outcome == harvest.SessionDetected:
		p.retire(h, "detection")
	case p.cfg.RequestBudget > 0 && h.RequestCount >= p.cfg.RequestBudget:
		p.retire(h, "budget")
	default:
		select {
		case p.idle <- h:
		default:
			p.retire(h, "surplus")
		}
	}
}

// Close cancels every live browser allocator and rejects further
// acquires. In-flight fetches are aborted.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	for id, cancel := range p.cancels {
		cancel()
		delete(p.cancels, id)
	}
	p.mu.Unlock()

	for {
		select {
		case <-p.idle:
		default:
			return
		}
	}
}

func (p *Pool) spawn() (*harvest.SessionHandle, error) {
	id, err := p.idgen.NewID()
	if err != nil {
		return nil, err
	}

	h := &harvest.SessionHandle{
		ContextID:   id,
		Fingerprint: p.nextFingerprint(),
		LastUsedAt:  p.clock.Now(),
	}

	if p.proxies != nil {
		rec, err := p.proxies.Select()
		if err != nil {
			return nil, err
		}
		h.ProxyID = rec.ID
		h.ProxyURL = rec.URL()
	}

	if p.cfg.Headless {
		allocCtx, cancel := chromedp.NewExecAllocator(context.Background(),
			allocatorOptions(h.Fingerprint, h.ProxyURL)...)
		h.AllocatorCtx = allocCtx

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			cancel()
			return nil, ErrClosed
		}
		p.cancels[id] = cancel
		p.mu.Unlock()
	}

	p.logger.Debug("session spawned",
		zap.String("session", h.ContextID),
		zap.String("proxy", h.ProxyID),
		zap.String("fingerprint", h.Fingerprint.Name),
	)
	return h, nil
}

func (p *Pool) retire(h *harvest.SessionHandle, cause string) {
	p.mu.Lock()
	if cancel, ok := p.cancels[h.ContextID]; ok {
		cancel()
		delete(p.cancels, h.ContextID)
	}
	p.mu.Unlock()

	harvest.SessionsRetired.WithLabelValues(cause).Inc()
	p.logger.Debug("session retired",
		zap.String("session", h.ContextID),
		zap.String("cause", cause),
		zap.Int("requests", h.RequestCount),
	)
	<-p.slots
}

func (p *Pool) nextFingerprint() harvest.FingerprintProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	fp := p.cfg.Fingerprints[p.nextFP%len(p.cfg.Fingerprints)]
	p.nextFP++
	return fp
}

// allocatorOptions builds the browser launch flags for one session:
// mobile identity, suppressed automation fingerprints, and the session's
// proxy as the outbound route.
func allocatorOptions(fp harvest.FingerprintProfile, proxyURL string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", fp.Locale),
		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(int(fp.Width), int(fp.Height)),
	)
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}
	return opts
}
