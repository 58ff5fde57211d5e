// Package proxy supplies outbound network identities and tracks their
// health. A proxy degrades on its first failure, is blocked after a run of
// consecutive failures, and returns to service only after a cooldown and
// one successful probe.
package proxy

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mpharvester/internal/harvest"
)

// Config tunes the pool's health machine and probe loop.
type Config struct {
	// MaxFailures is the consecutive-failure count that blocks a proxy.
	MaxFailures int
	// Cooldown is how long a blocked proxy rests before it is probed.
	Cooldown time.Duration
	// ProbeURL is fetched through a resting proxy to verify recovery.
	ProbeURL string
	// ProbeTimeout bounds one probe request.
	ProbeTimeout time.Duration
	// ProbeInterval is how often the rehabilitation loop scans for
	// blocked proxies whose cooldown elapsed. Defaults to Cooldown/2,
	// clamped to [1s, 30s].
	ProbeInterval time.Duration
}

func (c *Config) fill() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = c.Cooldown / 2
		if c.ProbeInterval < time.Second {
			c.ProbeInterval = time.Second
		}
		if c.ProbeInterval > 30*time.Second {
			c.ProbeInterval = 30 * time.Second
		}
	}
}

type entry struct {
	rec      harvest.ProxyRecord
	lastUsed time.Time
}

// Pool rotates proxies across sessions. It is shared by all jobs; every
// method is safe for concurrent use.
type Pool struct {
	logger *zap.Logger
	clock  harvest.Clock
	cfg    Config

	mu      sync.Mutex
	entries []*entry

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a pool over the given proxies and starts the rehabilitation
// loop. Records are adopted as healthy unless already marked otherwise.
func New(logger *zap.Logger, clock harvest.Clock, cfg Config, records []harvest.ProxyRecord) *Pool {
	cfg.fill()
	p := &Pool{
		logger: logger,
		clock:  clock,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
	for _, rec := range records {
		if rec.Health == "" {
			rec.Health = harvest.ProxyHealthy
		}
		p.entries = append(p.entries, &entry{rec: rec})
	}
	p.publishGauges()
	p.wg.Add(1)
	go p.rehabLoop()
	return p
}

// Select returns a usable proxy, preferring healthy identities over
// degraded ones and the least recently used within a tier. It returns
// ErrProxyExhausted when every proxy is blocked or the pool is empty.
func (p *Pool) Select() (*harvest.ProxyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pick := p.pickLocked(harvest.ProxyHealthy)
	if pick == nil {
		pick = p.pickLocked(harvest.ProxyDegraded)
	}
	if pick == nil {
		return nil, harvest.ErrProxyExhausted
	}
	pick.lastUsed = p.clock.Now()
	rec := pick.rec
	return &rec, nil
}

func (p *Pool) pickLocked(health harvest.ProxyHealth) *entry {
	var candidates []*entry
	for _, e := range p.entries {
		if e.rec.Health == health {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastUsed.Before(candidates[j].lastUsed)
	})
	return candidates[0]
}

// Report records the outcome of a request that used the proxy. Success
// restores a degraded proxy to healthy; failures degrade and eventually
// block it. A blocked proxy ignores reports until the probe loop clears it.
func (p *Pool) Report(proxyID string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(proxyID)
	if e == nil {
		return
	}
	if success {
		if e.rec.Health != harvest.ProxyBlocked {
			e.rec.Health = harvest.ProxyHealthy
			e.rec.ConsecutiveFailures = 0
		}
		p.publishGaugesLocked()
		return
	}

	e.rec.ConsecutiveFailures++
	e.rec.LastFailureAt = p.clock.Now()
	if e.rec.ConsecutiveFailures >= p.cfg.MaxFailures {
		if e.rec.Health != harvest.ProxyBlocked {
			p.logger.Warn("proxy blocked",
				zap.String("proxy", e.rec.ID),
				zap.Int("consecutive_failures", e.rec.ConsecutiveFailures),
			)
		}
		e.rec.Health = harvest.ProxyBlocked
	} else {
		e.rec.Health = harvest.ProxyDegraded
	}
	p.publishGaugesLocked()
}

// Snapshot returns a copy of every proxy record for status reporting.
func (p *Pool) Snapshot() []harvest.ProxyRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]harvest.ProxyRecord, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.rec)
	}
	return out
}

// Close stops the rehabilitation loop.
func (p *Pool) Close() {
	close(p.done)
	p.wg.Wait()
}

func (p *Pool) findLocked(proxyID string) *entry {
	for _, e := range p.entries {
		if e.rec.ID == proxyID {
			return e
		}
	}
	return nil
}

func (p *Pool) rehabLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.rehabilitate()
		}
	}
}

// rehabilitate probes blocked proxies whose cooldown has elapsed and
// returns the responsive ones to the healthy tier.
func (p *Pool) rehabilitate() {
	now := p.clock.Now()

	p.mu.Lock()
	var due []harvest.ProxyRecord
	for _, e := range p.entries {
		if e.rec.Health == harvest.ProxyBlocked && now.Sub(e.rec.LastFailureAt) >= p.cfg.Cooldown {
			due = append(due, e.rec)
		}
	}
	p.mu.Unlock()

	for _, rec := range due {
		ok := p.probe(rec)
		p.mu.Lock()
		if e := p.findLocked(rec.ID); e != nil && e.rec.Health == harvest.ProxyBlocked {
			if ok {
				e.rec.Health = harvest.ProxyHealthy
				e.rec.ConsecutiveFailures = 0
				p.logger.Info("proxy recovered", zap.String("proxy", rec.ID))
			} else {
				// Failed probe restarts the cooldown.
				e.rec.LastFailureAt = p.clock.Now()
			}
			p.publishGaugesLocked()
		}
		p.mu.Unlock()
	}
}

func (p *Pool) probe(rec harvest.ProxyRecord) bool {
	if p.cfg.ProbeURL == "" {
		// No probe target configured; cooldown alone clears the block.
		return true
	}
	proxyURL, err := url.Parse(rec.URL())
	if err != nil {
		return false
	}
	client := &http.Client{
		Timeout:   p.cfg.ProbeTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		p.logger.Debug("proxy probe failed", zap.String("proxy", rec.ID), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusBadRequest
}

func (p *Pool) publishGauges() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishGaugesLocked()
}

func (p *Pool) publishGaugesLocked() {
	counts := map[harvest.ProxyHealth]int{}
	for _, e := range p.entries {
		counts[e.rec.Health]++
	}
	for _, health := range []harvest.ProxyHealth{harvest.ProxyHealthy, harvest.ProxyDegraded, harvest.ProxyBlocked} {
		harvest.ProxyState.WithLabelValues(string(health)).Set(float64(counts[health]))
	}
}
