// Package ratelimit spaces outbound requests per origin domain. Each domain
// is serialized; the gap between two requests to the same domain is
// randomized within the configured [default, max] window and never drops
// below a robots.txt Crawl-delay once one is known.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"harvester/config"
)

type domainState struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	floor   time.Duration
}

// DomainLimiter hands out per-domain request slots.
type DomainLimiter struct {
	delays *config.DownloadDelayParams

	mu      sync.RWMutex
	domains map[string]*domainState
}

func NewDomainLimiter(delays *config.DownloadDelayParams) *DomainLimiter {
	return &DomainLimiter{
		delays:  delays,
		domains: make(map[string]*domainState),
	}
}

func (l *DomainLimiter) state(domain string) *domainState {
	l.mu.RLock()
	state, ok := l.domains[domain]
	l.mu.RUnlock()
	if ok {
		return state
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.domains[domain]; ok {
		return state
	}
	state = &domainState{
		limiter: rate.NewLimiter(rate.Every(l.delays.DefaultDelayFor(domain)), 1),
	}
	l.domains[domain] = state
	return state
}

// RaiseFloor lifts the minimum delay for a domain, typically from a
// robots.txt Crawl-delay directive. Lower values are ignored.
func (l *DomainLimiter) RaiseFloor(domain string, d time.Duration) {
	state := l.state(domain)

	state.mu.Lock()
	defer state.mu.Unlock()
	if d <= state.floor || d <= l.delays.DefaultDelayFor(domain) {
		return
	}
	state.floor = d
	state.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// Acquire blocks until a request to the domain may be issued and returns a
// release function. The domain stays locked until release is called, so
// requests to one domain never overlap.
func (l *DomainLimiter) Acquire(ctx context.Context, domain string) (func(), error) {
	state := l.state(domain)

	state.mu.Lock()
	if err := state.limiter.Wait(ctx); err != nil {
		state.mu.Unlock()
		return nil, err
	}

	// Jitter on top of the floor, bounded by the per-domain maximum.
	low := l.delays.DefaultDelayFor(domain)
	if state.floor > low {
		low = state.floor
	}
	if high := l.delays.MaxDelayFor(domain); high > low {
		extra := time.Duration(rand.Int63n(int64(high - low)))
		select {
		case <-time.After(extra):
		case <-ctx.Done():
			state.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	return state.mu.Unlock, nil
}
