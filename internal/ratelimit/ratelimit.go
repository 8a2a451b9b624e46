// Package ratelimit throttles how often the orchestrator may even
// request a source IP, layered in front of the IP pool's own
// round-robin cooldown (spec.md SPEC_FULL.md "Supplemented features").
// A global bucket caps total throughput; well-known mailbox providers
// get a tighter per-domain bucket; every other domain gets a default
// bucket created on first use.
//
// Kept close to the teacher's ratelimiter.go (RateLimiterManager),
// generalized from "checks/sec before an email check" to "probes/sec
// before an IP acquisition".
package ratelimit

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// wellKnownLimits are the conservative per-domain rates the teacher's
// RateLimiterManager hard-codes for providers known to rate-limit or
// greylist aggressively.
var wellKnownLimits = map[string]rate.Limit{
	"gmail.com":      2,
	"googlemail.com": 2,
	"outlook.com":    1,
	"hotmail.com":    1,
	"live.com":       1,
	"yahoo.com":      1,
}

const (
	defaultGlobalRate = 10
	defaultGlobalBurst = 10
	defaultDomainRate  = 5
	defaultDomainBurst = 5
)

// Manager owns a global limiter plus one limiter per domain, created
// lazily for domains outside wellKnownLimits.
type Manager struct {
	global  *rate.Limiter
	mu      sync.RWMutex
	domains map[string]*rate.Limiter
}

// NewManager builds a Manager with the default global rate and the
// well-known per-provider rates pre-populated.
func NewManager() *Manager {
	m := &Manager{
		global:  rate.NewLimiter(defaultGlobalRate, defaultGlobalBurst),
		domains: make(map[string]*rate.Limiter, len(wellKnownLimits)),
	}
	for dom, limit := range wellKnownLimits {
		m.domains[dom] = rate.NewLimiter(limit, int(limit))
	}
	return m
}

// Wait blocks until both the global limiter and dom's limiter (created
// on demand at the default rate if dom is not well-known) admit one
// more request, or ctx is cancelled.
func (m *Manager) Wait(ctx context.Context, dom string) error {
	dom = strings.ToLower(dom)

	if err := m.global.Wait(ctx); err != nil {
		return err
	}

	limiter := m.limiterFor(dom)
	return limiter.Wait(ctx)
}

func (m *Manager) limiterFor(dom string) *rate.Limiter {
	m.mu.RLock()
	limiter, ok := m.domains[dom]
	m.mu.RUnlock()
	if ok {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if limiter, ok = m.domains[dom]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(defaultDomainRate, defaultDomainBurst)
	m.domains[dom] = limiter
	return limiter
}
