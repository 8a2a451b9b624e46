// Package ippool lends local source addresses to outbound SMTP
// probes, rotating round-robin across a configured bank of addresses
// and enforcing a per-address cooldown, then coordinates bounded
// parallel dispatch with batch-level early-exit.
//
// Grounded on the teacher's ratelimiter.go (RateLimiterManager's
// mutex-guarded map-of-limiters shape) generalized from per-domain
// token buckets to per-IP round-robin-with-cooldown, per spec.md §4.4.
package ippool

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/devyanshu/emailprobe/internal/domain"
)

// Cooldown is the minimum wall time between consecutive acquisitions
// of the same source address (spec.md §8 invariant).
const Cooldown = 500 * time.Millisecond

// ProbeFunc dispatches a single probe and returns its verdict. The
// IP pool supplies which local address the probe should bind via the
// addr argument; the caller (orchestrator) wires that into the
// prober.Config.LocalAddr.
type ProbeFunc func(ctx context.Context, addr net.Addr, email string) domain.ProbeResult

// Config configures a Pool.
type Config struct {
	// Addresses is the ordered bank of local source addresses. Must be
	// non-empty.
	Addresses []net.Addr
	// EarlyExit stops dispatching further batches once any completed
	// batch contained a valid probe. The zero value (false) runs every
	// batch; config.Load sets it from IP_POOL_EARLY_EXIT, defaulting to
	// true. spec.md §9 flags the teacher's dead 'true'=='true' early-exit
	// check; this is an explicit policy rather than an always-on branch.
	EarlyExit bool
}

// Pool hands out local source addresses round-robin, respecting a
// per-address cooldown, and drives chunked parallel probing with
// early-exit.
type Pool struct {
	addrs    []net.Addr
	lastUsed []time.Time
	cursor   int
	mu       sync.Mutex
	earlyExit bool
}

// New builds a Pool. Panics if cfg.Addresses is empty — an empty pool
// cannot service any probe and is a configuration error, not a
// runtime one.
func New(cfg Config) *Pool {
	if len(cfg.Addresses) == 0 {
		panic("ippool: Config.Addresses must be non-empty")
	}
	return &Pool{
		addrs:     cfg.Addresses,
		lastUsed:  make([]time.Time, len(cfg.Addresses)),
		earlyExit: cfg.EarlyExit,
	}
}

// Width returns the configured pool size N.
func (p *Pool) Width() int { return len(p.addrs) }

// acquire returns the next address in round-robin order, sleeping out
// any remaining cooldown before returning, and marks it used at the
// moment of return.
func (p *Pool) acquire(ctx context.Context) (net.Addr, error) {
	p.mu.Lock()
	idx := p.cursor
	p.cursor = (p.cursor + 1) % len(p.addrs)
	last := p.lastUsed[idx]
	p.mu.Unlock()

	if !last.IsZero() {
		if wait := Cooldown - time.Since(last); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	p.mu.Lock()
	p.lastUsed[idx] = time.Now()
	p.mu.Unlock()
	return p.addrs[idx], nil
}

// BatchResult is the outcome of VerifyBatch: every attempted address
// maps to its verdict, and Succeeded reports whether any of them
// returned Valid.
type BatchResult struct {
	Verdicts  map[string]domain.ProbeResult
	Succeeded bool
}

// VerifyBatch splits emails into consecutive chunks of Width() size.
// Within a chunk every email is probed in parallel, each against a
// freshly acquired address; the chunk completes only once every probe
// in it has resolved (already-dispatched probes always run to
// completion). If EarlyExit is set and any completed chunk contained a
// valid probe, subsequent chunks are skipped.
func (p *Pool) VerifyBatch(ctx context.Context, emails []string, probe ProbeFunc) BatchResult {
	out := BatchResult{Verdicts: make(map[string]domain.ProbeResult, len(emails))}
	width := p.Width()

	for start := 0; start < len(emails); start += width {
		end := start + width
		if end > len(emails) {
			end = len(emails)
		}
		chunk := emails[start:end]

		var wg sync.WaitGroup
		results := make([]domain.ProbeResult, len(chunk))
		for i, email := range chunk {
			addr, err := p.acquire(ctx)
			if err != nil {
				results[i] = domain.ProbeResult{Email: email, Reason: domain.ReasonVerificationError, Details: err.Error()}
				continue
			}
			wg.Add(1)
			go func(i int, email string, addr net.Addr) {
				defer wg.Done()
				results[i] = probe(ctx, addr, email)
			}(i, email, addr)
		}
		wg.Wait()

		chunkSucceeded := false
		for i, email := range chunk {
			out.Verdicts[email] = results[i]
			if results[i].Valid {
				chunkSucceeded = true
			}
		}
		if chunkSucceeded {
			out.Succeeded = true
		}
		if out.Succeeded && p.earlyExit {
			break
		}
	}

	return out
}
