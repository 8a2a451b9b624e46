// Package resolver performs DNS MX lookups and discovers a company's
// domain from its name when no domain is already on file.
//
// Grounded on the teacher's MX lookup block in smtp.go (net.LookupMX,
// empty-list and empty-hostname guards) and on optimode-emailkit's
// check/dns.go injectable-lookup pattern, which is carried over here
// so tests can fake DNS answers with github.com/foxcpp/go-mockdns
// instead of hitting the network.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/devyanshu/emailprobe/internal/domain"
)

// ErrNoMXRecord is returned when a domain has no usable MX records.
var ErrNoMXRecord = errors.New("resolver: no MX record")

// ErrDomainUnknown is returned when guessDomain exhausts every TLD
// candidate without finding one with MX records.
var ErrDomainUnknown = errors.New("resolver: could not discover domain")

// candidateTLDs is the fixed, declared-order suffix list tried by
// GuessDomain after slugifying the company name.
var candidateTLDs = []string{".com", ".io", ".co", ".net", ".org", ".ai"}

// legalSuffixes are stripped from a company name before slugification,
// so "Analytical Engines, Inc." and "Analytical Engines" guess the
// same candidate domain.
var legalSuffixes = []string{
	" inc", " inc.", " llc", " llc.", " ltd", " ltd.", " corp", " corp.",
	" co", " co.", " gmbh", " srl", " sa", " plc", " limited", " corporation",
	" incorporated", " company",
}

// LookupMXFunc matches net.(*Resolver).LookupMX's shape so tests can
// substitute a fake resolver.
type LookupMXFunc func(ctx context.Context, domain string) ([]*net.MX, error)

// Resolver resolves domains to MX records and discovers domains from
// company names.
type Resolver struct {
	lookup  LookupMXFunc
	timeout time.Duration
}

// New builds a Resolver using the real DNS resolver.
func New(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &net.Resolver{}
	return &Resolver{lookup: r.LookupMX, timeout: timeout}
}

// NewWithLookup is a test-oriented constructor that overrides DNS.
func NewWithLookup(lookup LookupMXFunc, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{lookup: lookup, timeout: timeout}
}

// Resolve returns a domain's MX records sorted ascending by priority.
// An empty result is impossible on success: a successful lookup that
// returns zero records, or a lookup answered with a not-found DNS
// error, is reported as ErrNoMXRecord, never an empty slice with a nil
// error.
func (r *Resolver) Resolve(ctx context.Context, dom string) ([]domain.MXRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	records, err := r.lookup(ctx, dom)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, ErrNoMXRecord
		}
		return nil, fmt.Errorf("%s: %w", domain.ReasonVerificationError, err)
	}
	if len(records) == 0 {
		return nil, ErrNoMXRecord
	}

	out := make([]domain.MXRecord, 0, len(records))
	for _, m := range records {
		host := strings.TrimSuffix(m.Host, ".")
		if host == "" {
			continue
		}
		out = append(out, domain.MXRecord{Exchange: host, Priority: m.Pref})
	}
	if len(out) == 0 {
		return nil, ErrNoMXRecord
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// GuessDomain slugifies companyName and tries each candidate TLD, in
// declared order, stopping at the first candidate with a non-empty MX
// set. Fails with ErrDomainUnknown if every candidate is exhausted.
func (r *Resolver) GuessDomain(ctx context.Context, companyName string) (string, error) {
	slug := slugify(companyName)
	if slug == "" {
		return "", ErrDomainUnknown
	}
	for _, tld := range candidateTLDs {
		candidate := slug + tld
		if _, err := r.Resolve(ctx, candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrDomainUnknown
}

// slugify lowercases companyName, strips known legal suffixes and all
// whitespace/punctuation, leaving an ASCII label suitable for domain
// candidate generation. publicsuffix is used defensively in case the
// company name already looks like a registrable domain (e.g. a user
// pasting "Example.com Inc") so the candidate loop does not double up
// suffixes already present.
func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if etld, icann := publicsuffix.PublicSuffix(s); icann && strings.HasSuffix(s, "."+etld) {
		s = strings.TrimSuffix(s, "."+etld)
	}
	for _, suffix := range legalSuffixes {
		s = strings.TrimSuffix(s, suffix)
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}
