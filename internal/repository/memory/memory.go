// Package memory implements the repository.Repositories contracts
// in-process, for tests and for exercising the orchestrator without a
// Postgres instance.
package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devyanshu/emailprobe/internal/domain"
)

// Companies is an in-memory CompanyRepository.
type Companies struct {
	mu    sync.Mutex
	byID  map[string]*domain.Company
	seq   int
}

// NewCompanies builds an empty in-memory company store.
func NewCompanies() *Companies {
	return &Companies{byID: make(map[string]*domain.Company)}
}

func (s *Companies) FindByNameOrDomain(_ context.Context, name, dom string) (*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nameLower := strings.ToLower(name)
	for _, c := range s.byID {
		if strings.ToLower(c.Name) == nameLower || (dom != "" && c.Domain == dom) {
			return cloneCompany(c), nil
		}
	}
	return nil, nil
}

func (s *Companies) Upsert(_ context.Context, c *domain.Company) (*domain.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nameLower := strings.ToLower(c.Name)
	for _, existing := range s.byID {
		if strings.ToLower(existing.Name) == nameLower {
			if c.Domain != "" {
				existing.Domain = c.Domain
			}
			return cloneCompany(existing), nil
		}
	}

	s.seq++
	stored := cloneCompany(c)
	stored.ID = strconv.Itoa(s.seq)
	if stored.VerifiedPatterns == nil {
		stored.VerifiedPatterns = make(map[string]*domain.Pattern)
	}
	s.byID[stored.ID] = stored
	return cloneCompany(stored), nil
}

func (s *Companies) BumpPattern(_ context.Context, companyID, template string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[companyID]
	if !ok {
		return nil
	}
	if c.VerifiedPatterns == nil {
		c.VerifiedPatterns = make(map[string]*domain.Pattern)
	}
	p, ok := c.VerifiedPatterns[template]
	if !ok {
		c.VerifiedPatterns[template] = &domain.Pattern{Template: template, UsageCount: 1, LastVerified: time.Now()}
		return nil
	}
	p.UsageCount++
	p.LastVerified = time.Now()
	return nil
}

func (s *Companies) SetCatchAll(_ context.Context, dom string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if c.Domain == dom {
			c.IsCatchAll = true
		}
	}
	return nil
}

func cloneCompany(c *domain.Company) *domain.Company {
	cp := *c
	cp.VerifiedPatterns = make(map[string]*domain.Pattern, len(c.VerifiedPatterns))
	for k, v := range c.VerifiedPatterns {
		p := *v
		cp.VerifiedPatterns[k] = &p
	}
	return &cp
}

// Patterns is an in-memory PatternRepository.
type Patterns struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewPatterns builds an empty in-memory global pattern store.
func NewPatterns() *Patterns {
	return &Patterns{counts: make(map[string]int)}
}

func (s *Patterns) BumpGlobal(_ context.Context, template string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[template]++
	return nil
}

func (s *Patterns) Top(_ context.Context, n int) ([]domain.PatternGlobal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PatternGlobal, 0, len(s.counts))
	for t, c := range s.counts {
		out = append(out, domain.PatternGlobal{Template: t, UsageCount: c})
	}
	sortByUsageDesc(out)
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out, nil
}

func sortByUsageDesc(p []domain.PatternGlobal) {
	for i := 1; i < len(p); i++ {
		for j := i; j > 0 && p[j].UsageCount > p[j-1].UsageCount; j-- {
			p[j], p[j-1] = p[j-1], p[j]
		}
	}
}

// People is an in-memory PersonRepository.
type People struct {
	mu  sync.Mutex
	all map[string]*domain.Person
	seq int
}

// NewPeople builds an empty in-memory person store.
func NewPeople() *People {
	return &People{all: make(map[string]*domain.Person)}
}

func naturalKey(firstName, lastName, company string) string {
	return strings.ToLower(firstName) + "|" + strings.ToLower(lastName) + "|" + strings.ToLower(company)
}

func (s *People) FindNatural(_ context.Context, firstName, lastName, company string) (*domain.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := naturalKey(firstName, lastName, company)
	for _, p := range s.all {
		if naturalKey(p.FirstName, p.LastName, p.Company) == key {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *People) UpsertWithHistory(_ context.Context, p *domain.Person) (*domain.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := naturalKey(p.FirstName, p.LastName, p.Company)
	for _, existing := range s.all {
		if naturalKey(existing.FirstName, existing.LastName, existing.Company) == key {
			existing.Domain = p.Domain
			if p.VerifiedEmail != "" {
				existing.VerifiedEmail = p.VerifiedEmail
				existing.EmailVerifiedAt = p.EmailVerifiedAt
			}
			existing.AllTestedEmails = append(existing.AllTestedEmails, p.AllTestedEmails...)
			cp := *existing
			return &cp, nil
		}
	}

	s.seq++
	stored := *p
	stored.ID = strconv.Itoa(s.seq)
	s.all[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

// CatchAllDomains is an in-memory CatchAllRepository.
type CatchAllDomains struct {
	mu  sync.Mutex
	all map[string]*domain.CatchAllDomain
}

// NewCatchAllDomains builds an empty in-memory catch-all domain store.
func NewCatchAllDomains() *CatchAllDomains {
	return &CatchAllDomains{all: make(map[string]*domain.CatchAllDomain)}
}

func (s *CatchAllDomains) Find(_ context.Context, dom string) (*domain.CatchAllDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.all[dom]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *CatchAllDomains) Upsert(_ context.Context, dom string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.all[dom]
	if !ok {
		s.all[dom] = &domain.CatchAllDomain{Domain: dom, VerificationAttempts: 1, LastVerified: time.Now()}
		return nil
	}
	rec.VerificationAttempts++
	rec.LastVerified = time.Now()
	return nil
}

func (s *CatchAllDomains) Recent(_ context.Context, limit int) ([]domain.CatchAllDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.CatchAllDomain, 0, len(s.all))
	for _, rec := range s.all {
		out = append(out, *rec)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].LastVerified.After(out[j-1].LastVerified); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
