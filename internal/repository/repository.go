// Package repository abstracts persistence for Company, Pattern,
// Person, and CatchAllDomain, per spec.md §4.7. Every operation is
// individually atomic; cross-entity consistency is the caller's
// responsibility.
package repository

import (
	"context"

	"github.com/devyanshu/emailprobe/internal/domain"
)

// CompanyRepository persists Company records.
type CompanyRepository interface {
	// FindByNameOrDomain looks up a company by case-insensitive name
	// match OR exact domain match. Returns (nil, nil) when absent.
	FindByNameOrDomain(ctx context.Context, name, domain string) (*domain.Company, error)
	// Upsert creates or updates a Company by case-insensitive name.
	Upsert(ctx context.Context, c *domain.Company) (*domain.Company, error)
	// BumpPattern atomically increments a company's usage count for
	// template, creating the pattern with count 1 if absent, and
	// stamps LastVerified to now.
	BumpPattern(ctx context.Context, companyID, template string) error
	// SetCatchAll flags every Company with the given domain as
	// catch-all.
	SetCatchAll(ctx context.Context, domain string) error
}

// PatternRepository persists the cross-company template counters.
type PatternRepository interface {
	// BumpGlobal atomically increments the global usage count for
	// template, creating it with count 1 if absent.
	BumpGlobal(ctx context.Context, template string) error
	// Top returns the n most-used global templates, descending.
	Top(ctx context.Context, n int) ([]domain.PatternGlobal, error)
}

// PersonRepository persists Person records and their probe history.
type PersonRepository interface {
	// FindNatural looks up a Person by (firstName, lastName, company),
	// matched case-insensitively. Returns (nil, nil) when absent.
	FindNatural(ctx context.Context, firstName, lastName, company string) (*domain.Person, error)
	// UpsertWithHistory creates or updates a Person by natural key,
	// setting VerifiedEmail and appending history entries.
	UpsertWithHistory(ctx context.Context, p *domain.Person) (*domain.Person, error)
}

// CatchAllRepository persists known catch-all domains.
type CatchAllRepository interface {
	// Find looks up a domain. Returns (nil, nil) when absent.
	Find(ctx context.Context, domain string) (*domain.CatchAllDomain, error)
	// Upsert records domain as catch-all, incrementing
	// VerificationAttempts and stamping LastVerified.
	Upsert(ctx context.Context, domain string) error
	// Recent returns the limit most recently verified catch-all
	// domains, descending by LastVerified.
	Recent(ctx context.Context, limit int) ([]domain.CatchAllDomain, error)
}

// Repositories bundles every repository the orchestrator needs.
type Repositories struct {
	Companies CompanyRepository
	Patterns  PatternRepository
	People    PersonRepository
	CatchAll  CatchAllRepository
}
