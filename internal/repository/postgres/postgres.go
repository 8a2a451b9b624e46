// Package postgres implements the repository contracts against
// PostgreSQL using database/sql and lib/pq, mirroring the teacher's
// connection and query style in main.go (sql.Open("postgres", ...),
// parameterized queries, explicit error propagation).
//
// Company lookup is done via a LOWER(name) comparison rather than a
// regex, per the spec.md §9 "Regex-as-equality" redesign flag.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/devyanshu/emailprobe/internal/domain"
)

// Open connects to dbURL, verifies connectivity, and applies any
// pending migrations from migrationsPath, mirroring the teacher's
// sql.Open + Ping sequence in main.go. migrationsPath follows
// golang-migrate's {version}_{name}.{up,down}.sql convention.
func Open(dbURL, migrationsPath string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err := applyMigrations(db, migrationsPath); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// applyMigrations runs every pending up migration in migrationsPath
// against db, grounded on the migrate CLI's newMigrate/migrateUp
// wiring (NewWithDatabaseInstance over a postgres.WithInstance driver
// and a file:// source), folded into a single startup call instead of
// a separate CLI binary.
func applyMigrations(db *sql.DB, migrationsPath string) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres: creating migration driver: %w", err)
	}

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("postgres: resolving migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("postgres: creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: applying migrations: %w", err)
	}
	return nil
}

// Companies implements repository.CompanyRepository against Postgres.
type Companies struct{ db *sql.DB }

// NewCompanies builds a Postgres-backed CompanyRepository.
func NewCompanies(db *sql.DB) *Companies { return &Companies{db: db} }

func (r *Companies) FindByNameOrDomain(ctx context.Context, name, dom string) (*domain.Company, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, domain, is_catch_all
		FROM companies
		WHERE LOWER(name) = LOWER($1) OR ($2 <> '' AND domain = $2)
		LIMIT 1`, name, dom)

	var c domain.Company
	if err := row.Scan(&c.ID, &c.Name, &c.Domain, &c.IsCatchAll); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	patterns, err := r.loadPatterns(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.VerifiedPatterns = patterns
	return &c, nil
}

func (r *Companies) loadPatterns(ctx context.Context, companyID string) (map[string]*domain.Pattern, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT template, usage_count, last_verified
		FROM company_patterns
		WHERE company_id = $1`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*domain.Pattern)
	for rows.Next() {
		var p domain.Pattern
		if err := rows.Scan(&p.Template, &p.UsageCount, &p.LastVerified); err != nil {
			return nil, err
		}
		out[p.Template] = &p
	}
	return out, rows.Err()
}

func (r *Companies) Upsert(ctx context.Context, c *domain.Company) (*domain.Company, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO companies (name, domain, is_catch_all)
		VALUES ($1, $2, $3)
		ON CONFLICT (LOWER(name)) DO UPDATE
			SET domain = COALESCE(NULLIF(EXCLUDED.domain, ''), companies.domain)
		RETURNING id, name, domain, is_catch_all`, c.Name, c.Domain, c.IsCatchAll)

	var out domain.Company
	if err := row.Scan(&out.ID, &out.Name, &out.Domain, &out.IsCatchAll); err != nil {
		return nil, err
	}
	patterns, err := r.loadPatterns(ctx, out.ID)
	if err != nil {
		return nil, err
	}
	out.VerifiedPatterns = patterns
	return &out, nil
}

func (r *Companies) BumpPattern(ctx context.Context, companyID, template string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO company_patterns (company_id, template, usage_count, last_verified)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (company_id, template) DO UPDATE
			SET usage_count = company_patterns.usage_count + 1,
			    last_verified = NOW()`, companyID, template)
	return err
}

func (r *Companies) SetCatchAll(ctx context.Context, dom string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE companies SET is_catch_all = TRUE WHERE domain = $1`, dom)
	return err
}

// Patterns implements repository.PatternRepository against Postgres.
type Patterns struct{ db *sql.DB }

// NewPatterns builds a Postgres-backed PatternRepository.
func NewPatterns(db *sql.DB) *Patterns { return &Patterns{db: db} }

func (r *Patterns) BumpGlobal(ctx context.Context, template string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pattern_globals (template, usage_count)
		VALUES ($1, 1)
		ON CONFLICT (template) DO UPDATE SET usage_count = pattern_globals.usage_count + 1`, template)
	return err
}

func (r *Patterns) Top(ctx context.Context, n int) ([]domain.PatternGlobal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT template, usage_count FROM pattern_globals
		ORDER BY usage_count DESC LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PatternGlobal
	for rows.Next() {
		var p domain.PatternGlobal
		if err := rows.Scan(&p.Template, &p.UsageCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// People implements repository.PersonRepository against Postgres.
type People struct{ db *sql.DB }

// NewPeople builds a Postgres-backed PersonRepository.
func NewPeople(db *sql.DB) *People { return &People{db: db} }

func (r *People) FindNatural(ctx context.Context, firstName, lastName, company string) (*domain.Person, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, company, domain, verified_email, email_verified_at, history
		FROM people
		WHERE LOWER(first_name) = LOWER($1) AND LOWER(last_name) = LOWER($2) AND LOWER(company) = LOWER($3)
		LIMIT 1`, firstName, lastName, company)

	var p domain.Person
	var historyJSON []byte
	var verifiedEmail sql.NullString
	var verifiedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Company, &p.Domain, &verifiedEmail, &verifiedAt, &historyJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.VerifiedEmail = verifiedEmail.String
	p.EmailVerifiedAt = verifiedAt.Time
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &p.AllTestedEmails); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (r *People) UpsertWithHistory(ctx context.Context, p *domain.Person) (*domain.Person, error) {
	existing, err := r.FindNatural(ctx, p.FirstName, p.LastName, p.Company)
	if err != nil {
		return nil, err
	}

	history := p.AllTestedEmails
	if existing != nil {
		history = append(existing.AllTestedEmails, p.AllTestedEmails...)
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, err
	}

	var verifiedAt interface{}
	if !p.EmailVerifiedAt.IsZero() {
		verifiedAt = p.EmailVerifiedAt
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO people (first_name, last_name, company, domain, verified_email, email_verified_at, history)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		ON CONFLICT (LOWER(first_name), LOWER(last_name), LOWER(company)) DO UPDATE
			SET domain = EXCLUDED.domain,
			    verified_email = COALESCE(EXCLUDED.verified_email, people.verified_email),
			    email_verified_at = COALESCE(EXCLUDED.email_verified_at, people.email_verified_at),
			    history = EXCLUDED.history
		RETURNING id, first_name, last_name, company, domain, verified_email, email_verified_at`,
		p.FirstName, p.LastName, p.Company, p.Domain, p.VerifiedEmail, verifiedAt, historyJSON)

	var out domain.Person
	var ve sql.NullString
	var va sql.NullTime
	if err := row.Scan(&out.ID, &out.FirstName, &out.LastName, &out.Company, &out.Domain, &ve, &va); err != nil {
		return nil, err
	}
	out.VerifiedEmail = ve.String
	out.EmailVerifiedAt = va.Time
	out.AllTestedEmails = history
	return &out, nil
}

// CatchAllDomains implements repository.CatchAllRepository against Postgres.
type CatchAllDomains struct{ db *sql.DB }

// NewCatchAllDomains builds a Postgres-backed CatchAllRepository.
func NewCatchAllDomains(db *sql.DB) *CatchAllDomains { return &CatchAllDomains{db: db} }

func (r *CatchAllDomains) Find(ctx context.Context, dom string) (*domain.CatchAllDomain, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT domain, verification_attempts, last_verified
		FROM catch_all_domains WHERE domain = $1`, dom)

	var c domain.CatchAllDomain
	if err := row.Scan(&c.Domain, &c.VerificationAttempts, &c.LastVerified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *CatchAllDomains) Upsert(ctx context.Context, dom string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO catch_all_domains (domain, verification_attempts, last_verified)
		VALUES ($1, 1, $2)
		ON CONFLICT (domain) DO UPDATE
			SET verification_attempts = catch_all_domains.verification_attempts + 1,
			    last_verified = EXCLUDED.last_verified`, dom, time.Now())
	return err
}

func (r *CatchAllDomains) Recent(ctx context.Context, limit int) ([]domain.CatchAllDomain, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT domain, verification_attempts, last_verified
		FROM catch_all_domains
		ORDER BY last_verified DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CatchAllDomain
	for rows.Next() {
		var c domain.CatchAllDomain
		if err := rows.Scan(&c.Domain, &c.VerificationAttempts, &c.LastVerified); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
