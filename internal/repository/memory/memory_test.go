package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyanshu/emailprobe/internal/domain"
	"github.com/devyanshu/emailprobe/internal/repository/memory"
)

func TestCompanies_UpsertCreatesThenUpdates(t *testing.T) {
	s := memory.NewCompanies()
	ctx := context.Background()

	created, err := s.Upsert(ctx, &domain.Company{Name: "Example Inc", Domain: "example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	updated, err := s.Upsert(ctx, &domain.Company{Name: "EXAMPLE INC", Domain: "newdomain.com"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID, "case-insensitive name match should update the existing record")
	assert.Equal(t, "newdomain.com", updated.Domain)
}

func TestCompanies_FindByNameOrDomainIsCaseInsensitive(t *testing.T) {
	s := memory.NewCompanies()
	ctx := context.Background()
	_, err := s.Upsert(ctx, &domain.Company{Name: "Example Inc", Domain: "example.com"})
	require.NoError(t, err)

	found, err := s.FindByNameOrDomain(ctx, "example inc", "")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "example.com", found.Domain)

	foundByDomain, err := s.FindByNameOrDomain(ctx, "", "example.com")
	require.NoError(t, err)
	require.NotNil(t, foundByDomain)
}

func TestCompanies_FindByNameOrDomainAbsent(t *testing.T) {
	s := memory.NewCompanies()
	found, err := s.FindByNameOrDomain(context.Background(), "nobody", "")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCompanies_BumpPatternCreatesThenIncrements(t *testing.T) {
	s := memory.NewCompanies()
	ctx := context.Background()
	c, err := s.Upsert(ctx, &domain.Company{Name: "Example Inc", Domain: "example.com"})
	require.NoError(t, err)

	require.NoError(t, s.BumpPattern(ctx, c.ID, "{firstName}.{lastName}"))
	require.NoError(t, s.BumpPattern(ctx, c.ID, "{firstName}.{lastName}"))

	found, err := s.FindByNameOrDomain(ctx, "Example Inc", "")
	require.NoError(t, err)
	p, ok := found.VerifiedPatterns["{firstName}.{lastName}"]
	require.True(t, ok)
	assert.Equal(t, 2, p.UsageCount)
}

func TestCompanies_SetCatchAllFlagsByDomain(t *testing.T) {
	s := memory.NewCompanies()
	ctx := context.Background()
	_, err := s.Upsert(ctx, &domain.Company{Name: "Example Inc", Domain: "example.com"})
	require.NoError(t, err)

	require.NoError(t, s.SetCatchAll(ctx, "example.com"))

	found, err := s.FindByNameOrDomain(ctx, "Example Inc", "")
	require.NoError(t, err)
	assert.True(t, found.IsCatchAll)
}

func TestPatterns_TopOrdersByUsageDescending(t *testing.T) {
	s := memory.NewPatterns()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.BumpGlobal(ctx, "{firstName}.{lastName}"))
	}
	require.NoError(t, s.BumpGlobal(ctx, "{firstName}"))

	top, err := s.Top(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "{firstName}.{lastName}", top[0].Template)
	assert.Equal(t, 3, top[0].UsageCount)
}

func TestPatterns_TopRespectsLimit(t *testing.T) {
	s := memory.NewPatterns()
	ctx := context.Background()
	require.NoError(t, s.BumpGlobal(ctx, "a"))
	require.NoError(t, s.BumpGlobal(ctx, "b"))
	require.NoError(t, s.BumpGlobal(ctx, "c"))

	top, err := s.Top(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestPeople_UpsertWithHistoryCreatesThenAppends(t *testing.T) {
	s := memory.NewPeople()
	ctx := context.Background()

	first := &domain.Person{
		FirstName: "Ada", LastName: "Lovelace", Company: "Example Inc", Domain: "example.com",
		AllTestedEmails: []domain.TestedEmail{{Email: "ada@example.com", Verdict: false}},
	}
	created, err := s.UpsertWithHistory(ctx, first)
	require.NoError(t, err)
	require.Len(t, created.AllTestedEmails, 1)

	second := &domain.Person{
		FirstName: "ada", LastName: "LOVELACE", Company: "example inc", Domain: "example.com",
		VerifiedEmail: "ada.lovelace@example.com", EmailVerifiedAt: time.Now(),
		AllTestedEmails: []domain.TestedEmail{{Email: "ada.lovelace@example.com", Verdict: true}},
	}
	updated, err := s.UpsertWithHistory(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID, "natural key match should be case-insensitive")
	assert.Len(t, updated.AllTestedEmails, 2, "history should append, not replace")
	assert.Equal(t, "ada.lovelace@example.com", updated.VerifiedEmail)
}

func TestPeople_FindNaturalAbsent(t *testing.T) {
	s := memory.NewPeople()
	found, err := s.FindNatural(context.Background(), "Nobody", "Nowhere", "Nocorp")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCatchAllDomains_UpsertCreatesThenIncrementsAttempts(t *testing.T) {
	s := memory.NewCatchAllDomains()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "example.com"))
	rec, err := s.Find(ctx, "example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.VerificationAttempts)

	require.NoError(t, s.Upsert(ctx, "example.com"))
	rec, err = s.Find(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.VerificationAttempts)
}

func TestCatchAllDomains_FindAbsent(t *testing.T) {
	s := memory.NewCatchAllDomains()
	rec, err := s.Find(context.Background(), "nowhere.com")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCatchAllDomains_RecentOrdersDescendingAndLimits(t *testing.T) {
	s := memory.NewCatchAllDomains()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "first.com"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Upsert(ctx, "second.com"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Upsert(ctx, "third.com"))

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third.com", recent[0].Domain)
	assert.Equal(t, "second.com", recent[1].Domain)
}
