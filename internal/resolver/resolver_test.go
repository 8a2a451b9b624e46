package resolver_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/foxcpp/go-mockdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyanshu/emailprobe/internal/resolver"
)

func TestResolve_SortsByPriorityAndTrimsTrailingDot(t *testing.T) {
	zones := map[string]mockdns.Zone{
		"example.invalid.": {
			MX: []net.MX{
				{Host: "mx2.example.invalid.", Pref: 20},
				{Host: "mx1.example.invalid.", Pref: 10},
			},
		},
	}
	mock := &mockdns.Resolver{Zones: zones}
	r := resolver.NewWithLookup(mock.LookupMX, time.Second)

	records, err := r.Resolve(context.Background(), "example.invalid")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "mx1.example.invalid", records[0].Exchange)
	assert.Equal(t, uint16(10), records[0].Priority)
	assert.Equal(t, "mx2.example.invalid", records[1].Exchange)
}

func TestResolve_NoMXRecords(t *testing.T) {
	mock := &mockdns.Resolver{Zones: map[string]mockdns.Zone{}}
	r := resolver.NewWithLookup(mock.LookupMX, time.Second)

	_, err := r.Resolve(context.Background(), "nothing.invalid")
	assert.ErrorIs(t, err, resolver.ErrNoMXRecord)
}

func TestResolve_LookupError(t *testing.T) {
	lookup := func(ctx context.Context, domain string) ([]*net.MX, error) {
		return nil, errors.New("boom")
	}
	r := resolver.NewWithLookup(lookup, time.Second)

	_, err := r.Resolve(context.Background(), "example.invalid")
	assert.Error(t, err)
}

func TestGuessDomain_FirstMatchingTLDWins(t *testing.T) {
	calls := 0
	lookup := func(ctx context.Context, domain string) ([]*net.MX, error) {
		calls++
		switch domain {
		case "analyticalengines.com":
			return nil, errors.New("no such host")
		case "analyticalengines.io":
			return []*net.MX{{Host: "mx.analyticalengines.io.", Pref: 10}}, nil
		default:
			return nil, errors.New("no such host")
		}
	}
	r := resolver.NewWithLookup(lookup, time.Second)

	dom, err := r.GuessDomain(context.Background(), "Analytical Engines, Inc.")
	require.NoError(t, err)
	assert.Equal(t, "analyticalengines.io", dom)
}

func TestGuessDomain_ExhaustsCandidates(t *testing.T) {
	lookup := func(ctx context.Context, domain string) ([]*net.MX, error) {
		return nil, errors.New("no such host")
	}
	r := resolver.NewWithLookup(lookup, time.Second)

	_, err := r.GuessDomain(context.Background(), "Nonexistent Corp")
	assert.ErrorIs(t, err, resolver.ErrDomainUnknown)
}

func TestGuessDomain_EmptySlugFails(t *testing.T) {
	r := resolver.NewWithLookup(func(ctx context.Context, domain string) ([]*net.MX, error) {
		t.Fatal("lookup should never be called for an empty slug")
		return nil, nil
	}, time.Second)

	_, err := r.GuessDomain(context.Background(), "!!!")
	assert.ErrorIs(t, err, resolver.ErrDomainUnknown)
}
