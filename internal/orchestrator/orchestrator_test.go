package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyanshu/emailprobe/internal/catchall"
	"github.com/devyanshu/emailprobe/internal/domain"
	"github.com/devyanshu/emailprobe/internal/ippool"
	"github.com/devyanshu/emailprobe/internal/orchestrator"
	"github.com/devyanshu/emailprobe/internal/ratelimit"
	"github.com/devyanshu/emailprobe/internal/repository"
	"github.com/devyanshu/emailprobe/internal/repository/memory"
	"github.com/devyanshu/emailprobe/internal/resolver"
)

var rcptEmailRE = regexp.MustCompile(`RCPT TO:<([^>]+)>`)

// scriptedDial builds a prober.Config.Dial-shaped func whose server side
// always accepts HELO/MAIL FROM and decides the RCPT TO reply with rule,
// keyed by the recipient address in the command text.
func scriptedDial(rule func(email string) string) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			fmt.Fprintf(server, "220 mock.smtp ESMTP\r\n")
			buf := make([]byte, 4096)
			for {
				n, err := server.Read(buf)
				if err != nil {
					return
				}
				cmd := string(buf[:n])
				switch {
				case strings.HasPrefix(cmd, "HELO"), strings.HasPrefix(cmd, "MAIL FROM"):
					fmt.Fprintf(server, "250 OK\r\n")
				case strings.HasPrefix(cmd, "RCPT TO"):
					m := rcptEmailRE.FindStringSubmatch(cmd)
					email := ""
					if len(m) == 2 {
						email = m[1]
					}
					fmt.Fprintf(server, "%s\r\n", rule(email))
				case strings.HasPrefix(cmd, "QUIT"):
					fmt.Fprintf(server, "221 Bye\r\n")
					return
				}
			}
		}()
		return client, nil
	}
}

func mxLookup(host string) resolver.LookupMXFunc {
	return func(ctx context.Context, dom string) ([]*net.MX, error) {
		return []*net.MX{{Host: host + ".", Pref: 10}}, nil
	}
}

type harness struct {
	repos    repository.Repositories
	catchAll *memory.CatchAllDomains
}

func newHarness() harness {
	return harness{
		repos: repository.Repositories{
			Companies: memory.NewCompanies(),
			Patterns:  memory.NewPatterns(),
			People:    memory.NewPeople(),
			CatchAll:  memory.NewCatchAllDomains(),
		},
		catchAll: memory.NewCatchAllDomains(),
	}
}

func buildOrchestrator(h harness, lookup resolver.LookupMXFunc, dial func(context.Context, string, string) (net.Conn, error), earlyExit bool) *orchestrator.Orchestrator {
	res := resolver.NewWithLookup(lookup, time.Second)
	pool := ippool.New(ippool.Config{Addresses: []net.Addr{&net.TCPAddr{IP: net.ParseIP("10.0.0.1")}}, EarlyExit: earlyExit})
	detector := catchall.New(h.repos.CatchAll)
	limiter := ratelimit.NewManager()

	return orchestrator.New(orchestrator.Config{
		Resolver:     res,
		Pool:         pool,
		Detector:     detector,
		Limiter:      limiter,
		Repositories: h.repos,
		HeloHostname: "worker.example.com",
		SenderEmail:  "verify@example.com",
		IdleTimeout:  time.Second,
		Dial:         dial,
	})
}

func TestVerify_SuccessfulVerification(t *testing.T) {
	h := newHarness()
	dial := scriptedDial(func(email string) string {
		if email == "ada.lovelace@example.com" {
			return "250 OK"
		}
		return "550 No such user"
	})
	orch := buildOrchestrator(h, mxLookup("mx.example.com"), dial, true)

	resp, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Example Inc", ProvidedDomain: "example.com",
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.VerifiedEmails, 1)
	assert.Equal(t, "ada.lovelace@example.com", resp.VerifiedEmails[0].Email)
	assert.False(t, resp.IsCatchAll)
	assert.Equal(t, "example.com", resp.Domain)
}

func TestVerify_CatchAllShortCircuitsOnDatabaseLookup(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.repos.CatchAll.Upsert(context.Background(), "example.com"))

	probed := false
	dial := scriptedDial(func(email string) string {
		probed = true
		return "250 OK"
	})
	orch := buildOrchestrator(h, mxLookup("mx.example.com"), dial, true)

	resp, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Example Inc", ProvidedDomain: "example.com",
	})
	require.NoError(t, err)
	assert.True(t, resp.IsCatchAll)
	assert.False(t, resp.Success)
	assert.False(t, probed, "a domain known catch-all from the pre-check must never be probed")
}

func TestVerify_CatchAllDetectedByRandomisedProbe(t *testing.T) {
	h := newHarness()
	// Every RCPT succeeds - including the k=3 random local-parts -
	// which is exactly what a catch-all mail server does.
	dial := scriptedDial(func(email string) string { return "250 OK" })
	orch := buildOrchestrator(h, mxLookup("mx.example.com"), dial, true)

	resp, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Example Inc", ProvidedDomain: "example.com",
	})
	require.NoError(t, err)
	assert.True(t, resp.IsCatchAll)
	assert.False(t, resp.Success)

	known, err := h.repos.CatchAll.Find(context.Background(), "example.com")
	require.NoError(t, err)
	assert.NotNil(t, known, "the domain should be persisted once the randomised probe confirms catch-all")
}

func TestVerify_DomainResolutionPrefersProvidedDomain(t *testing.T) {
	h := newHarness()
	dial := scriptedDial(func(email string) string { return "550 No such user" })
	orch := buildOrchestrator(h, mxLookup("mx.provided.com"), dial, true)

	resp, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Example Inc", ProvidedDomain: "Provided.COM",
	})
	require.NoError(t, err)
	assert.Equal(t, "provided.com", resp.Domain)
}

func TestVerify_DomainResolutionFallsBackToExistingCompany(t *testing.T) {
	h := newHarness()
	_, err := h.repos.Companies.Upsert(context.Background(), &domain.Company{Name: "Example Inc", Domain: "onfile.com"})
	require.NoError(t, err)

	dial := scriptedDial(func(email string) string { return "550 No such user" })
	orch := buildOrchestrator(h, mxLookup("mx.onfile.com"), dial, true)

	resp, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Example Inc",
	})
	require.NoError(t, err)
	assert.Equal(t, "onfile.com", resp.Domain)
}

func TestVerify_DomainResolutionFallsBackToGuessDomain(t *testing.T) {
	h := newHarness()
	lookup := func(ctx context.Context, dom string) ([]*net.MX, error) {
		if dom == "analyticalengines.io" {
			return []*net.MX{{Host: "mx.analyticalengines.io.", Pref: 10}}, nil
		}
		return nil, errors.New("no such host")
	}
	dial := scriptedDial(func(email string) string { return "550 No such user" })
	orch := buildOrchestrator(h, lookup, dial, true)

	resp, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Analytical Engines, Inc.",
	})
	require.NoError(t, err)
	assert.Equal(t, "analyticalengines.io", resp.Domain)
}

func TestVerify_NoMXRecordIsAnError(t *testing.T) {
	h := newHarness()
	lookup := func(ctx context.Context, dom string) ([]*net.MX, error) {
		return nil, nil
	}
	dial := scriptedDial(func(email string) string { return "250 OK" })
	orch := buildOrchestrator(h, lookup, dial, true)

	_, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Example Inc", ProvidedDomain: "example.com",
	})
	require.Error(t, err)
	var oerr *orchestrator.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, domain.ReasonNoMXRecord, oerr.Reason)
}

func TestVerify_MXLookupTransportErrorIsVerificationError(t *testing.T) {
	h := newHarness()
	lookup := func(ctx context.Context, dom string) ([]*net.MX, error) {
		return nil, fmt.Errorf("network is unreachable")
	}
	dial := scriptedDial(func(email string) string { return "250 OK" })
	orch := buildOrchestrator(h, lookup, dial, true)

	_, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Example Inc", ProvidedDomain: "example.com",
	})
	require.Error(t, err)
	var oerr *orchestrator.Error
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, domain.ReasonVerificationError, oerr.Reason)
}

func TestVerify_RetryableWhenEveryCandidateGreylisted(t *testing.T) {
	h := newHarness()
	dial := scriptedDial(func(email string) string { return "450 please try again later" })
	orch := buildOrchestrator(h, mxLookup("mx.example.com"), dial, false)

	resp, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Example Inc", ProvidedDomain: "example.com",
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.True(t, resp.Retryable)
}

func TestVerify_LearnsSuccessfulPattern(t *testing.T) {
	h := newHarness()
	dial := scriptedDial(func(email string) string {
		if email == "ada.lovelace@example.com" {
			return "250 OK"
		}
		return "550 No such user"
	})
	orch := buildOrchestrator(h, mxLookup("mx.example.com"), dial, true)

	_, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Example Inc", ProvidedDomain: "example.com",
	})
	require.NoError(t, err)

	top, err := h.repos.Patterns.Top(context.Background(), 5)
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.Equal(t, "{firstName}.{lastName}", top[0].Template)

	company, err := h.repos.Companies.FindByNameOrDomain(context.Background(), "Example Inc", "")
	require.NoError(t, err)
	require.NotNil(t, company)
	require.Contains(t, company.VerifiedPatterns, "{firstName}.{lastName}")
}

func TestVerify_PersistsPersonHistoryEvenOnFailure(t *testing.T) {
	h := newHarness()
	dial := scriptedDial(func(email string) string { return "550 No such user" })
	orch := buildOrchestrator(h, mxLookup("mx.example.com"), dial, false)

	_, err := orch.Verify(context.Background(), orchestrator.Request{
		FirstName: "Ada", LastName: "Lovelace", CompanyName: "Example Inc", ProvidedDomain: "example.com",
	})
	require.NoError(t, err)

	person, err := h.repos.People.FindNatural(context.Background(), "Ada", "Lovelace", "Example Inc")
	require.NoError(t, err)
	require.NotNil(t, person)
	assert.Empty(t, person.VerifiedEmail)
	assert.NotEmpty(t, person.AllTestedEmails)
}
