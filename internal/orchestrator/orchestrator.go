// Package orchestrator implements the top-level verification flow:
// resolve → pre-check → rank candidates → parallel probe → catch-all
// guard → persist learning (spec.md §4.6).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/devyanshu/emailprobe/internal/catchall"
	"github.com/devyanshu/emailprobe/internal/domain"
	"github.com/devyanshu/emailprobe/internal/ippool"
	"github.com/devyanshu/emailprobe/internal/logging"
	"github.com/devyanshu/emailprobe/internal/pattern"
	"github.com/devyanshu/emailprobe/internal/prober"
	"github.com/devyanshu/emailprobe/internal/ratelimit"
	"github.com/devyanshu/emailprobe/internal/repository"
	"github.com/devyanshu/emailprobe/internal/resolver"
)

// Request is the orchestrator's input: the person to verify plus
// miscellaneous biographical fields that pass through untouched to the
// stored Person record.
type Request struct {
	FirstName            string
	LastName             string
	CompanyName          string
	ProvidedDomain        string
	CurrentPosition       string
	Phone                 string
	EducationalInstitute  string
	PreviousCompanies     []string
	Qualifications        []string
}

// Response is what the orchestrator returns for one request.
type Response struct {
	Success                    bool
	VerifiedEmails             []VerifiedEmail
	TotalPatternsTested        int
	PatternsTestedBeforeValid  int
	Domain                     string
	IsCatchAll                 bool
	TimeTaken                  time.Duration
	// Retryable is set when no candidate succeeded and every probed
	// candidate came back with a code prober.IsRetryableCode accepts
	// (the 450/451/421 greylist codes, 503, and any other 4xx except
	// 452) rather than a definitive accept/reject. It is an
	// orchestration-level signal for cmd/worker's retry queue, not a
	// per-probe retry (spec.md §7 "None" at the probe level still
	// holds — this never causes a second RCPT inside one probe).
	Retryable                  bool
}

// VerifiedEmail is one positive probe result surfaced to the caller.
type VerifiedEmail struct {
	Email    string
	SourceIP string
}

// Error is returned for orchestrator-level failures that should map to
// an HTTP 400 (domain could not be resolved) as opposed to a 500
// (repository/internal failure).
type Error struct {
	Reason  domain.Reason
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Message) }

// Orchestrator wires together every verification-core component.
type Orchestrator struct {
	resolver  *resolver.Resolver
	pool      *ippool.Pool
	detector  *catchall.Detector
	limiter   *ratelimit.Manager
	repos     repository.Repositories
	router    *logging.Router
	heloHost  string
	sender    string
	idleTimeout time.Duration
	proxy     *prober.ProxyConfig
	dial      func(ctx context.Context, network, address string) (net.Conn, error)
}

// Config configures an Orchestrator.
type Config struct {
	Resolver     *resolver.Resolver
	Pool         *ippool.Pool
	Detector     *catchall.Detector
	Limiter      *ratelimit.Manager
	Repositories repository.Repositories
	Logs         *logging.Router
	HeloHostname string
	SenderEmail  string
	IdleTimeout  time.Duration
	// Proxy, if set, routes every outbound probe through a SOCKS5 hop
	// (SPEC_FULL.md "Supplemented features").
	Proxy *prober.ProxyConfig
	// Dial overrides how probes connect to the MX host; nil uses
	// prober's default net.Dialer. Exposed for tests to substitute a
	// net.Pipe-backed fake SMTP server.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// New builds an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		resolver:    cfg.Resolver,
		pool:        cfg.Pool,
		detector:    cfg.Detector,
		limiter:     cfg.Limiter,
		repos:       cfg.Repositories,
		router:      cfg.Logs,
		heloHost:    cfg.HeloHostname,
		sender:      cfg.SenderEmail,
		idleTimeout: cfg.IdleTimeout,
		proxy:       cfg.Proxy,
		dial:        cfg.Dial,
	}
}

// Verify runs the full pipeline for one request.
func (o *Orchestrator) Verify(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	o.logGeneral("verify_requested", req.FirstName, req.LastName, req.CompanyName)

	// 1. Domain.
	dom, err := o.resolveDomain(ctx, req)
	if err != nil {
		return nil, err
	}

	// 2. Catch-all pre-check.
	known, err := o.detector.IsKnown(ctx, dom)
	if err != nil {
		return nil, err
	}
	if known {
		o.logCatchAll("database_lookup", dom)
		return &Response{Domain: dom, IsCatchAll: true, TimeTaken: time.Since(start)}, nil
	}

	// 3. Company upsert.
	company, err := o.repos.Companies.FindByNameOrDomain(ctx, req.CompanyName, dom)
	if err != nil {
		return nil, err
	}
	if company == nil {
		company = &domain.Company{Name: req.CompanyName, Domain: dom}
	}
	company, err = o.repos.Companies.Upsert(ctx, company)
	if err != nil {
		return nil, err
	}

	// 4. MX lookup. A domain with genuinely no MX records is
	// ReasonNoMXRecord; a lookup that failed to complete (timeout,
	// transport error) is ReasonVerificationError, per spec.md §4.1.
	mxRecords, err := o.resolver.Resolve(ctx, dom)
	if err != nil {
		reason := domain.ReasonVerificationError
		if errors.Is(err, resolver.ErrNoMXRecord) {
			reason = domain.ReasonNoMXRecord
		}
		return nil, &Error{Reason: reason, Message: err.Error()}
	}
	primaryMX := mxRecords[0].Exchange

	// 5. Rank candidates. Expansions that are not even syntactically
	// valid addresses (an unusual name producing a leading/doubled dot)
	// are dropped before they cost a probe.
	candidates := pattern.Rank(company)
	emails := make([]string, 0, len(candidates))
	templateByEmail := make(map[string]string, len(candidates))
	for _, tmpl := range candidates {
		email := pattern.Expand(tmpl, req.FirstName, req.LastName, dom)
		if !pattern.IsValidSyntax(email) {
			continue
		}
		emails = append(emails, email)
		templateByEmail[email] = tmpl
	}

	// 6. Batch probe.
	if err := o.limiter.Wait(ctx, dom); err != nil {
		return nil, err
	}
	batch := o.pool.VerifyBatch(ctx, emails, func(ctx context.Context, addr net.Addr, email string) domain.ProbeResult {
		p := prober.New(prober.Config{
			HeloHostname: o.heloHost,
			SenderEmail:  o.sender,
			IdleTimeout:  o.idleTimeout,
			LocalAddr:    addr,
			Proxy:        o.proxy,
			Dial:         o.dial,
		})
		result := p.Probe(ctx, primaryMX, email)
		o.logProbe(result)
		if result.Blocked {
			o.logBlocked(addr, email, result)
		}
		return result
	})

	resp := &Response{Domain: dom, TotalPatternsTested: len(batch.Verdicts)}

	// 7. Post-success catch-all probe. Completion order, not candidate
	// rank, decides which positive is "first" (spec.md §5): among
	// every valid verdict in the batch, the one that finished earliest
	// wins.
	var firstPositive *domain.ProbeResult
	for email := range batch.Verdicts {
		r := batch.Verdicts[email]
		if !r.Valid {
			continue
		}
		if firstPositive == nil || r.FinishedAt.Before(firstPositive.FinishedAt) {
			v := r
			firstPositive = &v
		}
	}
	testedBeforeValid := len(batch.Verdicts)
	if firstPositive != nil {
		testedBeforeValid = 0
		for _, r := range batch.Verdicts {
			if !r.FinishedAt.After(firstPositive.FinishedAt) {
				testedBeforeValid++
			}
		}
	}

	if firstPositive != nil {
		isCatchAll, err := o.detector.Detect(ctx, primaryMX, dom, func(ctx context.Context, mxHost, email string) domain.ProbeResult {
			p := prober.New(prober.Config{HeloHostname: o.heloHost, SenderEmail: o.sender, IdleTimeout: o.idleTimeout, Proxy: o.proxy, Dial: o.dial})
			return p.Probe(ctx, mxHost, email)
		})
		if err != nil {
			return nil, err
		}
		if isCatchAll {
			if err := o.repos.Companies.SetCatchAll(ctx, dom); err != nil {
				return nil, err
			}
			o.logCatchAll("randomised_probe", dom)
			resp.IsCatchAll = true
			resp.PatternsTestedBeforeValid = testedBeforeValid
			resp.TimeTaken = time.Since(start)
			return resp, nil
		}
		resp.Success = true
		resp.VerifiedEmails = append(resp.VerifiedEmails, VerifiedEmail{Email: firstPositive.Email, SourceIP: firstPositive.SourceIP})
		resp.PatternsTestedBeforeValid = testedBeforeValid
	}

	// 8. Learn.
	for _, email := range emails {
		r := batch.Verdicts[email]
		if !r.Valid {
			continue
		}
		tmpl := templateByEmail[email]
		if err := o.repos.Companies.BumpPattern(ctx, company.ID, tmpl); err != nil {
			return nil, err
		}
		if err := o.repos.Patterns.BumpGlobal(ctx, tmpl); err != nil {
			return nil, err
		}
	}

	// 9. Persist Person.
	history := make([]domain.TestedEmail, 0, len(emails))
	for _, email := range emails {
		r, ok := batch.Verdicts[email]
		if !ok {
			continue
		}
		history = append(history, domain.TestedEmail{
			Email: r.Email, Verdict: r.Valid, Reason: r.Reason, Details: r.Details, TestedAt: r.FinishedAt,
		})
	}
	person := &domain.Person{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Company:         req.CompanyName,
		Domain:          dom,
		AllTestedEmails: history,
	}
	if resp.Success {
		person.VerifiedEmail = firstPositive.Email
		person.EmailVerifiedAt = firstPositive.FinishedAt
	}
	if _, err := o.repos.People.UpsertWithHistory(ctx, person); err != nil {
		return nil, err
	}

	resp.TimeTaken = time.Since(start)
	if resp.Success {
		o.logSuccess(resp)
	} else {
		resp.Retryable = allGreylisted(batch.Verdicts)
	}
	return resp, nil
}

// allGreylisted reports whether every probed candidate came back with
// a retryable SMTP code (prober.IsRetryableCode — greylisting and
// similar transient failures) rather than any definitive accept or
// reject — a signal worth a single cold retry at the orchestration
// level.
func allGreylisted(verdicts map[string]domain.ProbeResult) bool {
	if len(verdicts) == 0 {
		return false
	}
	for _, r := range verdicts {
		if !prober.IsRetryableCode(r.Code) {
			return false
		}
	}
	return true
}

// resolveDomain implements spec.md §4.6 step 1: providedDomain wins,
// else the Company's domain on file, else guessDomain.
func (o *Orchestrator) resolveDomain(ctx context.Context, req Request) (string, error) {
	if req.ProvidedDomain != "" {
		return strings.ToLower(strings.TrimSpace(req.ProvidedDomain)), nil
	}

	existing, err := o.repos.Companies.FindByNameOrDomain(ctx, req.CompanyName, "")
	if err != nil {
		return "", err
	}
	if existing != nil && existing.Domain != "" {
		return existing.Domain, nil
	}

	dom, err := o.resolver.GuessDomain(ctx, req.CompanyName)
	if err != nil {
		return "", &Error{Reason: domain.ReasonDomainUnknown, Message: err.Error()}
	}
	return dom, nil
}

func (o *Orchestrator) logGeneral(event, first, last, company string) {
	if o.router == nil {
		return
	}
	o.router.Log(logging.CategoryGeneral).WithFields(map[string]interface{}{
		"event": event, "firstName": first, "lastName": last, "company": company,
	}).Info("verify")
}

func (o *Orchestrator) logProbe(r domain.ProbeResult) {
	if o.router == nil {
		return
	}
	o.router.Log(logging.CategoryGeneral).WithFields(map[string]interface{}{
		"email": r.Email, "valid": r.Valid, "reason": r.Reason, "sourceIP": r.SourceIP,
	}).Info("probe_result")
}

func (o *Orchestrator) logBlocked(addr net.Addr, email string, r domain.ProbeResult) {
	if o.router == nil {
		return
	}
	o.router.Log(logging.CategoryBlockedIPs).WithFields(map[string]interface{}{
		"sourceIP": addr.String(), "email": email, "details": r.Details,
	}).Warn("block_signal")
}

func (o *Orchestrator) logCatchAll(method, dom string) {
	if o.router == nil {
		return
	}
	o.router.Log(logging.CategoryCatchAll).WithFields(map[string]interface{}{
		"domain": dom, "detectionMethod": method,
	}).Info("catch_all")
}

func (o *Orchestrator) logSuccess(resp *Response) {
	if o.router == nil {
		return
	}
	o.router.Log(logging.CategorySuccess).WithFields(map[string]interface{}{
		"domain": resp.Domain, "emails": len(resp.VerifiedEmails),
	}).Info("verified")
}
