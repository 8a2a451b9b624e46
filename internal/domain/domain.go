// Package domain holds the persistent entity shapes shared by the
// repository, orchestrator, and HTTP layers.
package domain

import "time"

// Reason enumerates why a probe did not come back valid. Required
// whenever Valid is false.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNoMXRecord        Reason = "NO_MX_RECORD"
	ReasonTimeout            Reason = "TIMEOUT"
	ReasonConnectionError    Reason = "CONNECTION_ERROR"
	ReasonInvalidRecipient   Reason = "INVALID_RECIPIENT"
	ReasonFullMailbox        Reason = "FULL_MAILBOX"
	ReasonUnknownError       Reason = "UNKNOWN_ERROR"
	ReasonCatchAllDomain     Reason = "CATCH_ALL_DOMAIN"
	ReasonVerificationError  Reason = "VERIFICATION_ERROR"
	ReasonDomainUnknown      Reason = "DOMAIN_UNKNOWN"
)

// ProbeResult is the transient outcome of one SMTP RCPT-probe attempt.
type ProbeResult struct {
	Email      string
	Valid      bool
	Reason     Reason
	Details    string
	SourceIP   string
	Blocked    bool // side-band block-signal flag, see prober package
	// Code is the raw SMTP reply code the RCPT stage returned, when
	// one was received (0 for transport-level failures). Not part of
	// the spec's Reason enum; kept so orchestration-level retry policy
	// can distinguish a 450/451/421 greylist from other UNKNOWN_ERROR
	// causes without re-parsing Details.
	Code       int
	StartedAt  time.Time
	FinishedAt time.Time
}

// TestedEmail is one entry in a Person's append-only probe history.
type TestedEmail struct {
	Email    string
	Verdict  bool
	Reason   Reason
	Details  string
	TestedAt time.Time
}

// Pattern is one verified local-part template for a Company, with its
// usage count and the last time it was reconfirmed.
type Pattern struct {
	Template     string
	UsageCount   int
	LastVerified time.Time
}

// Company is the per-employer record: its resolved domain, catch-all
// status, and the set of verified local-part templates.
type Company struct {
	ID               string
	Name             string
	Domain           string
	IsCatchAll       bool
	VerifiedPatterns map[string]*Pattern
}

// PatternGlobal is the cross-company usage counter for a template.
type PatternGlobal struct {
	Template   string
	UsageCount int
}

// Person is the natural-keyed (firstName, lastName, company) record of
// everything ever probed for one individual.
type Person struct {
	ID               string
	FirstName        string
	LastName         string
	Company          string
	Domain           string
	VerifiedEmail    string // empty when no probe has ever succeeded
	EmailVerifiedAt  time.Time
	AllTestedEmails  []TestedEmail
}

// CatchAllDomain records a domain whose mail server has been shown to
// accept any local-part; presence short-circuits all future probing.
type CatchAllDomain struct {
	Domain               string
	VerificationAttempts int
	LastVerified         time.Time
}

// MXRecord is one (exchange, priority) pair from a DNS MX lookup.
type MXRecord struct {
	Exchange string
	Priority uint16
}
