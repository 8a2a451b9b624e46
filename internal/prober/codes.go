package prober

import "github.com/devyanshu/emailprobe/internal/domain"

// replyAction is what an RCPT reply code implies should happen next.
// Adapted from the teacher's smtp_types.go SMTPCodeInfo table, folded
// down from its (Category, Type, Action, ValidationResult, ...)
// indirection into exactly the three facts the prober's state machine
// and the orchestrator's retry policy need: the Reason to record, the
// success bit, and whether the failure is transient enough to retry
// the whole request later.
type replyAction struct {
	reason    domain.Reason
	valid     bool
	retryable bool
}

// rcptActions enumerates the RCPT-stage codes the teacher's table gave
// specific handling to. Per spec.md §4.3, valid/reason recognise
// exactly four outcomes — 250 (valid), 550/551/553
// (INVALID_RECIPIENT), 452 (FULL_MAILBOX), and everything else
// (UNKNOWN_ERROR, invalid) — retryable is the only orthogonal
// enrichment carried over from the teacher's fuller table, consumed by
// allGreylisted and never allowed to change valid/reason.
var rcptActions = map[int]replyAction{
	250: {reason: domain.ReasonNone, valid: true},
	251: {reason: domain.ReasonUnknownError},
	252: {reason: domain.ReasonUnknownError},

	421: {reason: domain.ReasonUnknownError, retryable: true}, // service unavailable, closing channel
	450: {reason: domain.ReasonUnknownError, retryable: true}, // greylisting
	451: {reason: domain.ReasonUnknownError, retryable: true}, // local error, often greylisting
	452: {reason: domain.ReasonFullMailbox},
	503: {reason: domain.ReasonUnknownError, retryable: true}, // bad command sequence

	500: {reason: domain.ReasonUnknownError},
	501: {reason: domain.ReasonUnknownError},
	502: {reason: domain.ReasonUnknownError},
	504: {reason: domain.ReasonUnknownError},
	521: {reason: domain.ReasonUnknownError},
	530: {reason: domain.ReasonUnknownError},

	550: {reason: domain.ReasonInvalidRecipient}, // user unknown, hard bounce
	551: {reason: domain.ReasonInvalidRecipient},
	552: {reason: domain.ReasonUnknownError},
	553: {reason: domain.ReasonInvalidRecipient},
	554: {reason: domain.ReasonUnknownError},
}

// classifyRCPT implements the spec.md §4.3 RCPT-reply classification
// exactly: 250 is the only valid code, 550/551/553 are
// INVALID_RECIPIENT, 452 is FULL_MAILBOX, and every other code is
// UNKNOWN_ERROR.
func classifyRCPT(code int) (domain.Reason, bool) {
	if a, ok := rcptActions[code]; ok {
		return a.reason, a.valid
	}
	return domain.ReasonUnknownError, false
}

// isRetryableCode reports whether code is transient enough to warrant
// one orchestration-level retry of the whole request, per the
// teacher's IsRetryable/greylisting handling. Codes absent from
// rcptActions fall back to the 4xx range, mirroring the teacher's
// range-based default.
func isRetryableCode(code int) bool {
	if a, ok := rcptActions[code]; ok {
		return a.retryable
	}
	return code/100 == 4
}

// IsRetryableCode is the exported form isRetryableCode, used by
// internal/orchestrator to decide Response.Retryable without
// duplicating this table.
func IsRetryableCode(code int) bool {
	return isRetryableCode(code)
}
