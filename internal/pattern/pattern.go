// Package pattern synthesizes and ranks candidate local-parts for a
// (firstName, lastName) pair, and maps a verified address back to the
// template that produced it.
//
// Grounded on the teacher's smtp_types.go declarative-table style
// (GetSMTPCodeInfo), generalized from SMTP-code metadata to template
// metadata.
package pattern

import (
	"regexp"
	"sort"
	"strings"

	"github.com/devyanshu/emailprobe/internal/domain"
)

// Templates is the fixed, declared-order set of recognised local-part
// templates. Order matters: derive() returns the first exact match in
// this order, and rank() falls back to this order after exhausting a
// company's learned patterns.
var Templates = []string{
	"{firstName}.{lastName}",
	"{firstName}{lastName}",
	"{firstInitial}.{lastName}",
	"{firstInitial}{lastName}",
	"{firstName}_{lastName}",
	"{firstName}",
	"{lastName}.{firstName}",
	"{lastName}{firstName}",
	"{lastName}{firstInitial}",
	"{firstInitial}{lastInitial}",
}

// Expand substitutes first/last (ASCII-lowercased before substitution)
// into template and appends "@domain". Literal punctuation in the
// template is preserved verbatim.
func Expand(template, first, last, domain string) string {
	asciiLower := func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}
	f := strings.Map(asciiLower, first)
	l := strings.Map(asciiLower, last)
	local := template
	local = strings.ReplaceAll(local, "{firstName}", f)
	local = strings.ReplaceAll(local, "{lastName}", l)
	if len(f) > 0 {
		local = strings.ReplaceAll(local, "{firstInitial}", f[:1])
	} else {
		local = strings.ReplaceAll(local, "{firstInitial}", "")
	}
	if len(l) > 0 {
		local = strings.ReplaceAll(local, "{lastInitial}", l[:1])
	} else {
		local = strings.ReplaceAll(local, "{lastInitial}", "")
	}
	return local + "@" + domain
}

// Derive splits email at '@' and compares the local-part against every
// template's expansion, in declared order. The first exact match wins;
// otherwise the raw local-part is returned (not learnable, caller
// should log it and move on).
func Derive(email, first, last string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return email
	}
	localPart := email[:at]
	domainPart := email[at+1:]
	for _, tmpl := range Templates {
		if Expand(tmpl, first, last, domainPart) == email {
			return tmpl
		}
	}
	return localPart
}

// Rank builds the ordered candidate list for a company: its learned
// patterns sorted by usage count descending (ties by lastVerified
// descending), then, only when fewer than five learned patterns were
// found, every declared template not already present, in declared
// order. A company with five or more learned patterns gets those alone.
//
// The returned list has at most len(Templates) entries — every
// learned pattern is itself one of the declared templates, so de-dup
// never produces more candidates than the generator alone would.
func Rank(company *domain.Company) []string {
	seen := make(map[string]bool, len(Templates))
	var ranked []string

	if company != nil && len(company.VerifiedPatterns) > 0 {
		learned := make([]*domain.Pattern, 0, len(company.VerifiedPatterns))
		for _, p := range company.VerifiedPatterns {
			learned = append(learned, p)
		}
		sort.Slice(learned, func(i, j int) bool {
			if learned[i].UsageCount != learned[j].UsageCount {
				return learned[i].UsageCount > learned[j].UsageCount
			}
			return learned[i].LastVerified.After(learned[j].LastVerified)
		})
		for _, p := range learned {
			if !seen[p.Template] {
				seen[p.Template] = true
				ranked = append(ranked, p.Template)
			}
		}
	}

	if len(ranked) < 5 {
		for _, tmpl := range Templates {
			if !seen[tmpl] {
				seen[tmpl] = true
				ranked = append(ranked, tmpl)
			}
		}
	}

	return ranked
}

// validSyntax is the RFC 5322-ish local-part/domain shape the teacher's
// isValidEmailSyntax enforced before ever dialing an SMTP server.
// Adapted here to guard generated candidates: a template expansion of
// an unusual first/last name (leading dot, stray punctuation) should
// be dropped before it reaches the prober rather than spent as a
// wasted probe.
var validSyntax = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// IsValidSyntax reports whether email is syntactically well-formed
// enough to be worth an SMTP probe: a single '@', non-empty local and
// domain parts within RFC length limits, no leading/trailing/doubled
// dots, and a plausible TLD.
func IsValidSyntax(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	if strings.Count(email, "@") != 1 {
		return false
	}
	parts := strings.Split(email, "@")
	local, dom := parts[0], parts[1]

	if len(local) == 0 || len(local) > 64 {
		return false
	}
	if strings.Contains(local, "..") || strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return false
	}

	if len(dom) == 0 || len(dom) > 253 {
		return false
	}
	if strings.Contains(dom, "..") || strings.HasPrefix(dom, ".") || strings.HasSuffix(dom, ".") {
		return false
	}
	domParts := strings.Split(dom, ".")
	if len(domParts) < 2 || len(domParts[len(domParts)-1]) < 2 {
		return false
	}

	return validSyntax.MatchString(email)
}
