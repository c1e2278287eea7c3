package llm

import "regexp"

// PII redaction applied to every string that leaves the trust boundary
// toward an external model: free-text fields, log lines, and stored prompts.
// Replacement tokens are labeled so redacted text stays debuggable.
// Redaction is idempotent: tokens contain no digits or address shapes, so a
// second pass leaves them unchanged.
var (
	reSIN = regexp.MustCompile(`\b\d{3}[- ]?\d{3}[- ]?\d{3}\b`)
	// 16-digit card numbers, with optional group separators. Checked before
	// the phone pattern so a card is never half-matched as a phone.
	reCard   = regexp.MustCompile(`\b(?:\d[ -]?){15}\d\b`)
	rePhone  = regexp.MustCompile(`\b(?:\+?1[- .]?)?(?:\(\d{3}\)|\d{3})[- .]?\d{3}[- .]?\d{4}\b`)
	reEmail  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	rePostal = regexp.MustCompile(`\b[A-Za-z]\d[A-Za-z][ -]?\d[A-Za-z]\d\b`)
)

// Redact replaces SINs, card numbers, phone numbers, emails, and postal
// codes with labeled tokens.
func Redact(s string) string {
	s = reCard.ReplaceAllString(s, "[CARD-REDACTED]")
	s = reSIN.ReplaceAllString(s, "[SIN-REDACTED]")
	s = rePhone.ReplaceAllString(s, "[PHONE-REDACTED]")
	s = reEmail.ReplaceAllString(s, "[EMAIL-REDACTED]")
	s = rePostal.ReplaceAllString(s, "[POSTAL-REDACTED]")
	return s
}

// RedactAll maps Redact over a string slice, in place semantics on a copy.
func RedactAll(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = Redact(s)
	}
	return out
}
