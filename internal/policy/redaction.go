package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	bearerPattern = regexp.MustCompile(`(?i)\b(bearer\s+|sk-)[A-Za-z0-9._\-]{8,}`)
)

// RedactPII masks emails, card numbers, phone numbers and API credentials.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range []struct {
		re   *regexp.Regexp
		mask string
	}{
		{bearerPattern, "[REDACTED_SECRET]"},
		{emailPattern, "[REDACTED_EMAIL]"},
		// Cards before phones so long digit runs are not read as phone numbers.
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := r.re.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// PromptPreview is the form in which user text may appear in logs: redacted,
// single-line and cut to max runes.
func PromptPreview(prompt string, max int) string {
	out, _ := RedactPII(strings.Join(strings.Fields(prompt), " "))
	if max > 0 && utf8.RuneCountInString(out) > max {
		runes := []rune(out)
		out = string(runes[:max]) + "…"
	}
	return out
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	first, _ := utf8.DecodeRuneInString(email)
	return string(first) + "***" + email[at:]
}
