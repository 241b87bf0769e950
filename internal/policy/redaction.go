package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)

	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`sk-[a-zA-Z0-9_\-]{20,}`),              // OpenAI API keys
		regexp.MustCompile(`ek_[a-zA-Z0-9_\-]{8,}`),               // realtime ephemeral secrets
		regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._\-]+`),       // Authorization headers
		regexp.MustCompile(`"client_secret"\s*:\s*"[^"]*"`),       // token endpoint payloads
		regexp.MustCompile(`"value"\s*:\s*"ek_[^"]*"`),            // upstream client secret payloads
		regexp.MustCompile(`(?i)openai-insecure-api-key\.[^,\s]+`), // websocket subprotocol auth
	}
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card before phone so long digit runs are not classified as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactSecrets masks API keys, bearer tokens and ephemeral client secrets.
func RedactSecrets(input string) string {
	out := input
	for _, p := range secretPatterns {
		out = p.ReplaceAllString(out, "[REDACTED_SECRET]")
	}
	return out
}
