package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Redactor scrubs credentials from log messages and field values.
type Redactor struct {
	keys     []string
	patterns []*regexp.Regexp
}

// DefaultRedactor redacts the usual secret-bearing keys, JWTs, bearer
// headers, and Telegram bot tokens.
func DefaultRedactor() *Redactor {
	return &Redactor{
		keys: []string{"password", "secret", "token", "authorization", "api_key", "apikey", "credential"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
			regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`),
			regexp.MustCompile(`\d{5,}:[A-Za-z0-9_-]{30,}`),
		},
	}
}

// Redact replaces every pattern match in s.
func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

// RedactFields returns a copy of fields with sensitive keys masked and string
// values scrubbed.
func (r *Redactor) RedactFields(fields map[string]interface{}) map[string]interface{} {
	if r == nil || len(fields) == 0 {
		return fields
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if r.sensitive(k) {
			out[k] = redacted
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = r.Redact(val)
		case error:
			out[k] = r.Redact(val.Error())
		default:
			out[k] = v
		}
	}
	return out
}

func (r *Redactor) sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range r.keys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
