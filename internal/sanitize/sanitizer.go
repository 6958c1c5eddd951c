// Package sanitize scrubs raw error events of control characters, HTML
// markup, and sensitive patterns (card numbers, SSNs, secrets, and
// optionally PII) before they are persisted.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"errwatch/internal/model"
)

const maxCodePoints = 2000

var (
	controlCharsRe = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	htmlTagRe      = regexp.MustCompile(`<[^>]*>`)

	cardRe = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)
	ssnRe  = regexp.MustCompile(`\b\d{3}[- ]?\d{2}[- ]?\d{4}\b`)

	secretAssignRe = regexp.MustCompile(`(?i)(password|passwd|pwd|secret|api[_-]?key|token)\s*[:=]\s*\S+`)
	bearerRe       = regexp.MustCompile(`(?i)bearer\s+\S+`)
	genericTokenRe = regexp.MustCompile(`(?i)\b((?:sk|pk|api|key|token)[-_]?[A-Za-z0-9]{8,})\b`)

	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d{1,3}?[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`)
	ipv4Re  = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d?\d)\b`)
)

// Sanitizer scrubs an event's strings according to a project's scrub
// policy plus the unconditional redaction rules.
type Sanitizer struct{}

// New returns a ready-to-use Sanitizer.
func New() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize returns a structurally identical copy of ev with every
// string field scrubbed. HasMetadata/HasUserContext flags are
// preserved unchanged so downstream merge logic can distinguish an
// absent field from an explicitly empty one.
func (s *Sanitizer) Sanitize(ev model.RawEvent, policy model.ScrubPolicy) model.RawEvent {
	out := ev
	out.Message = s.scrubString(ev.Message, policy)
	out.Environment = s.scrubString(ev.Environment, policy)

	out.StackTrace = make([]model.StackFrame, len(ev.StackTrace))
	for i, f := range ev.StackTrace {
		out.StackTrace[i] = model.StackFrame{
			File:     s.scrubString(f.File, policy),
			Line:     f.Line,
			Column:   f.Column,
			Function: s.scrubString(f.Function, policy),
			InApp:    f.InApp,
		}
	}

	if ev.HasMetadata {
		out.Metadata = s.scrubValue(ev.Metadata, policy).(map[string]any)
	}
	if ev.HasUserContext {
		out.UserContext = s.scrubValue(ev.UserContext, policy).(map[string]any)
	}
	if ev.Context != nil {
		out.Context = s.scrubValue(ev.Context, policy).(map[string]any)
	}
	if ev.Request != nil {
		out.Request = s.scrubValue(ev.Request, policy).(map[string]any)
	}

	return out
}

// scrubValue recurses across maps and slices; booleans and numbers
// pass through unchanged.
func (s *Sanitizer) scrubValue(v any, policy model.ScrubPolicy) any {
	switch t := v.(type) {
	case string:
		return s.scrubString(t, policy)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = s.scrubValue(val, policy)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.scrubValue(val, policy)
		}
		return out
	default:
		return v
	}
}

func (s *Sanitizer) scrubString(str string, policy model.ScrubPolicy) string {
	str = controlCharsRe.ReplaceAllString(str, "")
	str = htmlTagRe.ReplaceAllString(str, "")

	str = cardRe.ReplaceAllString(str, "[REDACTED:CARD]")
	str = ssnRe.ReplaceAllStringFunc(str, func(m string) string {
		return maskSSN(m)
	})

	str = secretAssignRe.ReplaceAllStringFunc(str, func(m string) string {
		idx := strings.IndexAny(m, ":=")
		if idx < 0 {
			return m
		}
		return m[:idx] + "=[REDACTED]"
	})
	str = bearerRe.ReplaceAllString(str, "bearer [REDACTED]")
	str = genericTokenRe.ReplaceAllStringFunc(str, maskToken)

	if policy.RemoveEmails {
		str = emailRe.ReplaceAllString(str, "[REDACTED:EMAIL]")
	}
	if policy.RemovePhones {
		str = phoneRe.ReplaceAllString(str, "[REDACTED:PHONE]")
	}
	if policy.RemoveIPs {
		str = ipv4Re.ReplaceAllString(str, "[REDACTED:IP]")
	}

	return clamp(str, maxCodePoints)
}

// maskSSN rewrites "XXX-XX-XXXX" (with optional separators) to
// "XXX-**-XXXX", always using hyphens as separators in the output.
func maskSSN(m string) string {
	digits := make([]byte, 0, len(m))
	for i := 0; i < len(m); i++ {
		if m[i] >= '0' && m[i] <= '9' {
			digits = append(digits, m[i])
		}
	}
	if len(digits) != 9 {
		return m
	}
	return string(digits[:3]) + "-**-" + string(digits[5:9])
}

// maskToken replaces the interior of a generic secret-shaped token,
// preserving the last two characters so logs remain distinguishable
// without exposing the secret.
func maskToken(tok string) string {
	if len(tok) < 8 {
		return tok
	}
	keep := 2
	masked := strings.Repeat("*", len(tok)-keep)
	return masked + tok[len(tok)-keep:]
}

// clamp truncates a string to maxPoints code points, appending a
// trailing ellipsis character when truncation occurs.
func clamp(s string, maxPoints int) string {
	if utf8.RuneCountInString(s) <= maxPoints {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxPoints]) + "…"
}
