package domain

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// MaxQuestionRunes bounds the question forwarded to the model.
const MaxQuestionRunes = 2000

// ValidateQuestion trims a question and rejects empty input. Over-long
// questions are truncated rather than rejected.
func ValidateQuestion(q string) (string, error) {
	text := strings.TrimSpace(q)
	if text == "" {
		return "", NewValidationError("question", q, ErrInvalidQuestion)
	}
	if utf8.RuneCountInString(text) > MaxQuestionRunes {
		text = string([]rune(text)[:MaxQuestionRunes])
	}
	return text, nil
}

// NormalizeURL strips the fragment and surrounding whitespace. Two URLs that
// differ only by fragment normalize to the same string.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

// Host returns the host[:port] of a URL, or "" when it cannot be parsed.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// SameHost reports whether two URLs share the same host[:port].
func SameHost(a, b string) bool {
	ha := Host(a)
	return ha != "" && ha == Host(b)
}

// ValidateSeedURL checks that a seed is an absolute http(s) URL.
func ValidateSeedURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return NewValidationError("seed_url", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewValidationError("seed_url", raw, ErrConfiguration)
	}
	return nil
}
