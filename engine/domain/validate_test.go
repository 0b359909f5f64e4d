package domain

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalizeURL_StripsFragment(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://promtior.ai/about#team", "https://promtior.ai/about"},
		{"https://promtior.ai/about#", "https://promtior.ai/about"},
		{"https://promtior.ai/about", "https://promtior.ai/about"},
		{"  https://promtior.ai/  ", "https://promtior.ai/"},
		{"https://promtior.ai/a?x=1#y", "https://promtior.ai/a?x=1"},
	}
	for _, c := range cases {
		if got := NormalizeURL(c.in); got != c.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeURL_FragmentVariantsAgree(t *testing.T) {
	a := NormalizeURL("https://promtior.ai/services#one")
	b := NormalizeURL("https://promtior.ai/services#two")
	if a != b {
		t.Fatalf("expected equal, got %q vs %q", a, b)
	}
	if NormalizeURL(a) != a {
		t.Fatalf("not idempotent: %q", NormalizeURL(a))
	}
}

func TestSameHost(t *testing.T) {
	if !SameHost("https://promtior.ai/a", "https://promtior.ai/b?c=d") {
		t.Error("expected same host")
	}
	if SameHost("https://promtior.ai/a", "https://blog.promtior.ai/a") {
		t.Error("subdomain must not match")
	}
	if SameHost("https://promtior.ai:8443/", "https://promtior.ai/") {
		t.Error("port is part of the host")
	}
	if SameHost("mailto:hi@promtior.ai", "mailto:hi@promtior.ai") {
		t.Error("host-less URLs never match")
	}
}

func TestValidateQuestion(t *testing.T) {
	got, err := ValidateQuestion("  When was Promtior founded?  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "When was Promtior founded?" {
		t.Errorf("unexpected question %q", got)
	}

	_, err = ValidateQuestion(" \t\n")
	if !errors.Is(err, ErrInvalidQuestion) {
		t.Errorf("expected ErrInvalidQuestion, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "question" {
		t.Errorf("expected ValidationError on question, got %v", err)
	}

	long := strings.Repeat("é", MaxQuestionRunes+50)
	got, err = ValidateQuestion(long)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := utf8.RuneCountInString(got); n != MaxQuestionRunes {
		t.Errorf("expected %d runes, got %d", MaxQuestionRunes, n)
	}
}

func TestValidateSeedURL(t *testing.T) {
	if err := ValidateSeedURL("https://promtior.ai/"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "promtior.ai", "ftp://promtior.ai/", "https://"} {
		if err := ValidateSeedURL(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestFetchError(t *testing.T) {
	err := &FetchError{URL: "https://promtior.ai/x", Status: 404}
	if !errors.Is(err, ErrFetch) {
		t.Error("FetchError must match ErrFetch")
	}
	if err.Error() != "fetch https://promtior.ai/x: status 404" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	inner := errors.New("connection refused")
	err = &FetchError{URL: "https://promtior.ai/y", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("expected to unwrap to inner error")
	}
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("OPENAI_API_KEY", "required for provider openai")
	if !errors.Is(err, ErrConfiguration) {
		t.Error("ConfigError must match ErrConfiguration")
	}
	if err.Error() != "config: OPENAI_API_KEY: required for provider openai" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
