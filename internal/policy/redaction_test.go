package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIISecrets(t *testing.T) {
	out, changed := RedactPII("my key is sk-abcdef1234567890 ok")
	if !changed || strings.Contains(out, "abcdef") {
		t.Fatalf("secret not redacted: %q", out)
	}
	if _, changed := RedactPII("nothing to see"); changed {
		t.Fatalf("changed = true for clean input")
	}
}

func TestPromptPreview(t *testing.T) {
	got := PromptPreview("hello\n  world  from bob@example.com", 0)
	if got != "hello world from [REDACTED_EMAIL]" {
		t.Fatalf("PromptPreview() = %q", got)
	}
	if got := PromptPreview("abcdefgh", 3); got != "abc…" {
		t.Fatalf("PromptPreview() truncated = %q", got)
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"ada@example.com": "a***@example.com",
		"nope":            "***",
		"@example.com":    "***",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
