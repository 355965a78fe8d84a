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

func TestRedactPIIFunctionArguments(t *testing.T) {
	args := `{"query":"call me back on 416-555-0199 about soc2"}`
	out, changed := RedactPII(args)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if strings.Contains(out, "555-0199") {
		t.Fatalf("phone number survived redaction: %q", out)
	}
	if !strings.Contains(out, "soc2") {
		t.Fatalf("non-PII content lost: %q", out)
	}

	plain := `{"service":"pentest"}`
	if got, changed := RedactPII(plain); changed || got != plain {
		t.Fatalf("RedactPII(%q) = %q, %v, want unchanged", plain, got, changed)
	}
}

func TestForLogTruncates(t *testing.T) {
	if got := ForLog("reach me at sam@example.com", 0); got != "reach me at [REDACTED_EMAIL]" {
		t.Fatalf("ForLog() = %q", got)
	}
	if got := ForLog("abcdefghij", 4); got != "abcd..." {
		t.Fatalf("ForLog() = %q, want %q", got, "abcd...")
	}
}
