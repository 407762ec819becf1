package ids

import (
	"strings"
	"testing"
)

func TestUUIDProviderIssuesDistinctIDs(t *testing.T) {
	provider := NewUUIDProvider()
	first, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct identifiers, got %s twice", first)
	}
	if first > second {
		t.Fatalf("expected time-ordered identifiers, got %s before %s", first, second)
	}
}

func TestNewJoinCodeFormat(t *testing.T) {
	code, err := NewJoinCode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != joinCodeLength {
		t.Fatalf("expected %d characters, got %q", joinCodeLength, code)
	}
	if strings.ToUpper(code) != code {
		t.Fatalf("expected upper-case code, got %q", code)
	}
}
