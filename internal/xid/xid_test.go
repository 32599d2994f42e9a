package xid

import (
	"strings"
	"testing"
)

func TestNewKeepsPrefixAndIsUnique(t *testing.T) {
	a := New("sale")
	b := New("sale")
	if !strings.HasPrefix(a, "sale-") {
		t.Fatalf("expected sale- prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

func TestShortLength(t *testing.T) {
	if got := Short(8); len(got) != 8 || strings.ToUpper(got) != got {
		t.Fatalf("expected 8 upper-case chars, got %q", got)
	}
}
