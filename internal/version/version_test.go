package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	Version, Commit = "1.2.3", "abc123"
	defer func() { Version, Commit = "dev", "unknown" }()

	out := String()
	if !strings.Contains(out, "1.2.3") || !strings.Contains(out, "abc123") {
		t.Fatalf("unexpected output %q", out)
	}
}
