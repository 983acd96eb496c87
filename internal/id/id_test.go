package id

import (
	"regexp"
	"testing"
)

func TestGenerate(t *testing.T) {
	pattern := regexp.MustCompile(`^(op|trig)_[0-9a-f]{12}$`)
	seen := make(map[string]bool)

	for _, prefix := range []string{"op", "trig"} {
		for range 50 {
			got := Generate(prefix)
			if !pattern.MatchString(got) {
				t.Fatalf("Generate(%q) = %q, want <prefix>_<12 hex>", prefix, got)
			}
			if seen[got] {
				t.Fatalf("duplicate id %q", got)
			}
			seen[got] = true
		}
	}
}
