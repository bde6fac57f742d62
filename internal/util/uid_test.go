package util

import (
	"regexp"
	"testing"
)

var uidPattern = regexp.MustCompile(`^2\.25\.(0|[1-9][0-9]*)$`)

func TestNewUID_Format(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		uid := NewUID()
		if !uidPattern.MatchString(uid) {
			t.Fatalf("UID %q is not a valid 2.25 UID", uid)
		}
		if len(uid) > 64 {
			t.Errorf("UID %q exceeds 64 characters", uid)
		}
		if seen[uid] {
			t.Errorf("Duplicate UID %q", uid)
		}
		seen[uid] = true
	}
}

func TestDeterministicUID(t *testing.T) {
	a := DeterministicUID("case-1/series")
	b := DeterministicUID("case-1/series")
	c := DeterministicUID("case-2/series")

	if a != b {
		t.Errorf("Same seed should produce same UID: %s != %s", a, b)
	}
	if a == c {
		t.Errorf("Different seeds produced the same UID %s", a)
	}
	if !uidPattern.MatchString(a) {
		t.Errorf("UID %q is not a valid 2.25 UID", a)
	}
}
