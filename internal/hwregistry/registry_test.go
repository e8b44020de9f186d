package hwregistry

import (
	"runtime"
	"testing"
)

func TestCandidatesForPlatformKnownOS(t *testing.T) {
	got := CandidatesForPlatform()
	switch runtime.GOOS {
	case "windows", "darwin", "linux":
		if len(got) == 0 {
			t.Fatalf("expected candidates for %s, got none", runtime.GOOS)
		}
	}
}

func TestAcquireRejectsUnknownAccelerator(t *testing.T) {
	r := New()
	if _, err := r.Acquire("not-a-real-accelerator"); err == nil {
		t.Fatalf("expected error for unknown accelerator")
	}
	if r.RefCount("not-a-real-accelerator") != 0 {
		t.Fatalf("unknown accelerator should never be tracked")
	}
}

func TestReleaseOnUnknownNameIsANoOp(t *testing.T) {
	r := New()
	r.Release("never-acquired") // must not panic
}
