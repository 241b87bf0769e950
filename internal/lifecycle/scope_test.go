package lifecycle

import (
	"testing"
)

func TestScopeReleaseRunsHooksOnceInReverseOrder(t *testing.T) {
	s := NewScope()
	var got []string
	s.Register("first", func() { got = append(got, "first") })
	s.Register("second", func() { got = append(got, "second") })

	s.Release()
	s.Release()

	if len(got) != 2 || got[0] != "second" || got[1] != "first" {
		t.Fatalf("hooks ran as %v, want [second first]", got)
	}
	if !s.Released() {
		t.Fatalf("Released() = false after Release")
	}
}

func TestScopeDeregisterSkipsHook(t *testing.T) {
	s := NewScope()
	calls := 0
	deregister := s.Register("voice", func() { calls++ })
	deregister()
	deregister()

	if names := s.Names(); len(names) != 0 {
		t.Fatalf("Names() = %v, want empty", names)
	}
	s.Release()
	if calls != 0 {
		t.Fatalf("deregistered hook ran %d times", calls)
	}
}

func TestScopeRegisterAfterReleaseRunsImmediately(t *testing.T) {
	s := NewScope()
	s.Release()

	calls := 0
	s.Register("late", func() { calls++ })
	if calls != 1 {
		t.Fatalf("late hook calls = %d, want 1", calls)
	}
}
