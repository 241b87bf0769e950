package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("127.0.0.1:5000")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RemoteAddr != "127.0.0.1:5000" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerSingleRequestInFlight(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("")
	if err := m.StartRequest(s.ID, "r1"); err != nil {
		t.Fatalf("StartRequest() error = %v", err)
	}
	if err := m.StartRequest(s.ID, "r2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("StartRequest(r2) error = %v, want ErrBusy", err)
	}
	if err := m.FinishRequest(s.ID, "r1"); err != nil {
		t.Fatalf("FinishRequest() error = %v", err)
	}
	if err := m.StartRequest(s.ID, "r2"); err != nil {
		t.Fatalf("StartRequest(r2) after finish error = %v", err)
	}

	got, _ := m.Get(s.ID)
	if got.ActiveRequestID != "r2" || got.RequestCount != 2 {
		t.Fatalf("unexpected session state: %+v", got)
	}

	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := m.StartRequest(s.ID, "r3"); !errors.Is(err, ErrEnded) {
		t.Fatalf("StartRequest() after end error = %v, want ErrEnded", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	var expired atomic.Int32
	m.SetExpireHook(func(*Session) { expired.Add(1) })
	s := m.Create("")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	waitFor(t, func() bool { return expired.Load() == 1 })
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}

	waitFor(t, func() bool {
		_, err := m.Get(s.ID)
		return errors.Is(err, ErrNotFound)
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
