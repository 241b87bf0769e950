package watch

import (
	"testing"
	"time"
)

func TestNotifierCoalescesBursts(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe()
	defer cancel()

	n.Notify()
	n.Notify()
	n.Notify()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("expected a notification")
	}
	select {
	case <-ch:
		t.Fatalf("burst should coalesce into one wakeup")
	default:
	}
}

func TestNotifierCancelClosesChannel(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	n.Notify()
}
