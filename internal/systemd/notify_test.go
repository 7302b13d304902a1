package systemd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func newTestNotifier(r *recorder, interval time.Duration, err error) *Notifier {
	n := NewNotifier(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	n.notify = r.notify
	n.watchdog = func() (time.Duration, error) { return interval, err }
	return n
}

func TestNotifierStates(t *testing.T) {
	r := &recorder{}
	n := newTestNotifier(r, 0, nil)

	n.Ready()
	n.Status("serving 3 topics")
	n.Stopping()

	want := []string{"READY=1", "STATUS=serving 3 topics", "STOPPING=1"}
	if len(r.states) != len(want) {
		t.Fatalf("states = %v, want %v", r.states, want)
	}
	for i := range want {
		if r.states[i] != want[i] {
			t.Errorf("state %d = %q, want %q", i, r.states[i], want[i])
		}
	}
}

func TestNotifierWatchdogDisabled(t *testing.T) {
	r := &recorder{}
	n := newTestNotifier(r, 0, nil)

	done := make(chan struct{})
	go func() {
		n.RunWatchdog(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunWatchdog should return when no watchdog is configured")
	}

	n = newTestNotifier(r, 0, errors.New("bad WATCHDOG_USEC"))
	n.RunWatchdog(context.Background())
}

func TestNotifierWatchdogPings(t *testing.T) {
	r := &recorder{}
	n := newTestNotifier(r, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.RunWatchdog(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for r.count("WATCHDOG=1") < 2 {
		select {
		case <-deadline:
			t.Fatal("watchdog was not pinged")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
