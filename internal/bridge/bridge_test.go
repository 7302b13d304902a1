package bridge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		ep   Endpoint
		want string
	}{
		{Endpoint{Host: "127.0.0.1", Port: 8384}, "ws://127.0.0.1:8384/"},
		{Endpoint{Port: 53122}, "ws://127.0.0.1:53122/"},
		{Endpoint{Host: "::1", Port: 9000}, "ws://[::1]:9000/"},
	}
	for _, tt := range tests {
		if got := tt.ep.URL(); got != tt.want {
			t.Errorf("URL() = %q, want %q", got, tt.want)
		}
	}
}

func TestEndpointValidate(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		if err := (Endpoint{Port: port}).Validate(); err == nil {
			t.Errorf("Port %d should be rejected", port)
		}
	}
	for _, port := range []int{1, 8384, 65535} {
		if err := (Endpoint{Port: port}).Validate(); err != nil {
			t.Errorf("Port %d should be accepted: %v", port, err)
		}
	}
}

func TestNoopBridge(t *testing.T) {
	ctx := context.Background()
	b := Noop{Endpoint: Endpoint{Host: "127.0.0.1", Port: 8384}}

	if err := b.RegisterInterest(ctx, "speed"); err != nil {
		t.Errorf("RegisterInterest failed: %v", err)
	}
	if err := b.DeregisterInterest(ctx, "speed"); err != nil {
		t.Errorf("DeregisterInterest failed: %v", err)
	}

	_, err := b.CurrentValue(ctx, "speed")
	if !errors.Is(err, ErrNoValue) {
		t.Errorf("Expected ErrNoValue, got %v", err)
	}

	url, err := Resolver(b)(ctx)
	if err != nil {
		t.Fatalf("Resolver failed: %v", err)
	}
	if url != "ws://127.0.0.1:8384/" {
		t.Errorf("Unexpected url %q", url)
	}

	var callErr *HostCallError
	if _, err := (Noop{}).ResolveEndpoint(ctx); !errors.As(err, &callErr) || callErr.Op != OpResolve {
		t.Errorf("Expected resolve HostCallError for zero endpoint, got %v", err)
	}
}
