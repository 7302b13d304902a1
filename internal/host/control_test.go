package host

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smazurov/racewire/internal/bridge"
	"github.com/smazurov/racewire/internal/codec"
)

// controlFixture serves the control API for a host whose data channel is
// bound, and returns an HTTP bridge pointed at it.
func controlFixture(t *testing.T) (*Host, *bridge.HTTP) {
	t.Helper()
	h := New(Options{Logger: quietLogger()})
	if err := h.server.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.server.Close() })

	handler, _ := NewControlHandler(h)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b, err := bridge.NewHTTP(bridge.HTTPOptions{BaseURL: srv.URL, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	return h, b
}

func TestControlEndpoint(t *testing.T) {
	h, b := controlFixture(t)

	ep, err := b.ResolveEndpoint(context.Background())
	if err != nil {
		t.Fatalf("ResolveEndpoint failed: %v", err)
	}
	if ep.Port != h.server.Port() {
		t.Errorf("port = %d, want %d", ep.Port, h.server.Port())
	}
	if ep.Host != "127.0.0.1" {
		t.Errorf("host = %q, want 127.0.0.1", ep.Host)
	}
}

func TestControlEndpointNotReady(t *testing.T) {
	h := New(Options{Logger: quietLogger()})
	handler, _ := NewControlHandler(h)

	req := httptest.NewRequest(http.MethodGet, "/api/endpoint", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestControlRegisterUnregister(t *testing.T) {
	h, b := controlFixture(t)
	ctx := context.Background()

	if err := b.RegisterInterest(ctx, "gear"); err != nil {
		t.Fatalf("RegisterInterest failed: %v", err)
	}
	if !h.emitter.Registered()["gear"] {
		t.Fatal("gear not registered")
	}

	if err := b.DeregisterInterest(ctx, "gear"); err != nil {
		t.Fatalf("DeregisterInterest failed: %v", err)
	}
	if h.emitter.Registered()["gear"] {
		t.Fatal("gear still registered")
	}

	err := b.DeregisterInterest(ctx, "gear")
	var status *bridge.StatusError
	if !errors.As(err, &status) || status.Status != http.StatusConflict {
		t.Errorf("expected 409 for unregistered topic, got %v", err)
	}
}

func TestControlUnknownTopic(t *testing.T) {
	_, b := controlFixture(t)

	err := b.RegisterInterest(context.Background(), "oil_temp")
	var status *bridge.StatusError
	if !errors.As(err, &status) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if status.Status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", status.Status)
	}
	if status.Detail == "" {
		t.Error("expected problem detail in error")
	}

	if _, err := b.CurrentValue(context.Background(), "oil_temp"); errors.Is(err, bridge.ErrNoValue) {
		t.Error("unknown topic must not look like a missing value")
	}
}

func TestControlCurrentValue(t *testing.T) {
	h, b := controlFixture(t)
	ctx := context.Background()

	if _, err := b.CurrentValue(ctx, "gear"); !errors.Is(err, bridge.ErrNoValue) {
		t.Fatalf("expected ErrNoValue, got %v", err)
	}

	if err := h.emitter.Set("gear", "R"); err != nil {
		t.Fatal(err)
	}
	raw, err := b.CurrentValue(ctx, "gear")
	if err != nil {
		t.Fatalf("CurrentValue failed: %v", err)
	}
	var gear string
	if err := codec.UnmarshalPayload(raw, &gear); err != nil || gear != "R" {
		t.Errorf("gear = %q (%v), want R", gear, err)
	}
}
