package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type fakeHost struct {
	mu    sync.Mutex
	calls []string
	gear  []byte
	port  int
	delay time.Duration
}

func (f *fakeHost) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeHost) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/endpoint", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"host":"127.0.0.1","port":` + strconv.Itoa(f.port) + `}`))
	})
	mux.HandleFunc("POST /api/topics/{topic}/register", func(w http.ResponseWriter, r *http.Request) {
		topic := r.PathValue("topic")
		if topic == "bogus" {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":"unknown topic bogus"}`))
			return
		}
		f.record("register " + topic)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/topics/{topic}/unregister", func(w http.ResponseWriter, r *http.Request) {
		f.record("unregister " + r.PathValue("topic"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/topics/{topic}/current", func(w http.ResponseWriter, r *http.Request) {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		if r.PathValue("topic") != "gear" || f.gear == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", ContentTypeMsgpack)
		_, _ = w.Write(f.gear)
	})
	return mux
}

func newHTTPBridge(t *testing.T, host *fakeHost, opts HTTPOptions) *HTTP {
	t.Helper()
	srv := httptest.NewServer(host.handler())
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	opts.Logger = quietLogger()
	b, err := NewHTTP(opts)
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	return b
}

func TestHTTPResolveEndpoint(t *testing.T) {
	b := newHTTPBridge(t, &fakeHost{port: 53122}, HTTPOptions{})

	ep, err := b.ResolveEndpoint(context.Background())
	if err != nil {
		t.Fatalf("ResolveEndpoint failed: %v", err)
	}
	if ep.URL() != "ws://127.0.0.1:53122/" {
		t.Errorf("Unexpected endpoint %s", ep.URL())
	}
}

func TestHTTPResolveRejectsBadPort(t *testing.T) {
	b := newHTTPBridge(t, &fakeHost{port: 0}, HTTPOptions{})

	_, err := b.ResolveEndpoint(context.Background())
	var callErr *HostCallError
	if !errors.As(err, &callErr) || callErr.Op != OpResolve {
		t.Fatalf("Expected resolve HostCallError, got %v", err)
	}
}

func TestHTTPInterestCalls(t *testing.T) {
	host := &fakeHost{}
	b := newHTTPBridge(t, host, HTTPOptions{})
	ctx := context.Background()

	if err := b.RegisterInterest(ctx, "standings"); err != nil {
		t.Fatalf("RegisterInterest failed: %v", err)
	}
	if err := b.DeregisterInterest(ctx, "standings"); err != nil {
		t.Fatalf("DeregisterInterest failed: %v", err)
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	want := []string{"register standings", "unregister standings"}
	if len(host.calls) != 2 || host.calls[0] != want[0] || host.calls[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, host.calls)
	}
}

func TestHTTPRegisterErrorCarriesDetail(t *testing.T) {
	b := newHTTPBridge(t, &fakeHost{}, HTTPOptions{})

	err := b.RegisterInterest(context.Background(), "bogus")
	var callErr *HostCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("Expected HostCallError, got %v", err)
	}
	if callErr.Op != OpRegister || callErr.Topic != "bogus" {
		t.Errorf("Unexpected error fields: %+v", callErr)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 StatusError, got %v", err)
	}
	if statusErr.Detail != "unknown topic bogus" {
		t.Errorf("Unexpected detail %q", statusErr.Detail)
	}
}

func TestHTTPCurrentValue(t *testing.T) {
	payload, err := msgpack.Marshal("3")
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	b := newHTTPBridge(t, &fakeHost{gear: payload}, HTTPOptions{})

	raw, err := b.CurrentValue(context.Background(), "gear")
	if err != nil {
		t.Fatalf("CurrentValue failed: %v", err)
	}
	var gear string
	if err := msgpack.Unmarshal(raw, &gear); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if gear != "3" {
		t.Errorf("Expected gear 3, got %q", gear)
	}

	if _, err := b.CurrentValue(context.Background(), "speed"); !errors.Is(err, ErrNoValue) {
		t.Errorf("Expected ErrNoValue, got %v", err)
	}
}

func TestHTTPTimeout(t *testing.T) {
	b := newHTTPBridge(t, &fakeHost{gear: []byte{0xa1, '3'}, delay: 300 * time.Millisecond}, HTTPOptions{
		Timeout: 50 * time.Millisecond,
	})

	start := time.Now()
	_, err := b.CurrentValue(context.Background(), "gear")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("Call should be bounded by the timeout, took %v", elapsed)
	}
}

func TestNewHTTPRejectsBadURL(t *testing.T) {
	if _, err := NewHTTP(HTTPOptions{BaseURL: "ws://127.0.0.1:8384"}); err == nil {
		t.Error("Expected error for non-http scheme")
	}
}
