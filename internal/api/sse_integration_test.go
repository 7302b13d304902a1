package api

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/racewire/internal/events"
)

func openEventStream(t *testing.T, url string) <-chan string {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Failed to connect to SSE: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("Expected SSE content type, got %s", resp.Header.Get("Content-Type"))
	}

	messages := make(chan string, 10)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data:") {
				messages <- line
			}
		}
	}()
	return messages
}

func TestSSEConnectionAndEvents(t *testing.T) {
	bus := events.New()
	server := NewServer(&Options{
		AuthUsername: "test",
		AuthPassword: "test",
		Telemetry:    &fakeTelemetry{},
		EventBus:     bus,
	})

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	credentials := base64.StdEncoding.EncodeToString([]byte("test:test"))
	messages := openEventStream(t, fmt.Sprintf("%s/api/events?auth=%s", ts.URL, credentials))

	select {
	case msg := <-messages:
		if !strings.Contains(msg, `"state":"connected"`) {
			t.Errorf("Expected initial connection state, got: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for initial SSE message")
	}

	bus.Publish(events.TopicAttachedEvent{
		Topic:      "standings",
		Generation: 3,
		Timestamp:  time.Now().Format(time.RFC3339),
	})

	select {
	case msg := <-messages:
		if !strings.Contains(msg, `"topic":"standings"`) || !strings.Contains(msg, `"generation":3`) {
			t.Errorf("Expected topic attached event, got: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for topic attached event")
	}
}

func TestSSEAuthFailure(t *testing.T) {
	server := NewServer(&Options{
		AuthUsername: "test",
		AuthPassword: "test",
		EventBus:     events.New(),
	})

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", resp.StatusCode)
	}

	credentials := base64.StdEncoding.EncodeToString([]byte("wrong:wrong"))
	resp, err = http.Get(fmt.Sprintf("%s/api/events?auth=%s", ts.URL, credentials))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected status 401 for wrong auth, got %d", resp.StatusCode)
	}
}
