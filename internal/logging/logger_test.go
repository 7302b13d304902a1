package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func resetState() {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	mutex.Unlock()
}

func TestInitializeAppliesModuleLevels(t *testing.T) {
	resetState()

	Initialize(Config{
		Level:  "warn",
		Format: "text",
		Modules: map[string]string{
			"channel":      "debug",
			"dispatch":     "info",
			"bridge":       "loud",
			"subscription": "",
			"telemetry":    "error",
		},
	})

	tests := []struct {
		module string
		lowest slog.Level
	}{
		{"channel", slog.LevelDebug},
		{"dispatch", slog.LevelInfo},
		{"bridge", slog.LevelWarn},       // unparseable, falls back to the global level
		{"subscription", slog.LevelWarn}, // empty, same
		{"telemetry", slog.LevelError},
		{"api", slog.LevelWarn}, // not configured
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			if !handler.Enabled(ctx, tt.lowest) {
				t.Errorf("%s should log at %s", tt.module, tt.lowest)
			}
			if handler.Enabled(ctx, tt.lowest-4) {
				t.Errorf("%s should not log below %s", tt.module, tt.lowest)
			}
		})
	}
}

func TestJSONOutputCarriesModule(t *testing.T) {
	resetState()

	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	Initialize(Config{Level: "debug", Format: "json"})
	GetLogger("subscription").With("component", "arena").Debug("Topic attached", "topic", "gear", "generation", 3)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("output is not one JSON line: %v\n%s", err, buf.String())
	}
	want := map[string]any{
		"msg":        "Topic attached",
		"module":     "subscription",
		"component":  "arena",
		"topic":      "gear",
		"generation": float64(3),
	}
	for key, value := range want {
		if line[key] != value {
			t.Errorf("%s = %v, want %v", key, line[key], value)
		}
	}
}

func TestLoggersCreatedBeforeInitializeFollowIt(t *testing.T) {
	resetState()

	early := GetLogger("channel").Handler()
	if early.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug enabled before Initialize")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"channel": "debug"}})

	if !early.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger handed out before Initialize should follow the module level")
	}
}

func TestSetModuleLevelAtRuntime(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info"})

	logger := GetLogger("bridge")
	if !SetModuleLevel("bridge", "debug") {
		t.Fatal("SetModuleLevel rejected a valid level")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("existing logger did not pick up the new level")
	}
	if SetModuleLevel("bridge", "loud") {
		t.Error("SetModuleLevel accepted an unknown level")
	}

	if !SetModuleLevel("host", "WARNING") {
		t.Fatal("SetModuleLevel should create the module logger")
	}
	levels := ModuleLevels()
	if levels["bridge"] != "debug" || levels["host"] != "warn" {
		t.Errorf("ModuleLevels = %v", levels)
	}
}

type failingHandler struct {
	err     error
	handled int
}

func (h *failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *failingHandler) Handle(context.Context, slog.Record) error {
	h.handled++
	return h.err
}

func (h *failingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *failingHandler) WithGroup(string) slog.Handler { return h }

func TestMultiHandlerKeepsGoingAfterFailure(t *testing.T) {
	journalErr := errors.New("journal socket gone")
	broken := &failingHandler{err: journalErr}
	var buf bytes.Buffer
	stream := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	m := NewMultiHandler(broken, nil, stream)
	r := slog.NewRecord(time.Now(), slog.LevelWarn, "reconnect scheduled", 0)

	if err := m.Handle(context.Background(), r); !errors.Is(err, journalErr) {
		t.Errorf("Handle error = %v, want the journal error", err)
	}
	if broken.handled != 1 {
		t.Errorf("failing handler called %d times", broken.handled)
	}
	if !strings.Contains(buf.String(), "reconnect scheduled") {
		t.Errorf("stream handler skipped after a failure: %q", buf.String())
	}
}

func TestMultiHandlerRoutesByLevel(t *testing.T) {
	var debugBuf, infoBuf bytes.Buffer
	m := NewMultiHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)

	logger := slog.New(m).With("module", "dispatch")
	logger.Debug("frame routed", "topic", "gear")

	if !strings.Contains(debugBuf.String(), "module=dispatch") {
		t.Errorf("debug handler missed the record: %q", debugBuf.String())
	}
	if infoBuf.Len() != 0 {
		t.Errorf("info handler received a debug record: %q", infoBuf.String())
	}
}

func TestJournalFields(t *testing.T) {
	h := NewJournalHandler(slog.LevelInfo).
		WithAttrs([]slog.Attr{slog.String("module", "channel")}).(*JournalHandler)

	r := slog.NewRecord(time.Now(), slog.LevelWarn, "reconnect scheduled", 0)
	r.AddAttrs(
		slog.String("url", "ws://127.0.0.1:8384/"),
		slog.Int("attempt", 3),
		slog.Any("error", errors.New("connection refused")),
		slog.Group("timer", slog.Duration("interval", 5*time.Second)),
	)

	fields := h.fields(r)

	want := map[string]string{
		"SYSLOG_IDENTIFIER": Identifier,
		"MODULE":            "channel",
		"URL":               "ws://127.0.0.1:8384/",
		"ATTEMPT":           "3",
		"ERROR":             "connection refused",
		"TIMER_INTERVAL":    "5s",
	}
	for key, value := range want {
		if fields[key] != value {
			t.Errorf("field %s = %q, want %q", key, fields[key], value)
		}
	}

	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Journal handler should not accept debug at info level")
	}
}
