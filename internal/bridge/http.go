package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/smazurov/racewire/internal/version"
	"github.com/vmihailenco/msgpack/v5"
)

// ContentTypeMsgpack is the media type of current-value responses.
const ContentTypeMsgpack = "application/msgpack"

// HTTPOptions configures the HTTP control-plane client.
type HTTPOptions struct {
	// BaseURL of the host control API, e.g. http://127.0.0.1:8385.
	BaseURL string
	// Timeout bounds each call including retries. Defaults to 5s.
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *slog.Logger
}

// HTTP talks to the host's huma control API.
type HTTP struct {
	base    *url.URL
	client  *retryablehttp.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewHTTP creates an HTTP bridge.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse host url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("host url %q: scheme must be http or https", opts.BaseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 100 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("bridge")
	}
	logger = logger.With("component", "http-bridge")

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = retryLogger{logger}

	return &HTTP{
		base:    base,
		client:  client,
		timeout: opts.Timeout,
		logger:  logger,
	}, nil
}

// ResolveEndpoint asks the host where its data channel listens.
func (h *HTTP) ResolveEndpoint(ctx context.Context) (Endpoint, error) {
	body, err := h.call(ctx, http.MethodGet, "/api/endpoint", http.StatusOK)
	if err != nil {
		return Endpoint{}, &HostCallError{Op: OpResolve, Err: err}
	}

	var ep Endpoint
	if err := json.Unmarshal(body, &ep); err != nil {
		return Endpoint{}, &HostCallError{Op: OpResolve, Err: fmt.Errorf("decode endpoint: %w", err)}
	}
	if ep.Host == "" {
		ep.Host = h.base.Hostname()
	}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, &HostCallError{Op: OpResolve, Err: err}
	}
	return ep, nil
}

// RegisterInterest asks the host to start emitting topic.
func (h *HTTP) RegisterInterest(ctx context.Context, topic string) error {
	if _, err := h.call(ctx, http.MethodPost, topicPath(topic, "register"), http.StatusNoContent); err != nil {
		return &HostCallError{Op: OpRegister, Topic: topic, Err: err}
	}
	return nil
}

// DeregisterInterest asks the host to stop emitting topic.
func (h *HTTP) DeregisterInterest(ctx context.Context, topic string) error {
	if _, err := h.call(ctx, http.MethodPost, topicPath(topic, "unregister"), http.StatusNoContent); err != nil {
		return &HostCallError{Op: OpDeregister, Topic: topic, Err: err}
	}
	return nil
}

// CurrentValue fetches the host's latest payload for topic.
func (h *HTTP) CurrentValue(ctx context.Context, topic string) (msgpack.RawMessage, error) {
	body, err := h.call(ctx, http.MethodGet, topicPath(topic, "current"), http.StatusOK)
	if err != nil {
		return nil, &HostCallError{Op: OpCurrent, Topic: topic, Err: err}
	}
	if len(body) == 0 {
		return nil, &HostCallError{Op: OpCurrent, Topic: topic, Err: ErrNoValue}
	}
	return msgpack.RawMessage(body), nil
}

// StatusError is an unexpected HTTP status from the host.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Detail)
}

func (h *HTTP) call(ctx context.Context, method, path string, want int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, method, h.base.String()+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", ContentTypeMsgpack+", application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && strings.HasSuffix(path, "/current") {
		return nil, ErrNoValue
	}
	if resp.StatusCode != want {
		return nil, &StatusError{Status: resp.StatusCode, Detail: problemDetail(body)}
	}
	return body, nil
}

func topicPath(topic, action string) string {
	return "/api/topics/" + url.PathEscape(topic) + "/" + action
}

// problemDetail extracts the detail field of a huma error body, if present.
func problemDetail(body []byte) string {
	var problem struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &problem); err != nil {
		return ""
	}
	return problem.Detail
}

// retryLogger routes retryablehttp's leveled output to debug.
type retryLogger struct {
	logger *slog.Logger
}

func (l retryLogger) Error(msg string, kv ...any) { l.logger.Debug(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...any)  { l.logger.Debug(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...any) { l.logger.Debug(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...any)  { l.logger.Debug(msg, kv...) }
