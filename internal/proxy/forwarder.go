package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AttemptTimeout is the per-upstream-attempt wall-clock budget
// (spec.md §4.4).
const AttemptTimeout = 30 * time.Second

// retryableStatus is the set of HTTP statuses the Forwarder treats as
// transient and worth failing over (spec.md §4.4).
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:     true, // 408
	http.StatusTooManyRequests:    true, // 429
	http.StatusBadGateway:         true, // 502
	http.StatusServiceUnavailable: true, // 503
	http.StatusGatewayTimeout:     true, // 504
}

// InboundRequest is the collaborator-parsed inbound request handed to
// the Forwarder: method, path+query, headers (Host/Authorization
// already stripped by the caller), and a fully-buffered body (spec.md
// §4.4: "the request body MUST be buffered in memory before the first
// attempt").
type InboundRequest struct {
	Method string
	Path   string // path + query string, appended verbatim to base_url
	Header http.Header
	Body   []byte
}

// Outcome is what the Forwarder returns to its caller: either a
// successful upstream response (delivered verbatim) or a synthesized
// 502 summarizing every provider tried.
type Outcome struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Synthetic  bool // true if this is the proxy's own 502, not an upstream response
}

// Doer is the external HTTP client collaborator. http.Client satisfies
// it directly.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Logger is the minimal structured-logging surface the Forwarder
// needs, satisfied by *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Forwarder drives one inbound request through the Selector's
// candidate sequence (component C4): it rewrites auth/host headers,
// performs the upstream call via the Doer collaborator, classifies the
// outcome, updates health, and on a winning non-preferred provider
// triggers SetPreferred (persisted via the Registry's PersistFunc).
type Forwarder struct {
	registry *Registry
	selector *Selector
	client   Doer
	logger   Logger
	timeout  time.Duration
}

// ForwarderOption configures optional Forwarder behavior.
type ForwarderOption func(*Forwarder)

// WithLogger injects a structured logger. Nil/omitted discards output.
func WithLogger(l Logger) ForwarderOption {
	return func(f *Forwarder) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClient overrides the HTTP client collaborator (used by tests to
// inject a fake Doer).
func WithClient(c Doer) ForwarderOption {
	return func(f *Forwarder) { f.client = c }
}

// WithAttemptTimeout overrides the per-attempt wall-clock timeout.
func WithAttemptTimeout(d time.Duration) ForwarderOption {
	return func(f *Forwarder) { f.timeout = d }
}

// NewForwarder builds a Forwarder over the given Registry/Selector
// pair.
func NewForwarder(registry *Registry, selector *Selector, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		registry: registry,
		selector: selector,
		client:   &http.Client{},
		logger:   noopLogger{},
		timeout:  AttemptTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// attemptResult is the internal classification of one upstream
// attempt.
type attemptResult struct {
	outcome   Outcome
	retryable bool
	errKind   string // short description for the synthesized 502 body
}

// Forward drives req through the candidate sequence and returns the
// first non-retryable outcome, or a synthesized 502 if every candidate
// (including emergency) is retryable-failed or unavailable. ctx
// cancellation (inbound client disconnect) aborts between candidates
// and mid-attempt without counting as a provider failure (spec.md §5).
func (f *Forwarder) Forward(ctx context.Context, req InboundRequest) (Outcome, error) {
	seq := f.selector.Sequence()

	var tried []string
	var lastErrKinds []string
	any := false

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		cand, ok := seq.Next()
		if !ok {
			break
		}
		any = true

		tried = append(tried, cand.Provider.Name)

		res, err := f.attempt(ctx, cand, req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					// Inbound client gone: abort silently, no health update.
					return Outcome{}, ctx.Err()
				}
			}
			// Attempt-level transport failure the classifier didn't
			// already handle as a typed attemptResult: treat as
			// retryable network error.
			f.registry.RecordFailure(cand.Provider.Name)
			lastErrKinds = append(lastErrKinds, "network_error: "+err.Error())
			f.logger.Warn("provider failed, failing over",
				"provider", cand.Provider.Name, "error", err)
			continue
		}

		if res.retryable {
			f.registry.RecordFailure(cand.Provider.Name)
			lastErrKinds = append(lastErrKinds, res.errKind)
			f.logger.Warn("provider failed, failing over",
				"provider", cand.Provider.Name, "status", res.outcome.StatusCode)
			continue
		}

		// Non-retryable: the upstream answered. Record success
		// (spec.md §7: "health recorded as success — the upstream did
		// answer", even for passthrough 4xx like 401).
		if cand.Emergency {
			f.registry.RecoverEmergency(cand.Provider.Name)
		} else {
			f.registry.RecordSuccess(cand.Provider.Name)
		}

		if cand.Provider.Name != f.registry.PreferredName() {
			if err := f.registry.SetPreferred(cand.Provider.Name); err != nil {
				f.logger.Error("preferred-provider persistence failed", "error", err)
			}
		}

		return res.outcome, nil
	}

	if !any {
		return Outcome{}, ErrPoolExhausted
	}

	f.logger.Error("all providers exhausted", "tried", tried)
	return f.exhausted(tried, lastErrKinds), ErrPoolExhausted
}

// attempt performs one upstream call and classifies its result.
func (f *Forwarder) attempt(ctx context.Context, cand Candidate, req InboundRequest) (attemptResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	target, err := buildUpstreamURL(cand.Provider.BaseURL, req.Path)
	if err != nil {
		return attemptResult{}, fmt.Errorf("building upstream URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		return attemptResult{}, fmt.Errorf("building upstream request: %w", err)
	}

	for k, vv := range req.Header {
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Authorization") {
			continue
		}
		for _, v := range vv {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Host = hostOf(cand.Provider.BaseURL)
	cand.Provider.ApplyAuth(httpReq.Header.Set)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		// Timeouts surface here as context.DeadlineExceeded-wrapping
		// errors; all network-level failures are classified retryable.
		return attemptResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptResult{}, fmt.Errorf("reading upstream response: %w", err)
	}

	outcome := Outcome{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}

	if retryableStatus[resp.StatusCode] {
		return attemptResult{
			outcome:   outcome,
			retryable: true,
			errKind:   fmt.Sprintf("status %d", resp.StatusCode),
		}, nil
	}

	return attemptResult{outcome: outcome}, nil
}

// exhausted synthesizes the 502 Bad Gateway returned when every
// candidate fails (spec.md §4.4, §7).
func (f *Forwarder) exhausted(tried, errKinds []string) Outcome {
	var body strings.Builder
	fmt.Fprintf(&body, "all providers failed: %s\n", strings.Join(tried, ", "))
	for _, k := range errKinds {
		fmt.Fprintf(&body, "- %s\n", k)
	}
	return Outcome{
		StatusCode: http.StatusBadGateway,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       []byte(body.String()),
		Synthetic:  true,
	}
}

// buildUpstreamURL appends the inbound path+query verbatim to a
// provider's base_url (spec.md §6).
func buildUpstreamURL(baseURL, pathAndQuery string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(u.String(), "/") + pathAndQuery, nil
}

// hostOf extracts the host component of a base_url for the rewritten
// Host header (spec.md §4.4).
func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}
