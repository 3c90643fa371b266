package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/ria/internal/observability"
	"github.com/pitabwire/ria/model"
)

// Transport carries requests from a DomainContext to the service host.
type Transport interface {
	Query(ctx context.Context, service, operation string, params map[string]any) (*QueryResult, error)
	Invoke(ctx context.Context, service, operation string, params map[string]any) (json.RawMessage, error)
	Submit(ctx context.Context, service string, req *model.SubmitRequest) (*model.SubmitResponse, error)
}

// QueryResult is the response body of a query.
type QueryResult struct {
	Results    json.RawMessage `json:"results"`
	TotalCount int             `json:"total_count"`
}

// InvokeResult is the response body of an invoke operation.
type InvokeResult struct {
	Result json.RawMessage `json:"result"`
}

// maxResponseBytes bounds the size of a response body.
const maxResponseBytes = 10 << 20

// HTTPTransport talks JSON over HTTP to a service host. Queries and
// submits are retried on server errors; submits carry an idempotency key
// so a retried submit is applied once.
type HTTPTransport struct {
	baseURL     string
	client      *http.Client
	token       string
	maxAttempts int
	backoff     time.Duration
	breaker     *breaker
	logger      *zap.Logger
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) HTTPOption {
	return func(t *HTTPTransport) { t.token = token }
}

// WithRetry sets the attempts per retryable request and the initial
// backoff, which doubles per attempt.
func WithRetry(attempts int, backoff time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		t.maxAttempts = attempts
		t.backoff = backoff
	}
}

// WithCircuitBreaker sets the consecutive failures that open the breaker
// and how long it stays open.
func WithCircuitBreaker(threshold int, cooldown time.Duration) HTTPOption {
	return func(t *HTTPTransport) { t.breaker = newBreaker(threshold, cooldown) }
}

// WithTransportLogger sets the logger.
func WithTransportLogger(l *zap.Logger) HTTPOption {
	return func(t *HTTPTransport) { t.logger = l }
}

// NewHTTPTransport creates a transport for the host at baseURL.
func NewHTTPTransport(baseURL string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		backoff:     100 * time.Millisecond,
		breaker:     newBreaker(5, 30*time.Second),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Query posts the parameters to the query endpoint.
func (t *HTTPTransport) Query(ctx context.Context, service, operation string, params map[string]any) (*QueryResult, error) {
	var res QueryResult
	if err := t.post(ctx, t.endpoint(service, "query", operation), params, &res, true); err != nil {
		return nil, err
	}
	return &res, nil
}

// Invoke posts the parameters to the invoke endpoint. Invoke operations
// may have side effects and are never retried.
func (t *HTTPTransport) Invoke(ctx context.Context, service, operation string, params map[string]any) (json.RawMessage, error) {
	var res InvokeResult
	if err := t.post(ctx, t.endpoint(service, "invoke", operation), params, &res, false); err != nil {
		return nil, err
	}
	return res.Result, nil
}

// Submit posts a change set.
func (t *HTTPTransport) Submit(ctx context.Context, service string, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	var res model.SubmitResponse
	if err := t.post(ctx, t.endpoint(service, "submit"), req, &res, req.IdempotencyKey != ""); err != nil {
		return nil, err
	}
	return &res, nil
}

func (t *HTTPTransport) endpoint(service string, parts ...string) string {
	u := t.baseURL + "/services/" + url.PathEscape(service)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (t *HTTPTransport) post(ctx context.Context, endpoint string, body, out any, retryable bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	attempts := 1
	if retryable && t.maxAttempts > 1 {
		attempts = t.maxAttempts
	}

	var lastErr error
	delay := t.backoff
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		retry, err := t.do(ctx, endpoint, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		t.logger.Debug("retrying request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return lastErr
}

// do performs one request. The boolean result reports whether a failure
// may be retried.
func (t *HTTPTransport) do(ctx context.Context, endpoint string, payload []byte, out any) (bool, error) {
	if err := t.breaker.allow(); err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		t.breaker.failure()
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		t.breaker.failure()
		return true, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 500 {
		t.breaker.failure()
	} else {
		t.breaker.success()
	}

	if resp.StatusCode >= 400 {
		return isRetryableStatus(resp.StatusCode), decodeError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return false, nil
}

// decodeError reads the host's {"error": {...}} body, accepting a bare
// envelope as well.
func decodeError(status int, body []byte) *model.ErrorEnvelope {
	var wrapped struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error != nil && wrapped.Error.Code != "" {
		return wrapped.Error
	}
	env := &model.ErrorEnvelope{}
	if err := json.Unmarshal(body, env); err != nil || env.Code == "" {
		return &model.ErrorEnvelope{Code: model.ErrInternalError, Message: http.StatusText(status)}
	}
	return env
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsCode reports whether err is a service error with the given code.
func IsCode(err error, code string) bool {
	var env *model.ErrorEnvelope
	return errors.As(err, &env) && env.Code == code
}
