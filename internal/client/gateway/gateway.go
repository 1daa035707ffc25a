// Package gateway wraps outbound record-store calls with bearer-token
// attachment and a bounded recovery from 401 responses.
//
// On a 401 the gateway makes sure a raw credential is held in memory,
// restoring it from the session tier when a rebuild dropped it, refreshes
// the access token once and retries the request once. A second 401 is
// reported as common.ErrUnauthorized. The durable tier is never touched.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/clinicdesk/internal/common"
	"github.com/dmitrijs2005/clinicdesk/internal/logging"
	"github.com/dmitrijs2005/clinicdesk/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second

	RequestIDHeader = "X-Request-Id"
)

// TokenProvider hands out bearer tokens and can force a refresh.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// CredentialRestorer puts the session-tier credential back into memory.
type CredentialRestorer interface {
	RestoreActive(ctx context.Context) (bool, error)
}

// APIError is any non-2xx response other than 401.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Body)
}

type Gateway struct {
	tokens   TokenProvider
	restorer CredentialRestorer
	client   *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	log      logging.Logger
	metrics  *metrics.Metrics
}

// Option configures the gateway
type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

// WithRateLimit sets the outbound requests per second. Zero disables limiting.
func WithRateLimit(requestsPerSecond int) Option {
	return func(g *Gateway) {
		if requestsPerSecond <= 0 {
			g.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout bounds each HTTP attempt. Zero leaves only the context deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = timeout
	}
}

func WithLogger(l logging.Logger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func New(tokens TokenProvider, restorer CredentialRestorer, opts ...Option) *Gateway {
	g := &Gateway{
		tokens:   tokens,
		restorer: restorer,
		client:   http.DefaultClient,
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		timeout:  DefaultTimeout,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("component", "gateway")
	return g
}

// Request performs the call and returns the raw JSON response.
func (g *Gateway) Request(ctx context.Context, method, url string, body any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := g.Do(ctx, method, url, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Do performs an authenticated call. body is JSON-encoded unless it is
// already a []byte; out, when non-nil, receives the decoded response.
func (g *Gateway) Do(ctx context.Context, method, url string, body any, out any) error {
	payload, err := encodeBody(body)
	if err != nil {
		return err
	}

	token, err := g.tokens.Token(ctx)
	if err != nil {
		return err
	}

	status, data, err := g.send(ctx, method, url, payload, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		token, err = g.recoverToken(ctx, url)
		if err != nil {
			return err
		}
		status, data, err = g.send(ctx, method, url, payload, token)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			g.metrics.RecordRecovery("retry_rejected")
			g.log.Warn(ctx, "request still unauthorized after refresh", "url", url)
			return common.ErrUnauthorized
		}
		g.metrics.RecordRecovery("recovered")
	}

	if status < 200 || status > 299 {
		return &APIError{Status: status, Body: string(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (g *Gateway) recoverToken(ctx context.Context, url string) (string, error) {
	held, err := g.restorer.RestoreActive(ctx)
	if err != nil || !held {
		g.metrics.RecordRecovery("no_credential")
		g.log.Warn(ctx, "unauthorized and no credential to recover with", "url", url)
		return "", common.ErrUnauthorized
	}

	if err := g.tokens.Refresh(ctx); err != nil {
		g.metrics.RecordRecovery("refresh_failed")
		return "", fmt.Errorf("%w: %w", common.ErrUnauthorized, err)
	}

	token, err := g.tokens.Token(ctx)
	if err != nil {
		g.metrics.RecordRecovery("refresh_failed")
		return "", fmt.Errorf("%w: %w", common.ErrUnauthorized, err)
	}
	return token, nil
}

func (g *Gateway) send(ctx context.Context, method, url string, payload []byte, token string) (int, []byte, error) {
	waitStart := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limit wait: %w", err)
	}
	g.metrics.RecordLimiterWait(time.Since(waitStart))

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.RecordGatewayRequest(method, "error", time.Since(start))
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	g.metrics.RecordGatewayRequest(method, strconv.Itoa(resp.StatusCode), time.Since(start))
	g.log.Debug(ctx, "gateway request", "method", method, "url", url, "status", resp.StatusCode,
		"request_id", req.Header.Get(RequestIDHeader))

	return resp.StatusCode, data, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		return data, nil
	}
}

// IsAPIError reports whether err carries an APIError with the given status.
func IsAPIError(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
