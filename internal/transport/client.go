// Package transport performs the SDK's HTTP exchanges with the ingest
// service and classifies their outcomes. It never retries.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/testernest-go/internal/core/domain"
	"github.com/tjfontaine/testernest-go/internal/core/ports"
	"github.com/tjfontaine/testernest-go/internal/redact"
)

const (
	// DefaultTimeout bounds a whole exchange including reading the body.
	DefaultTimeout = 15 * time.Second

	// DefaultUserAgent is sent when no other user agent is configured.
	DefaultUserAgent = "testernest-go"

	contentTypeJSON = "application/json; charset=utf-8"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithLogger sets the logger used for request/response lines.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client is the HTTP implementation of ports.Transport.
type Client struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

var _ ports.Transport = (*Client)(nil)

// NewClient creates a new transport client. The default HTTP client has a
// 15 second timeout and an OpenTelemetry instrumented transport.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: DefaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// response is the raw outcome of one POST.
type response struct {
	code    int
	body    []byte
	excerpt string
	err     error
}

func (r response) ok() bool {
	return r.err == nil && r.code >= 200 && r.code < 300
}

// SendAuth posts a bootstrap or claim request and decodes the AuthResponse.
func (c *Client) SendAuth(ctx context.Context, endpoint string, body any, bearer string) ports.AuthResult {
	resp := c.post(ctx, endpoint, body, bearer)
	result := ports.AuthResult{
		StatusCode:  resp.code,
		BodyExcerpt: resp.excerpt,
	}

	switch {
	case resp.err != nil:
		result.Err = resp.err
		return result
	case !resp.ok():
		result.Err = domain.ErrorFromStatus(resp.code, fmt.Sprintf("HTTP %d", resp.code))
		return result
	case len(bytes.TrimSpace(resp.body)) == 0:
		result.Err = domain.NewError(domain.ErrorKindTransient, "empty response body").WithStatusCode(resp.code)
		return result
	}

	var auth domain.AuthResponse
	if err := json.Unmarshal(resp.body, &auth); err != nil {
		result.Err = domain.NewError(domain.ErrorKindTransient, "failed to decode auth response").
			WithStatusCode(resp.code).WithCause(err)
		return result
	}
	if strings.TrimSpace(auth.TesterID) == "" || strings.TrimSpace(auth.AccessToken) == "" {
		result.Err = domain.NewError(domain.ErrorKindTransient, "auth response missing testerId or accessToken").
			WithStatusCode(resp.code)
		return result
	}

	result.Success = true
	result.Response = &auth
	return result
}

// SendEventBatch posts events as {"events": [...]}. 401 and 403 are
// reported as auth errors.
func (c *Client) SendEventBatch(ctx context.Context, endpoint string, events []domain.Event, bearer string) ports.BatchResult {
	if events == nil {
		events = []domain.Event{}
	}
	resp := c.post(ctx, endpoint, domain.EventBatch{Events: events}, bearer)

	result := ports.BatchResult{
		Success:     resp.ok(),
		IsAuthError: resp.code == http.StatusUnauthorized || resp.code == http.StatusForbidden,
		StatusCode:  resp.code,
		BodyExcerpt: resp.excerpt,
	}
	switch {
	case resp.err != nil:
		result.Err = resp.err
	case !result.Success:
		result.Err = domain.ErrorFromStatus(resp.code, fmt.Sprintf("HTTP %d", resp.code))
	}
	return result
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, bearer string) response {
	body, err := json.Marshal(payload)
	if err != nil {
		return failure(domain.NewError(domain.ErrorKindValidation, "failed to marshal request").WithCause(err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(domain.NewError(domain.ErrorKindConfiguration, "failed to create request").WithCause(err))
	}
	c.setHeaders(httpReq, bearer)

	c.logger.Debug("HTTP ->", slog.String("method", httpReq.Method), slog.String("url", endpoint))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("HTTP request failed", slog.String("url", endpoint), slog.String("error", err.Error()))
		return failure(domain.NewError(domain.ErrorKindTransient, "request failed").WithCause(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(domain.NewError(domain.ErrorKindTransient, "failed to read response").
			WithStatusCode(resp.StatusCode).WithCause(err))
	}

	excerpt := redact.Excerpt(string(respBody))
	c.logger.Debug("HTTP <-",
		slog.String("url", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.String("body", excerpt),
	)

	return response{
		code:    resp.StatusCode,
		body:    respBody,
		excerpt: excerpt,
	}
}

// failure reports an exchange that produced no usable response. The status
// is always 0.
func failure(err error) response {
	return response{
		err:     err,
		excerpt: redact.Excerpt(err.Error()),
	}
}

func (c *Client) setHeaders(req *http.Request, bearer string) {
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if strings.TrimSpace(bearer) != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
}
