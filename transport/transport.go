// Package transport executes JSON HTTP requests against the API and
// classifies their failures as transient or permanent.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
)

// maxErrorBody bounds how much of a failed response is kept in HTTPError
const maxErrorBody = 512

// Doer executes HTTP requests; *http.Client satisfies it
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is a JSON API call
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   json.RawMessage
	// IgnoreBody accepts any 2xx response without decoding it
	IgnoreBody bool
}

// HTTPError carries the status of a non-2xx response
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// Client executes Requests through a Doer
type Client struct {
	doer    Doer
	baseURL string
	header  http.Header
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithDoer sets the HTTP executor
func WithDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithBaseURL prefixes relative request URLs
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHeader adds a header to every request
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Add(key, value)
	}
}

// WithTimeout bounds each request (0 means no bound beyond the context)
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client; the default Doer is http.DefaultClient
func New(opts ...Option) *Client {
	c := &Client{
		doer:   http.DefaultClient,
		header: make(http.Header),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "transport")
	return c
}

// Resolve returns the absolute URL of u
func (c *Client) Resolve(u string) string {
	if c.baseURL == "" || strings.Contains(u, "://") {
		return u
	}
	if !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return c.baseURL + u
}

// Execute performs req and returns the response body. An empty body yields
// nil. Failures are classified with errors.Transient or errors.Permanent.
func (c *Client) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	const op = "Execute"
	target := c.Resolve(req.URL)
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Permanent(op, target, errors.Join(errors.ErrClient, err))
	}
	for k, vs := range c.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" && !req.IgnoreBody {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, op, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, op, target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		err := Classify(op, target, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(snippet)})
		c.logger.Debug("request failed", "method", method, "url", target, "status", resp.StatusCode)
		return nil, err
	}

	if req.IgnoreBody || len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, errors.Permanent(op, target, errors.ErrDeserialization)
	}
	return json.RawMessage(data), nil
}

// Classify wraps an HTTP status failure: 5xx, 408 and 429 are transient,
// any other status is permanent
func Classify(op string, key any, herr *HTTPError) error {
	switch {
	case herr.StatusCode == http.StatusRequestTimeout:
		return errors.Transient(op, key, errors.Join(errors.ErrTimeout, herr))
	case herr.StatusCode == http.StatusTooManyRequests || herr.StatusCode >= 500:
		return errors.Transient(op, key, errors.Join(errors.ErrServer, herr))
	default:
		return errors.Permanent(op, key, errors.Join(errors.ErrClient, herr))
	}
}

// IsTransientStatus reports whether a response status is worth retrying
func IsTransientStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode
	}
	return 0
}

func classifyTransportError(ctx context.Context, op, target string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Transient(op, target, errors.Join(errors.ErrTimeout, err))
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return errors.Transient(op, target, errors.Join(errors.ErrAborted, err))
	case errors.As(err, &netErr) && netErr.Timeout():
		return errors.Transient(op, target, errors.Join(errors.ErrTimeout, err))
	default:
		return errors.Transient(op, target, errors.Join(errors.ErrNetwork, err))
	}
}
