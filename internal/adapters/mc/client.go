// Package mc is the HTTP transport to the management console REST API.
package mc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/ports"
)

const (
	// DefaultTimeout is the default timeout for console requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum accepted response body (32MB)
	MaxResponseSize = 32 * 1024 * 1024

	// UserAgent is sent with every request
	UserAgent = "resilioctl/1.0"
)

// HTTPError is a non-2xx answer without a usable error envelope.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s %s: %s", e.StatusCode, e.Method, e.Path, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL            string
	Token              string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Client talks JSON to the console with a bearer token.
type Client struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL string
	token   string
}

var _ ports.ManagementAPI = (*Client)(nil)

// NewClient creates a console client. A zero timeout uses DefaultTimeout.
func NewClient(logger *slog.Logger, opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		// Consoles ship with self-signed certificates.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Client{
		logger:  logger,
		client:  &http.Client{Timeout: timeout, Transport: transport},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
	}
}

func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	op := method + " " + path

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.NewOpError(op, domain.ErrRemoteUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("%s: response size %d exceeds %d bytes", op, resp.ContentLength, MaxResponseSize)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, domain.NewOpError(op, domain.ErrRemoteUnavailable, err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("%s: response exceeds %d bytes", op, MaxResponseSize)
	}

	c.logger.Debug("console request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(started))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classify(method, path, resp, body)
}

// classify maps a non-2xx answer onto the domain error kinds. 401 is an
// authentication failure; 5xx and 429 count as the console being unavailable
// so pollers keep going; other codes are remote rejections.
func classify(method, path string, resp *http.Response, body []byte) error {
	op := method + " " + path
	msg := strings.TrimSpace(string(body))
	for _, key := range []string{"message", "error", "description"} {
		if v := gjson.GetBytes(body, key); v.Type == gjson.String {
			msg = v.String()
			break
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.NewOpError(op, domain.ErrAuthentication, &domain.RemoteError{Op: op, Code: resp.StatusCode, Message: msg})
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewOpError(op, domain.ErrRemoteUnavailable, &HTTPError{
			StatusCode: resp.StatusCode, Method: method, Path: path, Message: resp.Status,
		})
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewOpError(op, domain.ErrNotFound, &domain.RemoteError{Op: op, Code: resp.StatusCode, Message: msg})
	default:
		return &domain.RemoteError{Op: op, Code: resp.StatusCode, Message: msg}
	}
}
