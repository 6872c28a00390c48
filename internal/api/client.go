package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"pasarlive-client/internal/logger"
)

const (
	defaultTimeout = 15 * time.Second
	retryMax       = 3
)

type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks HTTP to the hosted marketplace backend. Reads go through a
// retrying client; mutations are sent exactly once, because a confirm or a
// send is not safe to replay blindly. Failure surfaces to the caller who
// may resubmit.
type Client struct {
	baseURL string
	read    *retryablehttp.Client
	write   *http.Client
}

func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}

	rt := &authTransport{
		token: opts.Token,
		next:  http.DefaultTransport,
	}

	read := retryablehttp.NewClient()
	read.RetryMax = retryMax
	read.RetryWaitMin = 100 * time.Millisecond
	read.RetryWaitMax = 2 * time.Second
	read.Logger = nil
	read.HTTPClient = &http.Client{Timeout: opts.Timeout, Transport: rt}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		read:    read,
		write:   &http.Client{Timeout: opts.Timeout, Transport: rt},
	}
}

// authTransport attaches the session bearer token and logs each request,
// the client-side counterpart of the server's auth and logging middleware.
type authTransport struct {
	token string
	next  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	log := logger.FromCtx(req.Context()).With(
		zap.String("layer", "api"),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		log.Warn("request failed", zap.Error(err))
		return nil, err
	}
	log.Debug("request done", zap.Int("status", resp.StatusCode))
	return resp, nil
}

// envelope is the platform's uniform response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *fault          `json:"error,omitempty"`
}

type fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// get issues a retried GET and decodes the envelope data into out.
// A (false, nil) return means the platform answered 404.
func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.read.Do(req)
	if err != nil {
		return false, &NetworkError{Op: "GET " + path, Err: err}
	}
	return c.decode(resp, path, out)
}

// post issues a single non-retried mutation and decodes the envelope data
// into out (out may be nil when the caller only cares about success).
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.write.Do(req)
	if err != nil {
		return &NetworkError{Op: "POST " + path, Err: err}
	}

	found, err := c.decode(resp, path, out)
	if err != nil {
		return err
	}
	if !found {
		return &NotFoundError{Resource: "resource", ID: path}
	}
	return nil
}

func (c *Client) decode(resp *http.Response, path string, out any) (bool, error) {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return false, &NetworkError{Op: "read " + path, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, &APIError{StatusCode: resp.StatusCode, Message: "malformed response body"}
	}

	if !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		if apiErr.Code == "not_found" {
			return false, nil
		}
		return false, apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return false, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return true, nil
}
