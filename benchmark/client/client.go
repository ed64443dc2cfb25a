// Package client is a small HTTP client for the ledger node API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PrincipalHeader names the caller of a request
const PrincipalHeader = "X-Principal"

type RequestOptions struct {
	Headers   map[string]string
	Timeout   time.Duration
	Principal string
	Context   context.Context
}

// Meta is the consensus metadata the node attaches to ledger responses
type Meta struct {
	RequestID   string `json:"request_id"`
	TxID        string `json:"tx_id"`
	BlockHeight int64  `json:"block_height"`
	Status      string `json:"status"`
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

type envelope struct {
	Body json.RawMessage `json:"body"`
	Meta Meta            `json:"meta"`
}

// Meta returns the consensus metadata of a ledger response
func (r *Response) Meta() (Meta, error) {
	var env envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return Meta{}, fmt.Errorf("failed to unmarshal response meta: %w", err)
	}
	return env.Meta, nil
}

// Decode unmarshals the body field of a ledger response into target
func (r *Response) Decode(target interface{}) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	var env envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}
	if err := json.Unmarshal(env.Body, target); err != nil {
		return fmt.Errorf("failed to unmarshal ledger body: %w", err)
	}
	return nil
}

type HTTPClient struct {
	BaseURL     string
	Client      *http.Client
	DefaultOpts RequestOptions
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
		DefaultOpts: RequestOptions{
			Headers: map[string]string{},
			Timeout: 30 * time.Second,
		},
	}
}

// Call sends one request. Responses with a status of 400 or above are
// returned together with an error.
func (c *HTTPClient) Call(method, endpoint string, body interface{}, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &c.DefaultOpts
	}

	var bodyReader io.Reader
	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(bodyJSON)
	}

	ctx := opts.Context
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, bodyReader)
	if err != nil {
		return nil, err
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if opts.Principal != "" {
		req.Header.Set(PrincipalHeader, opts.Principal)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	out := &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: respBody}
	if resp.StatusCode >= http.StatusBadRequest {
		return out, fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return out, nil
}

func (c *HTTPClient) GET(endpoint string, opts *RequestOptions) (*Response, error) {
	return c.Call(http.MethodGet, endpoint, nil, opts)
}

func (c *HTTPClient) POST(endpoint string, body interface{}, opts *RequestOptions) (*Response, error) {
	return c.Call(http.MethodPost, endpoint, body, opts)
}

func (c *HTTPClient) DELETE(endpoint string, opts *RequestOptions) (*Response, error) {
	return c.Call(http.MethodDelete, endpoint, nil, opts)
}

// As returns a copy of opts that sends requests as principal
func (opts RequestOptions) As(principal string) *RequestOptions {
	opts.Principal = principal
	return &opts
}
