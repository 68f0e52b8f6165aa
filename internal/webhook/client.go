// Package webhook posts inbound messages to the configured HTTP endpoint and
// decodes its reply.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrUnavailable is returned when the endpoint cannot be reached or
	// answers with a non-2xx status.
	ErrUnavailable = errors.New("webhook unavailable")
	// ErrMalformedResponse is returned when a 2xx body is not a reply object.
	ErrMalformedResponse = errors.New("malformed webhook response")
)

// APIKeyHeader carries the shared secret on every request.
const APIKeyHeader = "x-api-key"

const maxReplyBytes = 1 << 20

// Payload is the JSON record posted for each relayed message.
type Payload struct {
	From        string `json:"from"`
	FromMe      bool   `json:"fromMe"`
	Participant string `json:"participant,omitempty"`
	Message     string `json:"message"`
	Media       string `json:"media,omitempty"`
	MediaType   string `json:"mediaType,omitempty"`

	MessageID string `json:"messageId,omitempty"`
	PushName  string `json:"pushName,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	GroupName string `json:"groupName,omitempty"`
}

// Reply is the endpoint's answer. A non-empty Message is sent back to the chat.
type Reply struct {
	Message string `json:"message,omitempty"`
	Success *bool  `json:"success,omitempty"`
}

// Poster delivers a payload and returns the decoded reply.
type Poster interface {
	Post(ctx context.Context, p *Payload) (*Reply, error)
}

// Client is an HTTP Poster.
type Client struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for url. A zero timeout defaults to 30 seconds.
func New(url, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		url:     url,
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post sends p once. It never retries.
func (c *Client) Post(ctx context.Context, p *Payload) (*Reply, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return decodeReply(data)
}

func decodeReply(data []byte) (*Reply, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Reply{}, nil
	}
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &r, nil
}
