// Package client talks to a running relay daemon: the gRPC health service on
// the session socket and the HTTP control surface.
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
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/wpprelay/internal/webhook"
)

// HealthService must match the service name the daemon registers.
const HealthService = "wpprelay.Session"

// ErrNoChallenge is returned by QRCode when the daemon has no pending QR.
var ErrNoChallenge = errors.New("no pending QR challenge")

// Client wraps the daemon's socket connection and its HTTP API.
type Client struct {
	conn   *grpc.ClientConn
	Health healthpb.HealthClient

	base   string
	apiKey string
	http   *http.Client
}

// New dials the daemon's Unix domain socket. httpAddr is host:port of the
// control surface; apiKey may be empty.
func New(socketPath, httpAddr, apiKey string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	return &Client{
		conn:   conn,
		Health: healthpb.NewHealthClient(conn),
		base:   "http://" + httpAddr + "/api/whatsapp",
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Serving reports whether the daemon's WhatsApp connection is open.
func (c *Client) Serving(ctx context.Context) (bool, error) {
	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return false, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Watch calls fn with every serving change until ctx ends or the stream
// breaks.
func (c *Client) Watch(ctx context.Context, fn func(serving bool)) error {
	stream, err := c.Health.Watch(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return fmt.Errorf("health watch: %w", err)
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("health watch: %w", err)
		}
		fn(resp.GetStatus() == healthpb.HealthCheckResponse_SERVING)
	}
}

// Status is the reply of GET /status.
type Status struct {
	Status string  `json:"status"`
	QRCode *string `json:"qrCode"`
}

// Status fetches the connection status and any pending QR payload.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.getJSON(ctx, "/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session is the reply of GET /session.
type Session struct {
	Session       string           `json:"session"`
	Status        string           `json:"status"`
	UptimeMs      int64            `json:"uptimeMs"`
	ChatCount     int64            `json:"chatCount"`
	Outcomes      map[string]int64 `json:"outcomes"`
	SchemaVersion uint             `json:"schemaVersion"`
}

// Session fetches the daemon's session summary.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var out Session
	if err := c.getJSON(ctx, "/session", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendResult is the reply of POST /send.
type SendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// Send posts a text message to jid through the daemon.
func (c *Client) Send(ctx context.Context, jid, text string) (*SendResult, error) {
	body, err := json.Marshal(map[string]string{"jid": jid, "message": text})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/send", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out SendResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QRCode returns the pending challenge rendered as PNG.
func (c *Client) QRCode(ctx context.Context, size int) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/qr.png?size="+url.QueryEscape(strconv.Itoa(size)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET qr.png: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoChallenge
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set(webhook.APIKeyHeader, c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// APIError is a non-2xx reply from the control surface.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Code)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

func apiError(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &APIError{Code: resp.StatusCode, Message: body.Message}
}
