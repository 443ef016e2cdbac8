package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pabridge-dev/pabridge/internal/api"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 8 << 10
)

// ErrBridgeUnreachable indicates no bridge answered on the control address.
var ErrBridgeUnreachable = errors.New("bridge is not reachable")

// ErrShutdownUnavailable indicates the bridge does not expose the shutdown
// hook, for example when it was started by a supervisor that owns teardown.
var ErrShutdownUnavailable = errors.New("bridge shutdown endpoint unavailable")

// Client wraps HTTP interactions with a running bridge's control endpoints.
type Client struct {
	client  *http.Client
	baseURL string
}

// New builds a control client for the bridge at baseURL, with an optional
// custom transport for tests.
func New(baseURL string, transport http.RoundTripper) *Client {
	trimmed := strings.TrimRight(baseURL, "/")
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	if transport != nil {
		httpClient.Transport = transport
	}

	return &Client{
		client:  httpClient,
		baseURL: trimmed,
	}
}

// BaseURL returns the bridge address this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches the bridge status document.
func (c *Client) Status(ctx context.Context) (*api.BridgeStatusDTO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bridge/status", http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge status: %w: %v", ErrBridgeUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge status: %w", readAPIError(resp))
	}

	var status api.BridgeStatusDTO
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("bridge status: decode response: %w", err)
	}
	return &status, nil
}

// Shutdown requests a graceful bridge shutdown. A nil return means the
// bridge accepted the request; actual process exit is asynchronous.
func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.post(ctx, "/bridge/shutdown")
	if err != nil {
		return fmt.Errorf("shutdown bridge: %w: %v", ErrBridgeUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return nil
	}

	errResp := readAPIError(resp)
	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("shutdown bridge: %w: %w", ErrShutdownUnavailable, errResp)
	}
	return fmt.Errorf("shutdown bridge: %w", errResp)
}

// Restart requests a full dev-server restart.
func (c *Client) Restart(ctx context.Context) error {
	resp, err := c.post(ctx, "/bridge/restart")
	if err != nil {
		return fmt.Errorf("restart bridge: %w: %v", ErrBridgeUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return nil
	}
	return fmt.Errorf("restart bridge: %w", readAPIError(resp))
}

func (c *Client) post(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) == 0 {
		return errors.New(resp.Status)
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				return errors.New(msg)
			}
		}
		// A body that is not the error envelope still matters for
		// diagnostics, so return it raw.
	}
	return errors.New(trimmed)
}
