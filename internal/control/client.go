package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Client is a control socket client.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient creates a new control client.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
	}
}

// Status retrieves the server status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Slots retrieves the connected client slots.
func (c *Client) Slots(ctx context.Context) (*SlotsResponse, error) {
	var slots SlotsResponse
	if err := c.do(ctx, http.MethodGet, "/slots", &slots); err != nil {
		return nil, err
	}
	return &slots, nil
}

// Release frees the slot at index.
func (c *Client) Release(ctx context.Context, index int) (*ReleaseResponse, error) {
	var release ReleaseResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/slots/%d/release", index), &release); err != nil {
		return nil, err
	}
	return &release, nil
}

// do performs a request to the control socket and decodes the JSON response.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	// Use a dummy host since we're connecting via Unix socket
	url := "http://localhost" + path

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status: %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Close closes the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
