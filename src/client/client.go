/*
Package client provides a library for communicating with the Sluice
control plane's REST API. It handles login and token refresh, and
exposes typed tunnel, port and endpoint operations.
*/
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"aquaduct.dev/sluice/src/auth"
	"aquaduct.dev/sluice/types"
)

// DefaultPort is used when the server URL names no port.
const DefaultPort = "9090"

// Client talks to one Sluice control plane instance.
type Client struct {
	serverURL     *url.URL
	signingSecret string
	clientID      string
	httpClient    *http.Client
}

// NewClient creates a control plane client. serverURLStr carries the
// signing secret as the URL user, e.g. "sluice://secret@server:9090".
// clientID names the caller in minted tokens; empty defaults to
// "admin-client".
func NewClient(serverURLStr, clientID string) (*Client, error) {
	serverURL, err := url.Parse(serverURLStr)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if serverURL.Port() == "" {
		serverURL.Host = serverURL.Host + ":" + DefaultPort
	}
	if clientID == "" {
		clientID = "admin-client"
	}

	return &Client{
		serverURL:     serverURL,
		signingSecret: serverURL.User.Username(),
		clientID:      clientID,
	}, nil
}

// ensureAuth runs the login flow once and keeps the resulting client.
func (c *Client) ensureAuth() error {
	if c.httpClient != nil {
		return nil
	}
	httpClient, err := auth.Login(c.serverURL.Host, c.signingSecret, c.clientID)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	c.httpClient = httpClient
	return nil
}

func (c *Client) endpoint(parts ...string) string {
	u := url.URL{Scheme: "http", Host: c.serverURL.Host}
	return u.JoinPath(parts...).String()
}

// do sends a request and decodes the response into out (when non-nil).
// Non-2xx responses surface the server's error body.
func (c *Client) do(method, requestURL string, body, out any) error {
	if err := c.ensureAuth(); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, requestURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// ListTunnels retrieves the tunnels visible to this client.
func (c *Client) ListTunnels() ([]types.Tunnel, error) {
	var tunnels []types.Tunnel
	if err := c.do(http.MethodGet, c.endpoint("tunnels"), nil, &tunnels); err != nil {
		return nil, err
	}
	return tunnels, nil
}

// GetTunnel retrieves one tunnel by ID.
func (c *Client) GetTunnel(tunnelID string) (types.Tunnel, error) {
	var t types.Tunnel
	err := c.do(http.MethodGet, c.endpoint("tunnels", tunnelID), nil, &t)
	return t, err
}

// CreateTunnel creates a tunnel and returns the stored record, with
// the generated tunnel ID filled in.
func (c *Client) CreateTunnel(t types.Tunnel) (types.Tunnel, error) {
	var created types.Tunnel
	err := c.do(http.MethodPost, c.endpoint("tunnels"), t, &created)
	return created, err
}

// UpdateTunnel replaces a tunnel's mutable fields.
func (c *Client) UpdateTunnel(t types.Tunnel) (types.Tunnel, error) {
	var updated types.Tunnel
	err := c.do(http.MethodPut, c.endpoint("tunnels", t.TunnelID), t, &updated)
	return updated, err
}

// DeleteTunnel removes a tunnel.
func (c *Client) DeleteTunnel(tunnelID string) error {
	return c.do(http.MethodDelete, c.endpoint("tunnels", tunnelID), nil, nil)
}

// CreatePort adds a port to a tunnel.
func (c *Client) CreatePort(tunnelID string, port types.TunnelPort) (types.TunnelPort, error) {
	var created types.TunnelPort
	err := c.do(http.MethodPost, c.endpoint("tunnels", tunnelID, "ports"), port, &created)
	return created, err
}

// ListPorts retrieves a tunnel's ports.
func (c *Client) ListPorts(tunnelID string) ([]types.TunnelPort, error) {
	var ports []types.TunnelPort
	if err := c.do(http.MethodGet, c.endpoint("tunnels", tunnelID, "ports"), nil, &ports); err != nil {
		return nil, err
	}
	return ports, nil
}

// DeletePort removes a port from a tunnel.
func (c *Client) DeletePort(tunnelID string, portNumber uint16) error {
	return c.do(http.MethodDelete, c.endpoint("tunnels", tunnelID, "ports", fmt.Sprint(portNumber)), nil, nil)
}

// UpsertEndpoint registers a host endpoint on a tunnel. The body goes
// through the connection-mode codec so the server receives the
// discriminated wire shape.
func (c *Client) UpsertEndpoint(tunnelID string, endpoint types.TunnelEndpoint) error {
	if err := c.ensureAuth(); err != nil {
		return err
	}
	data, err := types.MarshalEndpoint(endpoint)
	if err != nil {
		return fmt.Errorf("failed to encode endpoint: %w", err)
	}

	req, err := http.NewRequest(http.MethodPut, c.endpoint("tunnels", tunnelID, "endpoints", endpoint.HostID()), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// ListEndpoints retrieves a tunnel's registered endpoints.
func (c *Client) ListEndpoints(tunnelID string) (types.EndpointList, error) {
	if err := c.ensureAuth(); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Get(c.endpoint("tunnels", tunnelID, "endpoints"))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned error (status %d): %s", resp.StatusCode, string(respBody))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var endpoints types.EndpointList
	if err := endpoints.UnmarshalJSON(body); err != nil {
		return nil, fmt.Errorf("failed to parse endpoints: %w", err)
	}
	return endpoints, nil
}
