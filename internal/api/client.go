package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tphakala/notifyd/internal/conf"
	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/httpclient"
	"github.com/tphakala/notifyd/internal/notification"
)

// Client talks to a running agent's control API. The CLI subcommands use it.
type Client struct {
	http *httpclient.Client
	base string
}

// NewClient creates a client for the agent listening on addr, either a
// host:port or a full base URL.
func NewClient(addr string, timeout time.Duration, transport http.RoundTripper) (*Client, error) {
	base := strings.TrimSpace(addr)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, errors.Newf("invalid agent address %q", addr).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Client{
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: timeout,
			UserAgent:      "notifyd-cli",
			Transport:      transport,
		}),
		base: strings.TrimRight(u.String(), "/"),
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() { c.http.Close() }

// State returns the agent's lifecycle state.
func (c *Client) State(ctx context.Context) (*StateResponse, error) {
	var out StateResponse
	if err := c.call(ctx, http.MethodGet, "/v1/state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestPermission asks the agent to prompt for permission.
func (c *Client) RequestPermission(ctx context.Context) (notification.PermissionState, error) {
	var out PermissionResponse
	if err := c.call(ctx, http.MethodPost, "/v1/permission/request", nil, &out); err != nil {
		return "", err
	}
	return out.Permission, nil
}

// Present displays payload now.
func (c *Client) Present(ctx context.Context, payload notification.Payload) (*PresentResponse, error) {
	var out PresentResponse
	if err := c.call(ctx, http.MethodPost, "/v1/notifications", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Schedule arms a trigger for fireAt.
func (c *Client) Schedule(ctx context.Context, payload notification.Payload, fireAt time.Time) (*ScheduleResponse, error) {
	var out ScheduleResponse
	if err := c.call(ctx, http.MethodPost, "/v1/schedules", ScheduleRequest{Payload: payload, FireAt: fireAt}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pending lists armed triggers.
func (c *Client) Pending(ctx context.Context) ([]notification.ScheduledTrigger, error) {
	var out []notification.ScheduledTrigger
	if err := c.call(ctx, http.MethodGet, "/v1/schedules", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelAll clears all triggers and visible notifications.
func (c *Client) CancelAll(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/v1/schedules", nil, nil)
}

// RefreshToken asks the agent to fetch and sync a fresh push token.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	var out TokenResponse
	if err := c.call(ctx, http.MethodPost, "/v1/token/refresh", nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	start := time.Now()
	resp, err := c.http.Send(ctx, method, c.base+path, body)
	if err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("path", path).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			message = apiErr.Message
		}
		return errors.Newf("agent returned %d: %s", resp.StatusCode, message).
			Component(componentName).
			Category(errors.CategoryHTTP).
			Context("path", path).
			Context("status_code", resp.StatusCode).
			Timing("api_call", time.Since(start)).
			Build()
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(fmt.Errorf("decode %s response: %w", path, err)).
			Component(componentName).
			Category(errors.CategoryHTTP).
			Build()
	}
	return nil
}

// NewClientFromSettings creates a client for the agent configured in settings.
// A wildcard listen host is dialed on loopback.
func NewClientFromSettings(settings *conf.Settings, timeout time.Duration) (*Client, error) {
	addr := ConfigFromSettings(settings).Listen
	if host, port, err := net.SplitHostPort(addr); err == nil {
		switch host {
		case "", "0.0.0.0", "::":
			addr = net.JoinHostPort("127.0.0.1", port)
		}
	}
	return NewClient(addr, timeout, nil)
}
