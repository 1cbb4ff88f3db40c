// Package backend is the client for the application backend's profile API.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/httpclient"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
)

const (
	componentName = "backend"

	// maxErrorBody bounds how much of an error response ends up in logs
	maxErrorBody = 512
)

// Config configures the profile client.
type Config struct {
	BaseURL string
	UserID  string
	Token   string
	Timeout time.Duration

	// Transport overrides the HTTP transport, tests pass httpmock's here
	Transport http.RoundTripper
}

// Client fetches and patches the user profile of one installation.
// It implements notification.ProfileAPI.
type Client struct {
	http    *httpclient.Client
	baseURL string
	userID  string
	timeout time.Duration
	log     logger.Logger
}

var _ notification.ProfileAPI = (*Client)(nil)

// profilePatch is the PATCH body, only the changed field is sent.
type profilePatch struct {
	Data map[string]string `json:"data"`
}

// New creates a profile client. A nil log uses the global logger.
func New(cfg Config, log logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid backend base URL %q", cfg.BaseURL).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.Newf("backend user id is required").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.Global().Module(componentName)
	}

	return &Client{
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: cfg.Timeout,
			BearerToken:    cfg.Token,
			Transport:      cfg.Transport,
		}),
		baseURL: base,
		userID:  cfg.UserID,
		timeout: cfg.Timeout,
		log:     log,
	}, nil
}

func (c *Client) profileURL() string {
	return c.baseURL + "/users/" + url.PathEscape(c.userID)
}

// FetchProfile reads the current profile.
func (c *Client) FetchProfile(ctx context.Context) (*notification.Profile, error) {
	start := time.Now()
	endpoint := c.profileURL()

	resp, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return nil, c.networkError(err, "fetch_profile", endpoint, start)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp, "fetch_profile", http.StatusOK); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var profile notification.Profile
	if err := dec.Decode(&profile); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryHTTP).
			Context("operation", "fetch_profile").
			Context("reason", "decode").
			Build()
	}
	if profile.Data == nil {
		profile.Data = map[string]any{}
	}

	c.log.Debug("profile fetched",
		logger.String("user_id", c.userID),
		logger.Int("fields", len(profile.Data)),
		logger.Duration("elapsed", time.Since(start)))
	return &profile, nil
}

// UpdateProfileField writes a single field of the profile data.
func (c *Client) UpdateProfileField(ctx context.Context, field, value string) error {
	start := time.Now()
	endpoint := c.profileURL()

	resp, err := c.http.Patch(ctx, endpoint, profilePatch{Data: map[string]string{field: value}})
	if err != nil {
		return c.networkError(err, "update_profile", endpoint, start)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp, "update_profile", http.StatusOK, http.StatusNoContent); err != nil {
		return err
	}

	c.log.Info("profile field updated",
		logger.String("user_id", c.userID),
		logger.String("field", field),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

func (c *Client) networkError(err error, op, endpoint string, start time.Time) error {
	category := errors.CategoryNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
	} else if errors.Is(err, context.Canceled) {
		category = errors.CategoryCancellation
	}
	return errors.New(err).
		Component(componentName).
		Category(category).
		NetworkContext(endpoint, c.timeout).
		Timing(op, time.Since(start)).
		Build()
}

func (c *Client) checkStatus(resp *http.Response, op string, accepted ...int) error {
	for _, code := range accepted {
		if resp.StatusCode == code {
			return nil
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.log.Warn("backend returned error status",
		logger.String("operation", op),
		logger.Int("status_code", resp.StatusCode),
		logger.String("body", logger.RedactSensitiveData(string(body))))

	category := errors.CategoryHTTP
	switch resp.StatusCode {
	case http.StatusNotFound:
		category = errors.CategoryNotFound
	case http.StatusConflict:
		category = errors.CategoryConflict
	case http.StatusTooManyRequests:
		category = errors.CategoryLimit
	}
	return errors.New(fmt.Errorf("backend %s: unexpected status %d", op, resp.StatusCode)).
		Component(componentName).
		Category(category).
		Context("operation", op).
		Context("status_code", resp.StatusCode).
		Build()
}
