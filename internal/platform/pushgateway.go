package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/httpclient"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
)

// InstallationIDKey is the store key of the installation id the gateway
// issues tokens for.
const InstallationIDKey = "notification.installation_id"

// PushGatewayConfig configures the push token provider.
type PushGatewayConfig struct {
	URL            string
	RotateInterval time.Duration
	Timeout        time.Duration

	// Transport overrides the HTTP transport, tests pass httpmock's here
	Transport http.RoundTripper
}

type registerRequest struct {
	InstallationID string `json:"installation_id"`
	Platform       string `json:"platform"`
	Rotate         bool   `json:"rotate"`
}

// PushGateway obtains push tokens for this installation from a push
// gateway. It implements notification.TokenProvider.
type PushGateway struct {
	http     *httpclient.Client
	endpoint string
	timeout  time.Duration
	store    notification.KVStore
	interval time.Duration
	log      logger.Logger

	mu    sync.Mutex
	token string

	refresh listeners[string]

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ notification.TokenProvider = (*PushGateway)(nil)

// NewPushGateway validates cfg and creates the provider.
func NewPushGateway(cfg PushGatewayConfig, store notification.KVStore, log logger.Logger) (*PushGateway, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid push gateway URL %q", cfg.URL).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if store == nil {
		return nil, errors.Newf("push gateway requires a key-value store").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &PushGateway{
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: cfg.Timeout,
			Transport:      cfg.Transport,
		}),
		endpoint: strings.TrimRight(u.String(), "/") + "/v1/register",
		timeout:  cfg.Timeout,
		store:    store,
		interval: cfg.RotateInterval,
		log:      moduleLogger(log, "pushgateway"),
		stop:     make(chan struct{}),
	}, nil
}

// installationID returns the persisted installation id, creating it on first use.
func (g *PushGateway) installationID(ctx context.Context) (string, error) {
	id, ok, err := g.store.Get(ctx, InstallationIDKey)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := g.store.Set(ctx, InstallationIDKey, id); err != nil {
		return "", err
	}
	g.log.Info("installation registered", logger.String("installation_id", id))
	return id, nil
}

// Token returns the current token, registering with the gateway when none
// has been issued yet in this process.
func (g *PushGateway) Token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" {
		return g.token, nil
	}
	token, err := g.register(ctx, false)
	if err != nil {
		return "", err
	}
	g.token = token
	return token, nil
}

// Rotate asks the gateway for a new token and notifies refresh listeners
// when it differs from the current one.
func (g *PushGateway) Rotate(ctx context.Context) (string, error) {
	g.mu.Lock()
	token, err := g.register(ctx, true)
	if err != nil {
		g.mu.Unlock()
		return "", err
	}
	changed := token != g.token
	g.token = token
	g.mu.Unlock()

	if changed {
		g.log.Info("push token rotated")
		g.refresh.emit(token)
	}
	return token, nil
}

// OnRefresh subscribes to token rotations.
func (g *PushGateway) OnRefresh(fn func(token string)) func() {
	return g.refresh.add(fn)
}

func (g *PushGateway) register(ctx context.Context, rotate bool) (string, error) {
	start := time.Now()
	id, err := g.installationID(ctx)
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryTokenAcquisition).
			Context("operation", "installation_id").
			Build()
	}

	resp, err := g.http.Post(ctx, g.endpoint, registerRequest{
		InstallationID: id,
		Platform:       runtime.GOOS,
		Rotate:         rotate,
	})
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryTokenAcquisition).
			NetworkContext(g.endpoint, g.timeout).
			Timing("push_gateway_register", time.Since(start)).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Newf("push gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))).
			Component(componentName).
			Category(errors.CategoryTokenAcquisition).
			Context("status_code", resp.StatusCode).
			Build()
	}

	obj, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return "", errors.New(fmt.Errorf("decode push gateway response: %w", err)).
			Component(componentName).
			Category(errors.CategoryTokenAcquisition).
			Build()
	}
	token, err := obj.GetString("token")
	if err != nil || strings.TrimSpace(token) == "" {
		return "", errors.Newf("push gateway response carries no token").
			Component(componentName).
			Category(errors.CategoryTokenAcquisition).
			Build()
	}
	return token, nil
}

// Start rotates the token every RotateInterval until Close. A zero interval
// disables rotation.
func (g *PushGateway) Start(ctx context.Context) {
	if g.interval <= 0 {
		return
	}
	g.wg.Go(func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.stop:
				return
			case <-ticker.C:
				if _, err := g.Rotate(ctx); err != nil {
					g.log.Warn("scheduled token rotation failed", logger.Error(err))
				}
			}
		}
	})
}

// Close stops rotation and releases idle connections.
func (g *PushGateway) Close() {
	g.once.Do(func() {
		close(g.stop)
		g.wg.Wait()
		g.http.Close()
	})
}
