// Package agent composes the configured platform adapters, the notification
// lifecycle and the local API into one running process.
package agent

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tphakala/notifyd/internal/api"
	"github.com/tphakala/notifyd/internal/backend"
	"github.com/tphakala/notifyd/internal/conf"
	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/kvstore"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
	"github.com/tphakala/notifyd/internal/observability"
	"github.com/tphakala/notifyd/internal/platform"
	"github.com/tphakala/notifyd/internal/privacy"
)

const (
	componentName = "agent"

	sinkTimeout         = 10 * time.Second
	gatewayTimeout      = 15 * time.Second
	defaultStopDeadline = 10 * time.Second
)

// Option customizes an Agent, mostly to swap I/O for tests.
type Option func(*options)

type options struct {
	log           logger.Logger
	store         kvstore.Store
	mqtt          platform.Transport
	httpTransport http.RoundTripper
	in            io.Reader
	out           io.Writer
}

// WithLogger sets the root logger.
func WithLogger(l logger.Logger) Option { return func(o *options) { o.log = l } }

// WithStore uses store instead of opening the configured one. The agent
// still closes it on Stop.
func WithStore(s kvstore.Store) Option { return func(o *options) { o.store = s } }

// WithMQTTTransport replaces the paho transport of the shell bridge.
func WithMQTTTransport(t platform.Transport) Option { return func(o *options) { o.mqtt = t } }

// WithHTTPTransport is used by the backend and push gateway clients.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.httpTransport = rt }
}

// WithPromptIO sets the terminal used by the interactive permission policy.
func WithPromptIO(in io.Reader, out io.Writer) Option {
	return func(o *options) { o.in, o.out = in, out }
}

// Agent is one notifyd process.
type Agent struct {
	settings *conf.Settings
	log      logger.Logger

	metrics   *observability.Metrics
	store     kvstore.Store
	presenter *platform.LocalPresenter
	bridge    *platform.MQTTBridge
	gateway   *platform.PushGateway
	navigator notification.Navigator
	profile   *backend.Client
	manager   *notification.Manager
	server    *api.Server

	stopOnce sync.Once
	stopErr  error
}

// New builds every component from settings without starting anything.
func New(settings *conf.Settings, opts ...Option) (*Agent, error) {
	o := options{in: os.Stdin, out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Global().Module(componentName)
	}

	a := &Agent{settings: settings, log: o.log}
	if err := a.build(&o); err != nil {
		_ = a.release()
		return nil, err
	}
	return a, nil
}

func (a *Agent) build(o *options) error {
	var err error
	if a.metrics, err = observability.NewMetrics(); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryGeneric).
			Context("operation", "metrics_init").
			Build()
	}

	a.store = o.store
	if a.store == nil {
		if a.store, err = kvstore.Open(a.settings.KVStore, a.log); err != nil {
			return err
		}
	}

	var profile notification.ProfileAPI
	if a.settings.Backend.BaseURL != "" {
		a.profile, err = backend.New(backend.Config{
			BaseURL:   a.settings.Backend.BaseURL,
			UserID:    a.settings.Backend.UserID,
			Token:     a.settings.Backend.Token,
			Timeout:   a.settings.Backend.Timeout,
			Transport: o.httpTransport,
		}, a.log.Module("backend"))
		if err != nil {
			return err
		}
		profile = a.profile
		a.log.Info("profile backend configured", logger.String("url", privacy.DisplayURL(a.settings.Backend.BaseURL)))
	} else {
		a.log.Info("no backend configured, keeping the profile locally")
		profile = backend.NewLocalProfile(a.store, a.settings.Backend.UserID)
	}

	a.presenter = platform.NewLocalPresenter(a.log)
	if a.settings.Shoutrrr.Enabled {
		sink, err := platform.NewShoutrrrSink(a.settings.Shoutrrr.URLs, sinkTimeout, a.log)
		if err != nil {
			return err
		}
		a.presenter.AddSink(sink)
	}

	var messages notification.MessageSource
	if a.settings.MQTT.Enabled {
		transport := o.mqtt
		if transport == nil {
			transport = platform.NewPahoTransport(platform.MQTTConfig{
				Broker:   a.settings.MQTT.Broker,
				ClientID: a.settings.MQTT.ClientID,
				Username: a.settings.MQTT.Username,
				Password: a.settings.MQTT.Password,
			}, a.metrics.MQTT, a.log)
		}
		a.log.Info("shell bridge enabled",
			logger.String("broker", privacy.DisplayURL(a.settings.MQTT.Broker)),
			logger.String("prefix", a.settings.MQTT.TopicPrefix))
		a.bridge = platform.NewMQTTBridge(transport, a.settings.MQTT.TopicPrefix, a.metrics.MQTT, a.log)
		a.bridge.SetInteractionHandler(a.presenter.Interact)
		a.presenter.AddSink(a.bridge)
		messages = a.bridge
		a.navigator = a.bridge
	} else {
		a.navigator = platform.NewHeadlessNavigator(a.log)
	}

	var tokens notification.TokenProvider
	if a.settings.PushGateway.URL != "" {
		a.gateway, err = platform.NewPushGateway(platform.PushGatewayConfig{
			URL:            a.settings.PushGateway.URL,
			RotateInterval: a.settings.PushGateway.RotateInterval,
			Timeout:        gatewayTimeout,
			Transport:      o.httpTransport,
		}, a.store, a.log)
		if err != nil {
			return err
		}
		tokens = a.gateway
		a.log.Info("push gateway configured", logger.String("url", privacy.DisplayURL(a.settings.PushGateway.URL)))
	} else {
		tokens = platform.NewInstallationTokens(a.store, a.log)
	}

	var opener platform.Opener
	if a.settings.Permission.OpenCommand != "" {
		opener = platform.CommandOpener(a.settings.Permission.OpenCommand)
	}
	permission := platform.NewDesktopPermission(platform.PermissionConfig{
		Policy:                  a.settings.Permission.Policy,
		NotificationSettingsURL: a.settings.Permission.NotificationSettingsURL,
		AppSettingsURL:          a.settings.Permission.AppSettingsURL,
		Opener:                  opener,
		In:                      o.in,
		Out:                     o.out,
	}, a.store, a.log)

	n := a.settings.Notification
	a.manager, err = notification.New(notification.Dependencies{
		Permission: permission,
		Tokens:     tokens,
		Presenter:  a.presenter,
		Messages:   messages,
		Navigator:  a.navigator,
		Profile:    profile,
		Store:      a.store,
	},
		notification.WithLogger(a.log),
		notification.WithMetrics(a.metrics.Notification),
		notification.WithTokenConfig(notification.TokenConfig{ProfileField: n.TokenField, StorageKey: n.StorageKey}),
		notification.WithStrictChannels(n.StrictChannels),
		notification.WithRequestPermissionOnStart(n.RequestPermissionOnStart),
		notification.WithEventBufferSize(n.EventBufferSize),
		notification.WithColdStartReplay(n.ColdStartReplay, n.ReplayMaxAge),
		notification.WithRateLimit(notification.RateLimitConfig{PerMinute: n.RateLimit.PerMinute, Burst: n.RateLimit.Burst}),
	)
	if err != nil {
		return err
	}

	if a.settings.API.Enabled {
		serverOpts := []api.ServerOption{
			api.WithLogger(a.log),
			api.WithInteractor(a.presenter),
			api.WithVersion(a.settings.Version, a.settings.BuildDate),
		}
		if a.settings.API.Metrics {
			serverOpts = append(serverOpts, api.WithMetricsHandler(a.metrics.Handler()))
		}
		if a.server, err = api.New(api.ConfigFromSettings(a.settings), a.manager, serverOpts...); err != nil {
			return err
		}
	}
	return nil
}

// Start brings the agent up. The shell bridge connects first so a launch
// notification is available to Init.
func (a *Agent) Start(ctx context.Context) error {
	if a.bridge != nil {
		if err := a.bridge.Start(ctx); err != nil {
			return err
		}
	}
	if a.gateway != nil {
		a.gateway.Start(ctx)
	}
	if err := a.manager.Init(ctx); err != nil {
		return err
	}
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}

	state := a.manager.State()
	a.log.Info("agent started",
		logger.String("version", a.settings.Version),
		logger.String("permission", string(state.Permission)),
		logger.Bool("has_token", state.Token != ""),
		logger.Bool("api", a.server != nil),
		logger.Bool("mqtt", a.bridge != nil))
	return nil
}

// Stop shuts everything down in reverse order. It is safe to call more than
// once; later calls return the first result.
func (a *Agent) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if a.manager != nil {
			if err := a.manager.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := a.release(); err != nil {
			errs = append(errs, err)
		}
		a.stopErr = errors.Join(errs...)
		a.log.Info("agent stopped")
	})
	return a.stopErr
}

// release closes the adapters and the store.
func (a *Agent) release() error {
	if a.presenter != nil {
		a.presenter.Close()
	}
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.profile != nil {
		a.profile.Close()
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// Manager returns the notification lifecycle.
func (a *Agent) Manager() *notification.Manager { return a.manager }

// Presenter returns the local presenter.
func (a *Agent) Presenter() *platform.LocalPresenter { return a.presenter }

// Navigator returns the navigator in use.
func (a *Agent) Navigator() notification.Navigator { return a.navigator }

// Addr returns the API listen address, or "" when the API is disabled.
func (a *Agent) Addr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// Run starts an agent and blocks until ctx is cancelled.
func Run(ctx context.Context, settings *conf.Settings, opts ...Option) error {
	a, err := New(settings, opts...)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), defaultStopDeadline)
		defer cancel()
		_ = a.Stop(stopCtx)
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown requested")

	stopCtx, cancel := context.WithTimeout(context.Background(), defaultStopDeadline)
	defer cancel()
	return a.Stop(stopCtx)
}
