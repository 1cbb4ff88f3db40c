package notification

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/observability/metrics"
)

// Dependencies are the platform capabilities the Manager drives.
// Messages is optional; everything else is required.
type Dependencies struct {
	Permission PermissionPlatform
	Tokens     TokenProvider
	Presenter  Presenter
	Messages   MessageSource
	Navigator  Navigator
	Profile    ProfileAPI
	Store      KVStore
}

// Options configure a Manager.
type Options struct {
	Logger  logger.Logger
	Metrics *metrics.NotificationMetrics

	Token                    TokenConfig
	StrictChannels           bool
	RequestPermissionOnStart bool
	EventBufferSize          int
	Router                   RouterConfig
	RateLimit                RateLimitConfig
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Token:           TokenConfig{}.withDefaults(),
		EventBufferSize: DefaultEventBufferSize,
		Router: RouterConfig{
			ReplayColdStart: true,
			ReplayMaxAge:    DefaultReplayMaxAge,
		},
	}
}

// WithLogger sets the parent logger.
func WithLogger(l logger.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.NotificationMetrics) Option { return func(o *Options) { o.Metrics = m } }

// WithTokenConfig sets the backend field and storage key of the push token.
func WithTokenConfig(c TokenConfig) Option { return func(o *Options) { o.Token = c.withDefaults() } }

// WithStrictChannels makes unprovisioned categories fail loudly.
func WithStrictChannels(strict bool) Option { return func(o *Options) { o.StrictChannels = strict } }

// WithRequestPermissionOnStart prompts during Init when the state is undetermined.
func WithRequestPermissionOnStart(v bool) Option {
	return func(o *Options) { o.RequestPermissionOnStart = v }
}

// WithEventBufferSize sets the dispatcher queue capacity.
func WithEventBufferSize(n int) Option { return func(o *Options) { o.EventBufferSize = n } }

// WithColdStartReplay configures routing of events seen before the navigator is ready.
func WithColdStartReplay(enabled bool, maxAge time.Duration) Option {
	return func(o *Options) { o.Router = RouterConfig{ReplayColdStart: enabled, ReplayMaxAge: maxAge} }
}

// WithRateLimit limits immediate presentations.
func WithRateLimit(c RateLimitConfig) Option { return func(o *Options) { o.RateLimit = c } }

// State is the consumer-facing snapshot.
type State struct {
	Token      string          `json:"token,omitempty"`
	Permission PermissionState `json:"permission_state"`
	IsLoading  bool            `json:"is_loading"`
	Err        error           `json:"-"`
}

// Manager owns the notification lifecycle of one process. Build isolated
// instances with New and drive them with Init and Shutdown.
type Manager struct {
	deps Dependencies
	opts Options
	log  logger.Logger

	permission *PermissionNegotiator
	channels   *ChannelRegistry
	tokens     *TokenManager
	dispatcher *EventDispatcher
	scheduler  *Scheduler
	router     *Router

	gate *initGate

	mu       sync.RWMutex
	loading  bool
	tokenErr error
	navUnsub func()
}

// New wires the lifecycle components. It does not touch any capability;
// call Init to start.
func New(deps Dependencies, opts ...Option) (*Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := moduleLogger(o.Logger, "")

	m := &Manager{
		deps: deps,
		opts: o,
		log:  log,
		gate: newInitGate(ErrStopped),
	}
	m.permission = NewPermissionNegotiator(deps.Permission, log, o.Metrics)
	m.channels = NewChannelRegistry(deps.Presenter, o.StrictChannels, log)
	m.tokens = NewTokenManager(deps.Tokens, deps.Profile, deps.Store, o.Token, log, o.Metrics)
	m.dispatcher = NewEventDispatcher(deps.Presenter, deps.Messages, o.EventBufferSize, log, o.Metrics)
	m.scheduler = NewScheduler(deps.Presenter, m.channels, m.permission, o.RateLimit, log, o.Metrics)
	m.router = NewRouter(deps.Navigator, m.permission, o.Router, log, o.Metrics)

	m.dispatcher.Subscribe(m.scheduler)
	m.dispatcher.Subscribe(m.router)
	m.dispatcher.OnDelivered(func(in Interaction) { m.scheduler.TriggerFired(in.TriggerID) })
	return m, nil
}

func (d Dependencies) validate() error {
	missing := make([]string, 0, 6)
	if d.Permission == nil {
		missing = append(missing, "permission")
	}
	if d.Tokens == nil {
		missing = append(missing, "tokens")
	}
	if d.Presenter == nil {
		missing = append(missing, "presenter")
	}
	if d.Navigator == nil {
		missing = append(missing, "navigator")
	}
	if d.Profile == nil {
		missing = append(missing, "profile")
	}
	if d.Store == nil {
		missing = append(missing, "store")
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.Newf("missing notification dependencies: %v", missing).
		Component(componentName).
		Category(errors.CategoryValidation).
		Context("missing", missing).
		Build()
}

// Init runs the start sequence once: permission check, channel provisioning,
// token acquisition, then event subscriptions. Token failures are kept in
// State and do not fail Init.
func (m *Manager) Init(ctx context.Context) error {
	return m.gate.run(ctx, m.start)
}

func (m *Manager) start(ctx context.Context) error {
	m.setLoading(true)
	defer m.setLoading(false)

	state := m.permission.Check(ctx)
	if state == PermissionUndetermined && m.opts.RequestPermissionOnStart {
		state = m.permission.Request(ctx)
	}
	m.log.Info("notification permission", logger.String("state", string(state)))

	if err := m.channels.EnsureChannels(ctx, AllCategories()...); err != nil {
		m.log.Warn("some channels could not be provisioned", logger.Error(err))
	}

	m.tokens.Start()
	if _, err := m.tokens.GetToken(ctx); err != nil {
		m.setTokenErr(err)
	} else {
		m.setTokenErr(nil)
	}

	if err := m.dispatcher.Init(ctx); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryState).
			Context("operation", "dispatcher_init").
			Build()
	}

	if rn, ok := m.deps.Navigator.(ReadinessNotifier); ok {
		unsub := rn.OnReady(func() { m.router.NavigatorReady(context.Background()) })
		m.mu.Lock()
		m.navUnsub = unsub
		m.mu.Unlock()
	}
	if m.deps.Navigator.IsReady() {
		m.router.NavigatorReady(ctx)
	}

	m.log.Info("notification lifecycle ready",
		logger.Bool("has_token", m.tokens.Current() != ""),
		logger.Int("channels", len(m.channels.Channels())))
	return nil
}

// Shutdown removes subscriptions, stops background work and makes further
// Init calls return ErrStopped.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.gate.stop()

	m.mu.Lock()
	unsub := m.navUnsub
	m.navUnsub = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	err := m.dispatcher.Shutdown(ctx)
	m.tokens.Close()
	m.log.Info("notification lifecycle stopped")
	return err
}

// State returns the consumer-facing snapshot. Only permission and token
// acquisition failures are reported in Err.
func (m *Manager) State() State {
	m.mu.RLock()
	loading := m.loading
	tokenErr := m.tokenErr
	m.mu.RUnlock()

	err := m.permission.Err()
	if err == nil {
		err = tokenErr
	}
	return State{
		Token:      m.tokens.Current(),
		Permission: m.permission.Current(),
		IsLoading:  loading,
		Err:        err,
	}
}

// RequestPermission prompts for permission.
func (m *Manager) RequestPermission(ctx context.Context) PermissionState {
	return m.permission.Request(ctx)
}

// PromptSettings opens the OS settings for the app.
func (m *Manager) PromptSettings(ctx context.Context) {
	m.permission.PromptSettings(ctx)
}

// PresentNow displays payload immediately and returns the notification id,
// or "" when it was not shown.
func (m *Manager) PresentNow(ctx context.Context, payload Payload) string {
	return m.scheduler.PresentNow(ctx, payload)
}

// ScheduleAt arms a trigger, or presents now when fireAt is zero or past.
func (m *Manager) ScheduleAt(ctx context.Context, payload Payload, fireAt time.Time) (string, bool) {
	return m.scheduler.ScheduleAt(ctx, payload, fireAt)
}

// CancelAll clears pending triggers and visible notifications.
func (m *Manager) CancelAll(ctx context.Context) {
	m.scheduler.CancelAll(ctx)
}

// PendingTriggers lists armed triggers.
func (m *Manager) PendingTriggers() []ScheduledTrigger {
	return m.scheduler.Pending()
}

// RefreshToken fetches a fresh token from the provider and syncs it.
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	m.setLoading(true)
	defer m.setLoading(false)

	token, err := m.tokens.RefreshToken(ctx)
	m.setTokenErr(err)
	return token, err
}

// Token returns the push token record.
func (m *Manager) Token() PushToken {
	return m.tokens.Token()
}

// Channels returns the provisioned channels.
func (m *Manager) Channels() []Channel {
	return m.channels.Channels()
}

// Stats returns the dispatcher counters.
func (m *Manager) Stats() DispatcherStats {
	return m.dispatcher.Stats()
}

// Ready reports whether Init has completed.
func (m *Manager) Ready() bool {
	return m.gate.current() == gateReady
}

// WaitIdle blocks until background token syncs have finished.
func (m *Manager) WaitIdle() {
	m.tokens.Wait()
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	m.loading = v
	m.mu.Unlock()
}

func (m *Manager) setTokenErr(err error) {
	m.mu.Lock()
	m.tokenErr = err
	m.mu.Unlock()
}
