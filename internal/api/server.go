package api

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/notifyd/internal/api/middleware"
	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
)

// Lifecycle is the part of notification.Manager the API drives.
type Lifecycle interface {
	State() notification.State
	Ready() bool
	RequestPermission(ctx context.Context) notification.PermissionState
	PromptSettings(ctx context.Context)
	PresentNow(ctx context.Context, payload notification.Payload) string
	ScheduleAt(ctx context.Context, payload notification.Payload, fireAt time.Time) (string, bool)
	CancelAll(ctx context.Context)
	PendingTriggers() []notification.ScheduledTrigger
	RefreshToken(ctx context.Context) (string, error)
	Token() notification.PushToken
	Channels() []notification.Channel
	Stats() notification.DispatcherStats
}

var _ Lifecycle = (*notification.Manager)(nil)

// Interactor accepts user interactions reported by the shell, usually the
// local presenter.
type Interactor interface {
	Interact(in notification.Interaction) error
}

// Server is the control API HTTP server.
type Server struct {
	echo      *echo.Echo
	config    *Config
	log       logger.Logger
	lifecycle Lifecycle

	interactor     Interactor
	metricsHandler http.Handler
	version        string
	buildDate      string

	mu        sync.Mutex
	listener  net.Listener
	wg        sync.WaitGroup
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithInteractor enables POST /v1/interactions.
func WithInteractor(i Interactor) ServerOption {
	return func(s *Server) {
		s.interactor = i
	}
}

// WithMetricsHandler sets the handler served at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithVersion sets the build information reported by /healthz.
func WithVersion(version, buildDate string) ServerOption {
	return func(s *Server) {
		s.version = version
		s.buildDate = buildDate
	}
}

// New creates the server and registers all routes. It does not listen yet.
func New(config *Config, lifecycle Lifecycle, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if lifecycle == nil {
		return nil, errors.Newf("api server requires a notification lifecycle").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:    config,
		lifecycle: lifecycle,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module(componentName)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.HTTPErrorHandler = s.handleHTTPError

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized", logger.String("address", config.Listen))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, mw.SkipPaths("/healthz", "/metrics")))

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins

	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	if s.config.Metrics && s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	v1 := s.echo.Group("/v1")
	v1.GET("/state", s.getState)
	v1.POST("/permission/request", s.requestPermission)
	v1.POST("/permission/settings", s.promptSettings)
	v1.POST("/notifications", s.presentNow)
	v1.GET("/schedules", s.listSchedules)
	v1.POST("/schedules", s.schedule)
	v1.DELETE("/schedules", s.cancelAll)
	v1.POST("/token/refresh", s.refreshToken)
	v1.POST("/interactions", s.interact)
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("listen", s.config.Listen).
			Build()
	}

	s.mu.Lock()
	s.listener = ln
	s.echo.Listener = ln
	s.mu.Unlock()

	s.wg.Go(func() {
		if err := s.echo.Server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped unexpectedly", logger.Error(err))
		}
	})
	s.log.Info("HTTP server listening", logger.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	s.wg.Wait()
	s.log.Info("HTTP server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance, useful for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
