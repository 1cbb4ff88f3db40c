package notification

import (
	"context"
	"sync"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/observability/metrics"
)

// PermissionNegotiator is the only writer of PermissionState. Capability
// errors never escape; they are logged and read as denied.
type PermissionNegotiator struct {
	platform PermissionPlatform
	log      logger.Logger
	metrics  *metrics.NotificationMetrics

	mu      sync.RWMutex
	current PermissionState
	lastErr error
}

// NewPermissionNegotiator creates a negotiator. The state starts undetermined
// until Check or Request runs.
func NewPermissionNegotiator(platform PermissionPlatform, log logger.Logger, m *metrics.NotificationMetrics) *PermissionNegotiator {
	return &PermissionNegotiator{
		platform: platform,
		log:      moduleLogger(log, "permission"),
		metrics:  m,
		current:  PermissionUndetermined,
	}
}

// Check reads the permission state without prompting.
func (p *PermissionNegotiator) Check(ctx context.Context) PermissionState {
	state, err := p.platform.Status(ctx)
	if err != nil {
		return p.fail(err, "check")
	}
	return p.store(ParsePermissionState(string(state)), nil)
}

// Request prompts the user once. When already authorized it returns without
// prompting.
func (p *PermissionNegotiator) Request(ctx context.Context) PermissionState {
	state, err := p.platform.Status(ctx)
	if err == nil && ParsePermissionState(string(state)) == PermissionAuthorized {
		p.log.Debug("permission already authorized, skipping prompt")
		return p.store(PermissionAuthorized, nil)
	}

	state, err = p.platform.Request(ctx)
	if err != nil {
		return p.fail(err, "request")
	}
	state = ParsePermissionState(string(state))
	p.log.Info("permission requested", logger.String("state", string(state)))

	var surfaced error
	if state == PermissionDenied {
		surfaced = newPermissionError(ErrPermissionDenied, "request")
	}
	return p.store(state, surfaced)
}

// PromptSettings opens the OS settings for the app. It never fails: when no
// notification-settings deep link exists it falls back to the generic app
// settings entry point, and any remaining error is logged.
func (p *PermissionNegotiator) PromptSettings(ctx context.Context) {
	err := p.platform.OpenNotificationSettings(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrSettingsLinkUnsupported) {
		p.log.Debug("notification settings link failed, falling back to app settings", logger.Error(err))
	}
	if err := p.platform.OpenAppSettings(ctx); err != nil {
		p.log.Warn("failed to open app settings", logger.Error(err))
	}
}

// Current returns the last known state.
func (p *PermissionNegotiator) Current() PermissionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Err returns the last surfaced PermissionError, if any.
func (p *PermissionNegotiator) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

func (p *PermissionNegotiator) fail(err error, op string) PermissionState {
	perr := newPermissionError(err, op)
	p.log.Warn("permission capability failed, treating as denied",
		logger.String("operation", op),
		logger.Error(perr))
	return p.store(PermissionDenied, perr)
}

func (p *PermissionNegotiator) store(state PermissionState, err error) PermissionState {
	p.mu.Lock()
	p.current = state
	p.lastErr = err
	p.mu.Unlock()

	all := AllPermissionStates()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = string(s)
	}
	p.metrics.SetPermissionState(string(state), names)
	return state
}
