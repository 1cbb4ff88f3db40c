package notification

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/observability/metrics"
)

// triggerNamespace scopes deterministic trigger ids.
var triggerNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/tphakala/notifyd/trigger"))

// noChannel labels presentations rejected before a channel was resolved.
const noChannel = "none"

// firedRetention is how long fired trigger ids are remembered so a repeated
// schedule request does not re-arm them.
const firedRetention = 24 * time.Hour

// RateLimitConfig configures the presentation token bucket.
type RateLimitConfig struct {
	PerMinute int `json:"per_minute"` // 0 disables limiting
	Burst     int `json:"burst"`
}

// Enabled reports whether the limit is active.
func (c RateLimitConfig) Enabled() bool {
	return c.PerMinute > 0
}

func (c RateLimitConfig) limiter() *rate.Limiter {
	if !c.Enabled() {
		return nil
	}
	burst := c.Burst
	if burst <= 0 {
		burst = max(1, c.PerMinute/6)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.PerMinute)), burst)
}

// Scheduler presents notifications now or arms timestamp triggers for later.
// Presentation errors are logged and never returned.
type Scheduler struct {
	presenter  Presenter
	channels   *ChannelRegistry
	permission PermissionSource
	limiter    *rate.Limiter
	log        logger.Logger
	metrics    *metrics.NotificationMetrics
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]ScheduledTrigger
	fired   map[string]time.Time
}

// NewScheduler creates a scheduler.
func NewScheduler(presenter Presenter, channels *ChannelRegistry, permission PermissionSource, limit RateLimitConfig, log logger.Logger, m *metrics.NotificationMetrics) *Scheduler {
	return &Scheduler{
		presenter:  presenter,
		channels:   channels,
		permission: permission,
		limiter:    limit.limiter(),
		log:        moduleLogger(log, "scheduler"),
		metrics:    m,
		now:        time.Now,
		pending:    make(map[string]ScheduledTrigger),
		fired:      make(map[string]time.Time),
	}
}

// PresentNow displays payload immediately. It returns the notification id,
// or "" when the payload was suppressed or could not be shown.
func (s *Scheduler) PresentNow(ctx context.Context, payload Payload) string {
	payload = payload.Normalized()
	channel, ok := s.admit(payload, "present_now")
	if !ok {
		return ""
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.RecordPresentation(channel.ID, metrics.StatusDropped, 0)
		s.logPresentationError(newPresentationError(ErrPresentationRateLimited, "present_now", payload.Category))
		return ""
	}

	id := uuid.NewString()
	timer := s.metrics.StartPresentationTimer()
	if err := s.safeCall(func() error { return s.presenter.Display(ctx, id, payload, channel.ID) }); err != nil {
		timer.ObserveDuration(channel.ID, metrics.StatusError)
		s.logPresentationError(newPresentationError(err, "display", payload.Category))
		return ""
	}
	timer.ObserveDuration(channel.ID, metrics.StatusSuccess)
	s.log.Debug("notification presented",
		logger.String("notification_id", id),
		logger.String("channel", channel.ID))
	return id
}

// ScheduleAt arms a trigger for fireAt. A zero or past fireAt presents now.
// Repeating the same request (same content and fireAt) while the trigger is
// pending, or after it fired, does not create a second trigger. It returns
// the trigger id and whether a presentation is pending or happened.
func (s *Scheduler) ScheduleAt(ctx context.Context, payload Payload, fireAt time.Time) (string, bool) {
	now := s.now()
	if fireAt.IsZero() || !fireAt.After(now) {
		id := s.PresentNow(ctx, payload)
		return id, id != ""
	}

	payload = payload.Normalized()
	channel, ok := s.admit(payload, "schedule_at")
	if !ok {
		return "", false
	}

	id, err := TriggerID(payload, fireAt)
	if err != nil {
		s.logPresentationError(newPresentationError(err, "schedule_at", payload.Category))
		return "", false
	}

	s.mu.Lock()
	s.pruneFiredLocked(now)
	if _, armed := s.pending[id]; armed {
		s.mu.Unlock()
		s.log.Debug("trigger already armed, ignoring duplicate request", logger.String("trigger_id", id))
		return id, true
	}
	if _, done := s.fired[id]; done {
		s.mu.Unlock()
		s.log.Debug("trigger already fired, not re-arming", logger.String("trigger_id", id))
		return id, false
	}
	// Reserve before calling out so a concurrent duplicate sees it.
	s.pending[id] = ScheduledTrigger{ID: id, Payload: payload, FireAt: fireAt, ChannelID: channel.ID}
	s.mu.Unlock()

	err = s.safeCall(func() error { return s.presenter.ScheduleTimestamp(ctx, id, payload, channel.ID, fireAt) })
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		s.metrics.RecordPresentation(channel.ID, metrics.StatusError, 0)
		s.logPresentationError(newPresentationError(err, "schedule_timestamp", payload.Category))
		return "", false
	}

	s.metrics.SetTriggersPending(s.pendingCount())
	s.log.Info("trigger armed",
		logger.String("trigger_id", id),
		logger.String("channel", channel.ID),
		logger.Time("fire_at", fireAt))
	return id, true
}

// TriggerFired discards the record of a fired trigger.
func (s *Scheduler) TriggerFired(triggerID string) {
	s.mu.Lock()
	trig, ok := s.pending[triggerID]
	delete(s.pending, triggerID)
	if ok {
		s.fired[triggerID] = trig.FireAt
	}
	count := len(s.pending)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.metrics.IncrementTriggersFired()
	s.metrics.SetTriggersPending(count)
	s.metrics.RecordPresentation(trig.ChannelID, metrics.StatusSuccess, 0)
	s.log.Debug("trigger fired", logger.String("trigger_id", triggerID))
}

// CancelAll clears pending triggers and visible notifications. Safe when
// nothing is pending.
func (s *Scheduler) CancelAll(ctx context.Context) {
	s.mu.Lock()
	n := len(s.pending)
	clear(s.pending)
	s.mu.Unlock()
	s.metrics.SetTriggersPending(0)

	if err := s.safeCall(func() error { return s.presenter.CancelAll(ctx) }); err != nil {
		s.log.Warn("failed to cancel notifications", logger.Error(err))
		return
	}
	s.log.Info("all notifications cancelled", logger.Int("pending_cleared", n))
}

// Pending returns the armed triggers ordered by fire time.
func (s *Scheduler) Pending() []ScheduledTrigger {
	s.mu.Lock()
	out := slices.Collect(maps.Values(s.pending))
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b ScheduledTrigger) int {
		if c := a.FireAt.Compare(b.FireAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Name implements EventConsumer.
func (s *Scheduler) Name() string { return "scheduler" }

// Accepts implements EventConsumer. Foreground receipts are not shown by the
// platform and must be presented explicitly.
func (s *Scheduler) Accepts(kind EventKind) bool { return kind == EventReceivedForeground }

// HandleEvent implements EventConsumer.
func (s *Scheduler) HandleEvent(ctx context.Context, ev Event) error {
	s.PresentNow(ctx, ev.Payload)
	return nil
}

// admit applies the permission guard, validation and channel lookup.
func (s *Scheduler) admit(payload Payload, op string) (Channel, bool) {
	if state := s.permission.Current(); !state.Allows() {
		s.metrics.RecordPresentation(noChannel, metrics.StatusSuppressed, 0)
		s.log.Debug("presentation suppressed, permission not granted",
			logger.String("operation", op),
			logger.String("permission", string(state)))
		return Channel{}, false
	}
	if err := payload.Validate(); err != nil {
		s.metrics.RecordPresentation(noChannel, metrics.StatusError, 0)
		s.logPresentationError(newPresentationError(err, op, payload.Category))
		return Channel{}, false
	}
	channel, err := s.channels.ChannelFor(payload.Category)
	if err != nil {
		s.metrics.RecordPresentation(noChannel, metrics.StatusError, 0)
		s.logPresentationError(newPresentationError(err, op, payload.Category))
		return Channel{}, false
	}
	return channel, true
}

func (s *Scheduler) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("presenter panicked: %v", r)
		}
	}()
	return fn()
}

func (s *Scheduler) logPresentationError(err error) {
	s.log.Warn("notification not presented", logger.Error(err))
}

func (s *Scheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) pruneFiredLocked(now time.Time) {
	for id, at := range s.fired {
		if now.Sub(at) > firedRetention {
			delete(s.fired, id)
		}
	}
}

// TriggerID derives the identity of a schedule request from the payload
// content and fire time, so equal requests map to the same trigger.
func TriggerID(payload Payload, fireAt time.Time) (string, error) {
	key := struct {
		Title    string         `json:"t"`
		Body     string         `json:"b"`
		Category Category       `json:"c"`
		Data     map[string]any `json:"d,omitempty"`
		Actions  []Action       `json:"a,omitempty"`
		FireAt   int64          `json:"f"`
	}{
		Title:    payload.Title,
		Body:     payload.Body,
		Category: payload.Category,
		Data:     payload.Data,
		Actions:  payload.Actions,
		FireAt:   fireAt.UnixMilli(),
	}
	// encoding/json sorts map keys, which keeps the digest stable
	data, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return uuid.NewSHA1(triggerNamespace, data).String(), nil
}
