package notification

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/observability/metrics"
)

// DefaultReplayMaxAge bounds how old a deferred cold-start event may be when
// it is replayed.
const DefaultReplayMaxAge = 2 * time.Minute

// paymentIDKeys are the data keys carrying the payment id, in lookup order.
var paymentIDKeys = []string{"paymentId", "payment_id"}

// RouterConfig configures cold-start handling.
type RouterConfig struct {
	// ReplayColdStart keeps the latest event that arrived before the navigator
	// was ready and replays it once it is. When false such events are dropped.
	ReplayColdStart bool
	ReplayMaxAge    time.Duration
}

// Resolve maps a payload to its destination. It is total: every category,
// including unknown strings, yields a destination.
func Resolve(p Payload) Destination {
	switch ParseCategory(string(p.Category)) {
	case CategoryMessage, CategoryEmail:
		return Destination{Name: DestinationMessages}
	case CategoryAppointment:
		return Destination{Name: DestinationCalendar}
	case CategoryPayment:
		dest := Destination{Name: DestinationPayments}
		for _, key := range paymentIDKeys {
			if id := p.DataString(key); id != "" {
				dest.Params = map[string]string{"paymentId": id}
				break
			}
		}
		return dest
	default:
		return Destination{Name: DestinationNotifications}
	}
}

// Router maps interaction events to destinations and navigates there.
type Router struct {
	nav        Navigator
	permission PermissionSource
	cfg        RouterConfig
	log        logger.Logger
	metrics    *metrics.NotificationMetrics
	now        func() time.Time

	mu       sync.Mutex
	deferred *Event
}

// NewRouter creates a router.
func NewRouter(nav Navigator, permission PermissionSource, cfg RouterConfig, log logger.Logger, m *metrics.NotificationMetrics) *Router {
	if cfg.ReplayMaxAge <= 0 {
		cfg.ReplayMaxAge = DefaultReplayMaxAge
	}
	return &Router{
		nav:        nav,
		permission: permission,
		cfg:        cfg,
		log:        moduleLogger(log, "router"),
		metrics:    m,
		now:        time.Now,
	}
}

// Route navigates to the destination of ev. Dismissed events and events seen
// without permission are logged no-ops. It reports whether navigation
// happened.
func (r *Router) Route(ctx context.Context, ev Event) bool {
	if ev.Kind == EventDismissed {
		r.log.Debug("notification dismissed", logger.String("category", string(ev.Payload.Category)))
		return false
	}

	dest := Resolve(ev.Payload)

	if state := r.permission.Current(); !state.Allows() {
		r.metrics.RecordRoute(dest.Name, metrics.StatusSuppressed)
		r.log.Debug("routing suppressed, permission not granted",
			logger.String("kind", string(ev.Kind)),
			logger.String("permission", string(state)))
		return false
	}

	if r.nav == nil || !r.nav.IsReady() {
		r.notReady(ctx, ev, dest)
		return false
	}

	return r.navigate(ctx, ev, dest)
}

// NavigatorReady replays the deferred cold-start event, if any and not stale.
func (r *Router) NavigatorReady(ctx context.Context) {
	r.mu.Lock()
	ev := r.deferred
	r.deferred = nil
	r.mu.Unlock()

	if ev == nil {
		return
	}
	if age := r.now().Sub(ev.ReceivedAt); age > r.cfg.ReplayMaxAge {
		dest := Resolve(ev.Payload)
		r.metrics.RecordRoute(dest.Name, metrics.StatusDropped)
		r.log.Info("discarding stale deferred event",
			logger.String("kind", string(ev.Kind)),
			logger.Duration("age", age))
		return
	}
	r.log.Info("replaying deferred event", logger.String("kind", string(ev.Kind)))
	r.Route(ctx, *ev)
}

// Deferred returns the event held for replay, if any.
func (r *Router) Deferred() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deferred == nil {
		return Event{}, false
	}
	return *r.deferred, true
}

// Name implements EventConsumer.
func (r *Router) Name() string { return "router" }

// Accepts implements EventConsumer. Every kind is taken; Route logs dismissals
// without navigating.
func (r *Router) Accepts(EventKind) bool { return true }

// HandleEvent implements EventConsumer.
func (r *Router) HandleEvent(ctx context.Context, ev Event) error {
	r.Route(ctx, ev)
	return nil
}

func (r *Router) navigate(ctx context.Context, ev Event, dest Destination) bool {
	if err := r.nav.Navigate(ctx, dest); err != nil {
		r.metrics.RecordRoute(dest.Name, metrics.StatusError)
		r.log.Warn("navigation failed", logger.Error(newRoutingError(err, ev.Kind, dest.Name)))
		return false
	}
	r.metrics.RecordRoute(dest.Name, metrics.StatusSuccess)
	r.log.Debug("routed notification event",
		logger.String("kind", string(ev.Kind)),
		logger.String("destination", dest.Name))
	return true
}

func (r *Router) notReady(ctx context.Context, ev Event, dest Destination) {
	rerr := newRoutingError(ErrNavigatorNotReady, ev.Kind, dest.Name)
	if !r.cfg.ReplayColdStart {
		r.metrics.RecordRoute(dest.Name, metrics.StatusDropped)
		r.log.Info("navigator not ready, dropping event", logger.Error(rerr))
		return
	}

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = r.now()
	}
	r.mu.Lock()
	r.deferred = &ev
	r.mu.Unlock()
	r.metrics.RecordRoute(dest.Name, metrics.StatusDeferred)
	r.log.Info("navigator not ready, deferring event until ready", logger.Error(rerr))

	// Readiness only fires on a transition, which may have happened between
	// the IsReady check and storing the event.
	if r.nav != nil && r.nav.IsReady() {
		r.NavigatorReady(ctx)
	}
}
