package notification

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/observability/metrics"
)

// DefaultEventBufferSize is the capacity of the dispatcher ingress queue.
const DefaultEventBufferSize = 64

// EventConsumer reads normalized events from the dispatcher.
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string
	// Accepts reports whether the consumer wants events of kind
	Accepts(kind EventKind) bool
	// HandleEvent processes one event. Errors are logged by the dispatcher.
	HandleEvent(ctx context.Context, event Event) error
}

// DispatcherStats contains runtime statistics for monitoring
type DispatcherStats struct {
	EventsReceived  uint64 `json:"events_received"`
	EventsProcessed uint64 `json:"events_processed"`
	EventsDropped   uint64 `json:"events_dropped"`
	ConsumerErrors  uint64 `json:"consumer_errors"`
	Installs        uint64 `json:"installs"`
}

// EventDispatcher subscribes to every delivery and interaction source and
// turns them into one Event stream. All sources feed a single queue drained
// by one goroutine, so consumers see events in arrival order.
type EventDispatcher struct {
	presenter Presenter
	source    MessageSource
	log       logger.Logger
	metrics   *metrics.NotificationMetrics
	now       func() time.Time

	gate  *initGate
	queue chan Event

	mu          sync.RWMutex
	consumers   []EventConsumer
	onDelivered func(Interaction)
	unsubs      []func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	errs      atomic.Uint64
	installs  atomic.Uint64
}

// NewEventDispatcher creates a dispatcher. source may be nil when the
// process has no remote push channel.
func NewEventDispatcher(presenter Presenter, source MessageSource, bufferSize int, log logger.Logger, m *metrics.NotificationMetrics) *EventDispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultEventBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventDispatcher{
		presenter: presenter,
		source:    source,
		log:       moduleLogger(log, "dispatcher"),
		metrics:   m,
		now:       time.Now,
		gate:      newInitGate(ErrDispatcherStopped),
		queue:     make(chan Event, bufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Subscribe adds a consumer. Consumers should be added before Init.
func (d *EventDispatcher) Subscribe(consumer EventConsumer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumers = append(d.consumers, consumer)
	d.log.Debug("consumer registered", logger.String("consumer", consumer.Name()))
}

// OnDelivered sets the callback for presenter delivery reports. Delivery is
// bookkeeping only and never becomes an Event.
func (d *EventDispatcher) OnDelivered(fn func(Interaction)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDelivered = fn
}

// Init installs the source subscriptions. It runs at most once: a call while
// ready is a no-op and a call while another Init is running waits for it.
// After Shutdown it returns ErrDispatcherStopped.
func (d *EventDispatcher) Init(ctx context.Context) error {
	return d.gate.run(ctx, d.install)
}

func (d *EventDispatcher) install(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.wg.Go(d.run)

	unsubs := []func(){d.presenter.OnInteraction(d.onInteraction)}
	if d.source != nil {
		unsubs = append(unsubs,
			d.source.OnMessage(func(msg RemoteMessage) { d.onRemote(EventReceivedForeground, msg) }),
			d.source.OnNotificationOpened(func(msg RemoteMessage) { d.onRemote(EventOpenedBackground, msg) }),
		)
	}

	d.mu.Lock()
	d.unsubs = append(d.unsubs, unsubs...)
	d.mu.Unlock()
	d.installs.Add(1)

	// Subscriptions are in place before the cold-start message is read so
	// nothing arriving in between is lost.
	if d.source != nil {
		msg, err := d.source.InitialNotification(ctx)
		switch {
		case err != nil:
			d.log.Warn("failed to read initial notification", logger.Error(err))
		case msg != nil:
			d.onRemote(EventOpenedQuit, *msg)
		}
	}

	d.log.Info("event subscriptions installed",
		logger.Bool("remote_source", d.source != nil),
		logger.Int("consumers", d.consumerCount()))
	return nil
}

// Publish queues an event without blocking. It returns false when the
// dispatcher is stopped or the queue is full.
func (d *EventDispatcher) Publish(ev Event) bool {
	if d.ctx.Err() != nil {
		return false
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = d.now()
	}
	d.received.Add(1)

	select {
	case d.queue <- ev:
		d.metrics.SetEventQueueDepth(len(d.queue))
		return true
	default:
		d.dropped.Add(1)
		d.metrics.IncrementEventsDropped()
		d.log.Warn("event queue full, dropping event",
			logger.String("kind", string(ev.Kind)),
			logger.Int("capacity", cap(d.queue)))
		return false
	}
}

func (d *EventDispatcher) onRemote(kind EventKind, msg RemoteMessage) {
	payload, err := DecodeEnvelope(msg.Envelope)
	if err != nil {
		d.log.Warn("remote message envelope could not be decoded, using general payload",
			logger.String("message_id", msg.ID),
			logger.String("kind", string(kind)),
			logger.Error(err))
	}
	if msg.ID != "" {
		payload = payload.WithData("messageId", msg.ID)
	}
	d.Publish(Event{Kind: kind, Payload: payload, ReceivedAt: msg.ReceivedAt})
}

func (d *EventDispatcher) onInteraction(in Interaction) {
	switch in.Type {
	case InteractionPress:
		d.Publish(Event{Kind: EventAction, Payload: in.Payload, ActionID: DefaultActionID})
	case InteractionActionPress:
		actionID := in.ActionID
		if actionID == "" {
			actionID = DefaultActionID
		}
		d.Publish(Event{Kind: EventAction, Payload: in.Payload, ActionID: actionID})
	case InteractionDismissed:
		d.Publish(Event{Kind: EventDismissed, Payload: in.Payload})
	case InteractionDelivered:
		d.mu.RLock()
		fn := d.onDelivered
		d.mu.RUnlock()
		if fn != nil {
			fn(in)
		}
	default:
		d.log.Debug("ignoring unknown interaction", logger.String("type", string(in.Type)))
	}
}

func (d *EventDispatcher) run() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.queue:
			d.metrics.SetEventQueueDepth(len(d.queue))
			d.deliver(ev)
		}
	}
}

func (d *EventDispatcher) deliver(ev Event) {
	d.metrics.RecordEvent(string(ev.Kind))

	d.mu.RLock()
	consumers := slices.Clone(d.consumers)
	d.mu.RUnlock()

	for _, c := range consumers {
		if !c.Accepts(ev.Kind) {
			continue
		}
		if err := d.handle(c, ev); err != nil {
			d.errs.Add(1)
			d.log.Warn("consumer failed to handle event",
				logger.String("consumer", c.Name()),
				logger.String("kind", string(ev.Kind)),
				logger.Error(err))
		}
	}
	d.processed.Add(1)
}

// handle runs one consumer with panic recovery so a faulty consumer cannot
// stop the loop.
func (d *EventDispatcher) handle(c EventConsumer, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("consumer panicked",
				logger.String("consumer", c.Name()),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("consumer %s panicked: %v", c.Name(), r)
		}
	}()
	return c.HandleEvent(d.ctx, ev)
}

// Shutdown removes all subscriptions and stops the loop. Queued events that
// were not delivered yet are discarded.
func (d *EventDispatcher) Shutdown(ctx context.Context) error {
	d.gate.stop()

	d.mu.Lock()
	unsubs := d.unsubs
	d.unsubs = nil
	d.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event dispatcher shutdown: %w", ctx.Err())
	}
}

// Ready reports whether subscriptions are installed.
func (d *EventDispatcher) Ready() bool {
	return d.gate.current() == gateReady
}

// Stats returns a snapshot of the dispatcher counters.
func (d *EventDispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		EventsReceived:  d.received.Load(),
		EventsProcessed: d.processed.Load(),
		EventsDropped:   d.dropped.Load(),
		ConsumerErrors:  d.errs.Load(),
		Installs:        d.installs.Load(),
	}
}

func (d *EventDispatcher) consumerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.consumers)
}
