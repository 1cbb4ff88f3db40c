package platform

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
)

// noChannel is the channel id used on platforms without channels.
const noChannel = "none"

// Rendered is a notification that has been shown to the user.
type Rendered struct {
	ID        string               `json:"id"`
	TriggerID string               `json:"trigger_id,omitempty"`
	Channel   notification.Channel `json:"channel"`
	Payload   notification.Payload `json:"payload"`
	ShownAt   time.Time            `json:"shown_at"`
}

// Sink is an output a displayed notification is rendered to.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Rendered) error
}

// LocalPresenter presents notifications through a set of sinks and fires
// scheduled triggers from in-process timers. Every armed trigger fires at most
// once; CancelAll disarms all of them.
type LocalPresenter struct {
	log   logger.Logger
	sinks []Sink

	mu       sync.Mutex
	channels map[string]notification.Channel
	timers   map[string]*time.Timer
	visible  map[string]Rendered
	closed   bool

	firing       sync.WaitGroup
	interactions listeners[notification.Interaction]
	deliverLimit time.Duration
}

var _ notification.Presenter = (*LocalPresenter)(nil)

// NewLocalPresenter creates a presenter writing to sinks.
func NewLocalPresenter(log logger.Logger, sinks ...Sink) *LocalPresenter {
	return &LocalPresenter{
		log:          moduleLogger(log, "presenter"),
		sinks:        slices.Clone(sinks),
		channels:     make(map[string]notification.Channel),
		timers:       make(map[string]*time.Timer),
		visible:      make(map[string]Rendered),
		deliverLimit: 10 * time.Second,
	}
}

// AddSink registers another output.
func (p *LocalPresenter) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// SupportsChannels reports true: channels carry importance and labels for sinks.
func (p *LocalPresenter) SupportsChannels() bool { return true }

// CreateChannel registers ch. Re-creating an identical channel returns
// notification.ErrChannelExists.
func (p *LocalPresenter) CreateChannel(_ context.Context, ch notification.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[ch.ID]; ok {
		return notification.ErrChannelExists
	}
	p.channels[ch.ID] = ch
	p.log.Debug("channel created",
		logger.String("channel_id", ch.ID),
		logger.String("importance", string(ch.Importance)))
	return nil
}

func (p *LocalPresenter) channel(id string) (notification.Channel, error) {
	if id == "" || id == noChannel {
		return notification.Channel{ID: noChannel}, nil
	}
	ch, ok := p.channels[id]
	if !ok {
		return notification.Channel{}, errors.New(notification.ErrChannelNotProvisioned).
			Component(componentName).
			Category(errors.CategoryPresentation).
			Context("channel_id", id).
			Build()
	}
	return ch, nil
}

// Display shows payload immediately.
func (p *LocalPresenter) Display(ctx context.Context, notificationID string, payload notification.Payload, channelID string) error {
	return p.show(ctx, notificationID, "", payload, channelID)
}

func (p *LocalPresenter) show(ctx context.Context, notificationID, triggerID string, payload notification.Payload, channelID string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New(notification.ErrStopped).
			Component(componentName).
			Category(errors.CategoryState).
			Build()
	}
	ch, err := p.channel(channelID)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	r := Rendered{ID: notificationID, TriggerID: triggerID, Channel: ch, Payload: payload.Clone(), ShownAt: time.Now()}
	p.visible[notificationID] = r
	sinks := slices.Clone(p.sinks)
	p.mu.Unlock()

	p.render(ctx, sinks, r)
	return nil
}

// render hands r to every sink. Sink failures are logged, one broken output
// does not hide the notification from the others.
func (p *LocalPresenter) render(ctx context.Context, sinks []Sink, r Rendered) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.deliverLimit)
	defer cancel()

	for _, s := range sinks {
		if err := s.Deliver(ctx, r); err != nil {
			p.log.Warn("sink delivery failed",
				logger.String("sink", s.Name()),
				logger.String("notification_id", r.ID),
				logger.Error(err))
		}
	}
}

// ScheduleTimestamp arms a trigger. Arming an id that is already armed is a
// no-op so a trigger can never be shown twice.
func (p *LocalPresenter) ScheduleTimestamp(_ context.Context, triggerID string, payload notification.Payload, channelID string, fireAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New(notification.ErrStopped).
			Component(componentName).
			Category(errors.CategoryState).
			Build()
	}
	if _, err := p.channel(channelID); err != nil {
		return err
	}
	if _, armed := p.timers[triggerID]; armed {
		return nil
	}

	payload = payload.Clone()
	p.timers[triggerID] = time.AfterFunc(time.Until(fireAt), func() {
		p.fire(triggerID, payload, channelID)
	})
	p.log.Debug("trigger armed",
		logger.String("trigger_id", triggerID),
		logger.Time("fire_at", fireAt))
	return nil
}

func (p *LocalPresenter) fire(triggerID string, payload notification.Payload, channelID string) {
	p.mu.Lock()
	if _, armed := p.timers[triggerID]; !armed || p.closed {
		// cancelled between expiry and this callback
		p.mu.Unlock()
		return
	}
	delete(p.timers, triggerID)
	p.firing.Add(1)
	p.mu.Unlock()
	defer p.firing.Done()

	if err := p.show(context.Background(), triggerID, triggerID, payload, channelID); err != nil {
		p.log.Warn("scheduled trigger could not be displayed",
			logger.String("trigger_id", triggerID),
			logger.Error(err))
		return
	}
	p.interactions.emit(notification.Interaction{
		Type:           notification.InteractionDelivered,
		NotificationID: triggerID,
		TriggerID:      triggerID,
		Payload:        payload,
	})
}

// CancelAll disarms every trigger and clears visible notifications.
func (p *LocalPresenter) CancelAll(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	clear(p.visible)
	return nil
}

// OnInteraction subscribes to user interactions and deliveries.
func (p *LocalPresenter) OnInteraction(fn func(notification.Interaction)) func() {
	return p.interactions.add(fn)
}

// Interact reports a user interaction with a visible notification, e.g. from
// the shell bridge or the HTTP surface. When in carries no payload the
// payload of the visible notification is used.
func (p *LocalPresenter) Interact(in notification.Interaction) error {
	switch in.Type {
	case notification.InteractionPress, notification.InteractionActionPress, notification.InteractionDismissed:
	default:
		return errors.Newf("unsupported interaction type %q", in.Type).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	if in.Type == notification.InteractionActionPress && in.ActionID == "" {
		return errors.Newf("action press without action id").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	p.mu.Lock()
	if r, ok := p.visible[in.NotificationID]; ok {
		if in.Payload.Title == "" && in.Payload.Body == "" {
			in.Payload = r.Payload.Clone()
		}
		if in.TriggerID == "" {
			in.TriggerID = r.TriggerID
		}
		delete(p.visible, in.NotificationID)
	}
	p.mu.Unlock()

	p.interactions.emit(in)
	return nil
}

// Visible lists shown notifications that were not interacted with, oldest first.
func (p *LocalPresenter) Visible() []Rendered {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Rendered, 0, len(p.visible))
	for _, r := range p.visible {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Rendered) int { return a.ShownAt.Compare(b.ShownAt) })
	return out
}

// Armed returns the number of triggers waiting to fire.
func (p *LocalPresenter) Armed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Close disarms all triggers and waits for triggers already firing.
func (p *LocalPresenter) Close() {
	p.mu.Lock()
	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	p.mu.Unlock()
	p.firing.Wait()
}
