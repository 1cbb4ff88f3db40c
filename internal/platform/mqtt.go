package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
	"github.com/tphakala/notifyd/internal/observability/metrics"
)

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Transport is a connected publish/subscribe client.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	IsConnected() bool
	Disconnect()
}

// PahoTransport implements Transport with the Eclipse paho client.
type PahoTransport struct {
	cfg     MQTTConfig
	metrics *metrics.MQTTMetrics
	log     logger.Logger

	mu     sync.Mutex
	client mqtt.Client
}

// NewPahoTransport creates an unconnected transport.
func NewPahoTransport(cfg MQTTConfig, m *metrics.MQTTMetrics, log logger.Logger) *PahoTransport {
	if cfg.ClientID == "" {
		cfg.ClientID = "notifyd-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return &PahoTransport{cfg: cfg, metrics: m, log: moduleLogger(log, "mqtt")}
}

// Connect dials the broker. paho reconnects on its own afterwards and
// restores subscriptions through the on-connect handler.
func (t *PahoTransport) Connect(ctx context.Context) error {
	if _, err := url.Parse(t.cfg.Broker); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("broker", t.cfg.Broker).
			Build()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.Broker)
	opts.SetClientID(t.cfg.ClientID)
	opts.SetUsername(t.cfg.Username)
	opts.SetPassword(t.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	// handlers publish (navigation) and must not block the router
	opts.SetOrderMatters(false)
	opts.SetConnectTimeout(t.cfg.ConnectTimeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		t.log.Info("connected to MQTT broker", logger.String("broker", t.cfg.Broker))
		t.metrics.UpdateConnectionStatus(true)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.log.Warn("connection to MQTT broker lost", logger.Error(err))
		t.metrics.UpdateConnectionStatus(false)
		t.metrics.IncrementErrors()
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		t.metrics.IncrementReconnectAttempts()
	})

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), t.cfg.ConnectTimeout); err != nil {
		t.metrics.IncrementErrors()
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Context("broker", t.cfg.Broker).
			Build()
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	return nil
}

func (t *PahoTransport) current() mqtt.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

// Publish sends payload with QoS 1.
func (t *PahoTransport) Publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	client := t.current()
	if client == nil || !client.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	if err := waitToken(ctx, client.Publish(topic, 1, retained, payload), t.cfg.PublishTimeout); err != nil {
		t.metrics.IncrementErrors()
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	t.metrics.ObservePublish(time.Since(start))
	return nil
}

// Subscribe registers handler for topic with QoS 1.
func (t *PahoTransport) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	client := t.current()
	if client == nil {
		return errors.Newf("not connected to MQTT broker").
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if err := waitToken(context.Background(), token, t.cfg.ConnectTimeout); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (t *PahoTransport) IsConnected() bool {
	client := t.current()
	return client != nil && client.IsConnected()
}

// Disconnect closes the connection, allowing 250ms for in-flight work.
func (t *PahoTransport) Disconnect() {
	client := t.current()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		t.metrics.UpdateConnectionStatus(false)
	}
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %v", timeout)
	}
}

// Bridge topics below the configured prefix.
const (
	TopicForeground  = "push/foreground"
	TopicOpened      = "push/opened"
	TopicInitial     = "push/initial"
	TopicReady       = "shell/ready"
	TopicNavigate    = "shell/navigate"
	TopicInteraction = "shell/interaction"
	TopicDisplay     = "display"
)

// DefaultInitialWait bounds how long InitialNotification waits for the
// retained launch message after subscribing.
const DefaultInitialWait = 500 * time.Millisecond

// MQTTBridge connects the lifecycle to the application shell over MQTT. It is
// the remote message source, the navigation capability and a display sink.
type MQTTBridge struct {
	transport   Transport
	prefix      string
	log         logger.Logger
	metrics     *metrics.MQTTMetrics
	initialWait time.Duration

	foreground listeners[notification.RemoteMessage]
	opened     listeners[notification.RemoteMessage]
	readyFns   listeners[struct{}]

	ready    atomic.Bool
	interact atomic.Pointer[func(notification.Interaction) error]

	mu          sync.Mutex
	initial     *notification.RemoteMessage
	initialSeen bool
	initialCh   chan struct{}
}

var (
	_ notification.MessageSource     = (*MQTTBridge)(nil)
	_ notification.Navigator         = (*MQTTBridge)(nil)
	_ notification.ReadinessNotifier = (*MQTTBridge)(nil)
	_ Sink                           = (*MQTTBridge)(nil)
)

// NewMQTTBridge creates a bridge over transport using topicPrefix.
func NewMQTTBridge(transport Transport, topicPrefix string, m *metrics.MQTTMetrics, log logger.Logger) *MQTTBridge {
	return &MQTTBridge{
		transport:   transport,
		prefix:      strings.Trim(topicPrefix, "/"),
		log:         moduleLogger(log, "bridge"),
		metrics:     m,
		initialWait: DefaultInitialWait,
		initialCh:   make(chan struct{}),
	}
}

func (b *MQTTBridge) topic(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + "/" + name
}

// SetInteractionHandler routes shell interactions, usually to
// LocalPresenter.Interact.
func (b *MQTTBridge) SetInteractionHandler(fn func(notification.Interaction) error) {
	b.interact.Store(&fn)
}

// Start connects the transport and subscribes to the shell topics.
func (b *MQTTBridge) Start(ctx context.Context) error {
	if !b.transport.IsConnected() {
		if err := b.transport.Connect(ctx); err != nil {
			return err
		}
	}

	subs := map[string]func(string, []byte){
		TopicForeground:  b.handleRemote(&b.foreground, "foreground"),
		TopicOpened:      b.handleRemote(&b.opened, "opened"),
		TopicInitial:     b.handleInitial,
		TopicReady:       b.handleReady,
		TopicInteraction: b.handleInteraction,
	}
	for name, handler := range subs {
		if err := b.transport.Subscribe(b.topic(name), handler); err != nil {
			return err
		}
	}
	b.log.Info("shell bridge started", logger.String("prefix", b.prefix))
	return nil
}

// Close disconnects the transport.
func (b *MQTTBridge) Close() {
	b.transport.Disconnect()
}

func remoteMessage(payload []byte) notification.RemoteMessage {
	return notification.RemoteMessage{
		ID:         uuid.NewString(),
		Envelope:   append([]byte(nil), payload...),
		ReceivedAt: time.Now(),
	}
}

func (b *MQTTBridge) handleRemote(set *listeners[notification.RemoteMessage], kind string) func(string, []byte) {
	return func(_ string, payload []byte) {
		b.metrics.IncrementMessagesReceived(kind)
		if len(payload) == 0 {
			return
		}
		set.emit(remoteMessage(payload))
	}
}

func (b *MQTTBridge) handleInitial(_ string, payload []byte) {
	b.metrics.IncrementMessagesReceived("initial")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialSeen {
		return
	}
	b.initialSeen = true
	if len(payload) > 0 {
		msg := remoteMessage(payload)
		b.initial = &msg
	}
	close(b.initialCh)
}

func (b *MQTTBridge) handleReady(_ string, payload []byte) {
	b.metrics.IncrementMessagesReceived("ready")
	ready := parseReady(string(payload))
	was := b.ready.Swap(ready)
	b.log.Debug("shell readiness changed", logger.Bool("ready", ready))
	if ready && !was {
		b.readyFns.emit(struct{}{})
	}
}

func parseReady(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "ready" || s == "online" {
		return true
	}
	v, err := strconv.ParseBool(s)
	return err == nil && v
}

func (b *MQTTBridge) handleInteraction(_ string, payload []byte) {
	b.metrics.IncrementMessagesReceived("interaction")
	var in notification.Interaction
	if err := json.Unmarshal(payload, &in); err != nil {
		b.metrics.IncrementErrors()
		b.log.Warn("malformed interaction from shell", logger.Error(err))
		return
	}
	fn := b.interact.Load()
	if fn == nil {
		b.log.Debug("interaction ignored, no handler", logger.String("type", string(in.Type)))
		return
	}
	if err := (*fn)(in); err != nil {
		b.log.Warn("interaction rejected", logger.String("type", string(in.Type)), logger.Error(err))
	}
}

// OnMessage subscribes to foreground push messages.
func (b *MQTTBridge) OnMessage(fn func(notification.RemoteMessage)) func() {
	return b.foreground.add(fn)
}

// OnNotificationOpened subscribes to notifications opened from the background.
func (b *MQTTBridge) OnNotificationOpened(fn func(notification.RemoteMessage)) func() {
	return b.opened.add(fn)
}

// InitialNotification returns the message that launched the shell, once. The
// retained launch message is cleared on the broker after it is consumed.
func (b *MQTTBridge) InitialNotification(ctx context.Context) (*notification.RemoteMessage, error) {
	timer := time.NewTimer(b.initialWait)
	defer timer.Stop()
	select {
	case <-b.initialCh:
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b.mu.Lock()
	msg := b.initial
	b.initial = nil
	b.mu.Unlock()

	if msg != nil {
		if err := b.transport.Publish(ctx, b.topic(TopicInitial), true, nil); err != nil {
			b.log.Warn("failed to clear retained launch message", logger.Error(err))
		}
	}
	return msg, nil
}

// IsReady reports whether the shell announced it can navigate.
func (b *MQTTBridge) IsReady() bool { return b.ready.Load() }

// OnReady subscribes to not-ready to ready transitions.
func (b *MQTTBridge) OnReady(fn func()) func() {
	return b.readyFns.add(func(struct{}) { fn() })
}

// Navigate asks the shell to show dest.
func (b *MQTTBridge) Navigate(ctx context.Context, dest notification.Destination) error {
	if !b.IsReady() {
		return notification.ErrNavigatorNotReady
	}
	data, err := json.Marshal(dest)
	if err != nil {
		return err
	}
	return b.transport.Publish(ctx, b.topic(TopicNavigate), false, data)
}

func (b *MQTTBridge) Name() string { return "mqtt" }

// Deliver publishes the displayed notification for the shell to render.
func (b *MQTTBridge) Deliver(ctx context.Context, r Rendered) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.transport.Publish(ctx, b.topic(TopicDisplay), false, data)
}
