package platform

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/notifyd/internal/notification"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeTransport routes published messages back to local subscribers.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]func(string, []byte)
	published []published
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(string, []byte))}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeTransport) Publish(_ context.Context, topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, retained: retained, payload: payload})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, handler func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

// inject simulates a broker message on topic.
func (f *fakeTransport) inject(t *testing.T, topic string, payload []byte) {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	require.True(t, ok, "no subscription for %s", topic)
	h(topic, payload)
}

func (f *fakeTransport) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func startedBridge(t *testing.T) (*MQTTBridge, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	b := NewMQTTBridge(tr, "/app/", nil, testLogger())
	b.initialWait = 20 * time.Millisecond
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Close)
	return b, tr
}

func TestMQTTBridge_Subscriptions(t *testing.T) {
	t.Parallel()
	_, tr := startedBridge(t)

	assert.True(t, tr.IsConnected())
	for _, topic := range []string{"app/push/foreground", "app/push/opened", "app/push/initial", "app/shell/ready", "app/shell/interaction"} {
		assert.Contains(t, tr.handlers, topic)
	}
}

func TestMQTTBridge_RemoteMessages(t *testing.T) {
	t.Parallel()
	b, tr := startedBridge(t)

	var foreground, opened []notification.RemoteMessage
	defer b.OnMessage(func(m notification.RemoteMessage) { foreground = append(foreground, m) })()
	defer b.OnNotificationOpened(func(m notification.RemoteMessage) { opened = append(opened, m) })()

	tr.inject(t, "app/push/foreground", []byte(`{"notification":{"title":"Hi"}}`))
	tr.inject(t, "app/push/foreground", nil)
	tr.inject(t, "app/push/opened", []byte(`{"data":{"type":"payment"}}`))

	require.Len(t, foreground, 1, "empty payloads are dropped")
	assert.NotEmpty(t, foreground[0].ID)
	assert.JSONEq(t, `{"notification":{"title":"Hi"}}`, string(foreground[0].Envelope))
	require.Len(t, opened, 1)
}

func TestMQTTBridge_InitialNotification(t *testing.T) {
	t.Parallel()
	b, tr := startedBridge(t)
	ctx := context.Background()

	tr.inject(t, "app/push/initial", []byte(`{"data":{"type":"message"}}`))
	tr.inject(t, "app/push/initial", []byte(`{"data":{"type":"other"}}`))

	msg, err := b.InitialNotification(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.JSONEq(t, `{"data":{"type":"message"}}`, string(msg.Envelope), "first retained message wins")

	sent := tr.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "app/push/initial", sent[0].topic)
	assert.True(t, sent[0].retained, "retained launch message is cleared")
	assert.Empty(t, sent[0].payload)

	msg, err = b.InitialNotification(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg, "the launch message is consumed once")
}

func TestMQTTBridge_InitialNotificationAbsent(t *testing.T) {
	t.Parallel()
	b, _ := startedBridge(t)

	msg, err := b.InitialNotification(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestMQTTBridge_ReadinessAndNavigate(t *testing.T) {
	t.Parallel()
	b, tr := startedBridge(t)
	ctx := context.Background()
	dest := notification.Destination{Name: notification.DestinationPayments, Params: map[string]string{"invoice": "42"}}

	assert.False(t, b.IsReady())
	assert.ErrorIs(t, b.Navigate(ctx, dest), notification.ErrNavigatorNotReady)

	readyCalls := 0
	defer b.OnReady(func() { readyCalls++ })()

	tr.inject(t, "app/shell/ready", []byte("true"))
	tr.inject(t, "app/shell/ready", []byte("online"))
	assert.True(t, b.IsReady())
	assert.Equal(t, 1, readyCalls, "only the transition to ready notifies")

	require.NoError(t, b.Navigate(ctx, dest))
	sent := tr.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "app/shell/navigate", sent[0].topic)
	var got notification.Destination
	require.NoError(t, json.Unmarshal(sent[0].payload, &got))
	assert.Equal(t, dest, got)

	tr.inject(t, "app/shell/ready", []byte("false"))
	assert.False(t, b.IsReady())
	tr.inject(t, "app/shell/ready", []byte("ready"))
	assert.Equal(t, 2, readyCalls)
}

func TestMQTTBridge_Interactions(t *testing.T) {
	t.Parallel()
	b, tr := startedBridge(t)

	tr.inject(t, "app/shell/interaction", []byte(`{"type":"press","notification_id":"n1"}`))

	var got []notification.Interaction
	b.SetInteractionHandler(func(in notification.Interaction) error {
		got = append(got, in)
		return nil
	})
	tr.inject(t, "app/shell/interaction", []byte(`not json`))
	tr.inject(t, "app/shell/interaction", []byte(`{"type":"action-press","notification_id":"n1","action_id":"reply"}`))

	require.Len(t, got, 1)
	assert.Equal(t, notification.InteractionActionPress, got[0].Type)
	assert.Equal(t, "reply", got[0].ActionID)
}

func TestMQTTBridge_Deliver(t *testing.T) {
	t.Parallel()
	b, tr := startedBridge(t)

	r := Rendered{ID: "n1", Payload: notification.Payload{Title: "Hello"}, ShownAt: time.Now().UTC()}
	require.NoError(t, b.Deliver(context.Background(), r))

	sent := tr.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "app/display", sent[0].topic)
	var got Rendered
	require.NoError(t, json.Unmarshal(sent[0].payload, &got))
	assert.Equal(t, "n1", got.ID)
	assert.Equal(t, "Hello", got.Payload.Title)
}

func TestParseReady(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]bool{"true": true, "1": true, " Ready ": true, "online": true, "false": false, "offline": false, "": false} {
		assert.Equal(t, want, parseReady(in), in)
	}
}
