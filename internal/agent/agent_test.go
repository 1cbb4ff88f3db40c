package agent

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/notifyd/internal/api"
	"github.com/tphakala/notifyd/internal/backend"
	"github.com/tphakala/notifyd/internal/conf"
	"github.com/tphakala/notifyd/internal/kvstore"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
	"github.com/tphakala/notifyd/internal/platform"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func testSettings() *conf.Settings {
	s := &conf.Settings{Version: "test", BuildDate: "today"}
	s.Notification = conf.NotificationSettings{
		TokenField:               conf.DefaultTokenField,
		StorageKey:               conf.DefaultStorageKey,
		RequestPermissionOnStart: true,
		EventBufferSize:          conf.DefaultEventBufferSize,
		ColdStartReplay:          true,
		ReplayMaxAge:             conf.DefaultReplayMaxAge,
	}
	s.KVStore.Driver = "memory"
	s.Permission.Policy = platform.PolicyGrant
	s.API = conf.APISettings{Enabled: true, Listen: "127.0.0.1:0", Metrics: true}
	return s
}

func startAgent(t *testing.T, settings *conf.Settings, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger()), WithStore(kvstore.NewMemoryStore())}, opts...)
	a, err := New(settings, opts...)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a
}

func TestAgent_Headless(t *testing.T) {
	t.Parallel()
	store := kvstore.NewMemoryStore()
	a := startAgent(t, testSettings(), WithStore(store))
	ctx := context.Background()

	state := a.Manager().State()
	assert.Equal(t, notification.PermissionAuthorized, state.Permission)
	assert.True(t, strings.HasPrefix(state.Token, "local:"), "installation token without a gateway")
	assert.IsType(t, &platform.HeadlessNavigator{}, a.Navigator())

	a.Manager().WaitIdle()
	profile, err := backend.NewLocalProfile(store, "").FetchProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Token, profile.Data[conf.DefaultTokenField], "token synced to the local profile")

	require.NotEmpty(t, a.Addr())
	client, err := api.NewClient(a.Addr(), 5*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	remote, err := client.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Token, remote.Token)

	shown, err := client.Present(ctx, notification.Payload{Title: "Build finished", Category: notification.CategoryGeneral})
	require.NoError(t, err)
	assert.True(t, shown.Shown)
	require.Len(t, a.Presenter().Visible(), 1)
	assert.Equal(t, "Build finished", a.Presenter().Visible()[0].Payload.Title)
}

func TestAgent_APIDisabled(t *testing.T) {
	t.Parallel()
	settings := testSettings()
	settings.API.Enabled = false
	a := startAgent(t, settings)
	assert.Empty(t, a.Addr())
	assert.True(t, a.Manager().Ready())
}

func TestAgent_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	a, err := New(testSettings(), WithLogger(testLogger()), WithStore(kvstore.NewMemoryStore()))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	ctx := context.Background()
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, a.Stop(ctx))
	assert.False(t, a.Manager().Ready())
}

func TestAgent_InvalidBackend(t *testing.T) {
	t.Parallel()
	settings := testSettings()
	settings.Backend.BaseURL = "not a url"
	_, err := New(settings, WithLogger(testLogger()), WithStore(kvstore.NewMemoryStore()))
	assert.Error(t, err)
}

// memTransport is an in-process broker for the shell bridge.
type memTransport struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]func(string, []byte)
	published map[string][][]byte
}

func newMemTransport() *memTransport {
	return &memTransport{handlers: map[string]func(string, []byte){}, published: map[string][][]byte{}}
}

func (m *memTransport) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *memTransport) Publish(_ context.Context, topic string, _ bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[topic] = append(m.published[topic], payload)
	return nil
}

func (m *memTransport) Subscribe(topic string, handler func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *memTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *memTransport) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *memTransport) count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published[topic])
}

func TestAgent_ShellBridge(t *testing.T) {
	t.Parallel()
	settings := testSettings()
	settings.API.Enabled = false
	settings.MQTT = conf.MQTTSettings{Enabled: true, TopicPrefix: "notifyd"}
	transport := newMemTransport()

	a := startAgent(t, settings, WithMQTTTransport(transport))
	assert.True(t, transport.IsConnected())
	assert.IsType(t, &platform.MQTTBridge{}, a.Navigator())

	id := a.Manager().PresentNow(context.Background(), notification.Payload{Title: "Hi", Category: notification.CategoryGeneral})
	require.NotEmpty(t, id)
	assert.Equal(t, 1, transport.count("notifyd/"+platform.TopicDisplay), "the bridge renders displayed notifications")
}
