package notification

import (
	"context"
	"io"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/notifyd/internal/logger"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

// handlerSet is a tiny subscription registry shared by the fakes.
type handlerSet[T any] struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(T)
	added    atomic.Int32
}

func (h *handlerSet[T]) add(fn func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers == nil {
		h.handlers = make(map[int]func(T))
	}
	id := h.next
	h.next++
	h.handlers[id] = fn
	h.added.Add(1)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers, id)
	}
}

func (h *handlerSet[T]) emit(v T) {
	h.mu.Lock()
	fns := slices.Collect(maps.Values(h.handlers))
	h.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (h *handlerSet[T]) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers)
}

type fakePermission struct {
	mu            sync.Mutex
	status        PermissionState
	statusErr     error
	requestResult PermissionState
	requestErr    error
	requests      int
	notifErr      error
	notifCalls    int
	appCalls      int
}

func newFakePermission(state PermissionState) *fakePermission {
	return &fakePermission{status: state, requestResult: PermissionAuthorized}
}

func (f *fakePermission) Status(context.Context) (PermissionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakePermission) Request(context.Context) (PermissionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.requestErr != nil {
		return "", f.requestErr
	}
	f.status = f.requestResult
	return f.requestResult, nil
}

func (f *fakePermission) OpenNotificationSettings(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifCalls++
	return f.notifErr
}

func (f *fakePermission) OpenAppSettings(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appCalls++
	return nil
}

type fakeTokens struct {
	mu       sync.Mutex
	token    string
	err      error
	calls    int
	refresh  handlerSet[string]
	fetching chan struct{} // closed by tests to release Token calls
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.calls++
	gate := f.fetching
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.err
}

func (f *fakeTokens) OnRefresh(fn func(string)) func() {
	return f.refresh.add(fn)
}

func (f *fakeTokens) rotate(v string) {
	f.mu.Lock()
	f.token = v
	f.mu.Unlock()
	f.refresh.emit(v)
}

func (f *fakeTokens) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type displayCall struct {
	ID        string
	Payload   Payload
	ChannelID string
}

type scheduleCall struct {
	TriggerID string
	Payload   Payload
	ChannelID string
	FireAt    time.Time
}

type fakePresenter struct {
	mu           sync.Mutex
	channels     bool
	existing     map[string]bool
	createCalls  []string
	createErr    error
	displays     []displayCall
	displayErr   error
	displayPanic bool
	schedules    []scheduleCall
	scheduleErr  error
	cancels      int
	interactions handlerSet[Interaction]
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{channels: true, existing: make(map[string]bool)}
}

func (f *fakePresenter) SupportsChannels() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels
}

func (f *fakePresenter) CreateChannel(_ context.Context, ch Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, ch.ID)
	if f.createErr != nil {
		return f.createErr
	}
	if f.existing[ch.ID] {
		return ErrChannelExists
	}
	f.existing[ch.ID] = true
	return nil
}

func (f *fakePresenter) Display(_ context.Context, id string, p Payload, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.displayPanic {
		panic("display exploded")
	}
	if f.displayErr != nil {
		return f.displayErr
	}
	f.displays = append(f.displays, displayCall{ID: id, Payload: p, ChannelID: channelID})
	return nil
}

func (f *fakePresenter) ScheduleTimestamp(_ context.Context, triggerID string, p Payload, channelID string, fireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	f.schedules = append(f.schedules, scheduleCall{TriggerID: triggerID, Payload: p, ChannelID: channelID, FireAt: fireAt})
	return nil
}

func (f *fakePresenter) CancelAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakePresenter) OnInteraction(fn func(Interaction)) func() {
	return f.interactions.add(fn)
}

func (f *fakePresenter) displayCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.displays)
}

func (f *fakePresenter) scheduleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.schedules)
}

func (f *fakePresenter) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createCalls)
}

type fakeSource struct {
	messages handlerSet[RemoteMessage]
	opened   handlerSet[RemoteMessage]
	initial  *RemoteMessage
	initErr  error
}

func (f *fakeSource) OnMessage(fn func(RemoteMessage)) func() { return f.messages.add(fn) }

func (f *fakeSource) OnNotificationOpened(fn func(RemoteMessage)) func() { return f.opened.add(fn) }

func (f *fakeSource) InitialNotification(context.Context) (*RemoteMessage, error) {
	return f.initial, f.initErr
}

type fakeNavigator struct {
	mu          sync.Mutex
	ready       bool
	err         error
	navigations []Destination
	readiness   handlerSet[struct{}]
}

func (f *fakeNavigator) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeNavigator) Navigate(_ context.Context, dest Destination) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.navigations = append(f.navigations, dest)
	return nil
}

func (f *fakeNavigator) OnReady(fn func()) func() {
	return f.readiness.add(func(struct{}) { fn() })
}

func (f *fakeNavigator) setReady() {
	f.mu.Lock()
	f.ready = true
	f.mu.Unlock()
	f.readiness.emit(struct{}{})
}

func (f *fakeNavigator) routed() []Destination {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.navigations)
}

type fakeProfile struct {
	mu        sync.Mutex
	data      map[string]any
	fetchErr  error
	updateErr error
	fetches   int
	updates   []string
	// when set, the first fetch signals fetchStarted and waits for fetchGate
	fetchGate    chan struct{}
	fetchStarted chan struct{}
}

func newFakeProfile(data map[string]any) *fakeProfile {
	if data == nil {
		data = make(map[string]any)
	}
	return &fakeProfile{data: data}
}

func (f *fakeProfile) FetchProfile(ctx context.Context) (*Profile, error) {
	f.mu.Lock()
	gate, started := f.fetchGate, f.fetchStarted
	f.fetchGate, f.fetchStarted = nil, nil
	f.mu.Unlock()
	if gate != nil {
		close(started)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return &Profile{ID: "user-1", Data: maps.Clone(f.data)}, nil
}

func (f *fakeProfile) UpdateProfileField(_ context.Context, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, value)
	f.data[field] = value
	return nil
}

func (f *fakeProfile) counts() (fetches, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, len(f.updates)
}

type memStore struct {
	mu     sync.Mutex
	m      map[string]string
	setErr error
	sets   int
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.m[key] = value
	return nil
}

// staticPermission is a PermissionSource with a fixed state.
type staticPermission PermissionState

func (s staticPermission) Current() PermissionState { return PermissionState(s) }
