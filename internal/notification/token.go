package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/observability/metrics"
)

const (
	// DefaultTokenField is the backend profile field holding the push token.
	DefaultTokenField = "push_token"
	// DefaultTokenStorageKey is the key-value store key of the persisted token.
	DefaultTokenStorageKey = "notification.push_token"
)

// TokenConfig configures a TokenManager.
type TokenConfig struct {
	// ProfileField is the legacy field name on the backend user record
	ProfileField string
	// StorageKey is where the token is persisted locally
	StorageKey string
}

func (c TokenConfig) withDefaults() TokenConfig {
	if c.ProfileField == "" {
		c.ProfileField = DefaultTokenField
	}
	if c.StorageKey == "" {
		c.StorageKey = DefaultTokenStorageKey
	}
	return c
}

// TokenManager acquires the push token, persists it and keeps the backend
// profile in sync. Both entry points (GetToken and provider refreshes) run the
// same persist-then-sync sequence. Sync runs in the background and never
// blocks the caller.
type TokenManager struct {
	provider TokenProvider
	profile  ProfileAPI
	store    KVStore
	cfg      TokenConfig
	log      logger.Logger
	metrics  *metrics.NotificationMetrics
	now      func() time.Time

	mu    sync.Mutex // guards token and its persistence
	token PushToken

	lastSynced atomic.Pointer[string]
	syncs      singleflight.Group
	writeMu    sync.Mutex // orders profile round trips across values
	fetches    singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subMu sync.Mutex
	unsub func()
}

// NewTokenManager creates a token manager.
func NewTokenManager(provider TokenProvider, profile ProfileAPI, store KVStore, cfg TokenConfig, log logger.Logger, m *metrics.NotificationMetrics) *TokenManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &TokenManager{
		provider: provider,
		profile:  profile,
		store:    store,
		cfg:      cfg.withDefaults(),
		log:      moduleLogger(log, "token"),
		metrics:  m,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to provider rotations. Calling it more than once is a no-op.
func (t *TokenManager) Start() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if t.unsub != nil {
		return
	}
	t.unsub = t.provider.OnRefresh(t.onRefresh)
}

// GetToken returns the cached token or fetches one from the provider. A newly
// fetched token is persisted and a background sync is started. Concurrent
// callers share one provider fetch.
func (t *TokenManager) GetToken(ctx context.Context) (string, error) {
	if v := t.Current(); v != "" {
		t.scheduleSync(v)
		return v, nil
	}

	v, err, _ := t.fetches.Do("get", func() (any, error) {
		if v := t.Current(); v != "" {
			return v, nil
		}
		if v, ok := t.load(ctx); ok {
			return v, nil
		}
		return t.fetch(ctx, "get_token")
	})
	if err != nil {
		return "", err
	}
	value := v.(string)
	t.scheduleSync(value)
	return value, nil
}

// RefreshToken forces a provider fetch and runs the persist-then-sync
// sequence with the result.
func (t *TokenManager) RefreshToken(ctx context.Context) (string, error) {
	v, err, _ := t.fetches.Do("refresh", func() (any, error) {
		return t.fetch(ctx, "refresh_token")
	})
	if err != nil {
		return "", err
	}
	value := v.(string)
	t.scheduleSync(value)
	return value, nil
}

// Current returns the in-memory token value, or "".
func (t *TokenManager) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token.Value
}

// Token returns a snapshot of the token record.
func (t *TokenManager) Token() PushToken {
	t.mu.Lock()
	tok := t.token
	t.mu.Unlock()
	if last := t.lastSynced.Load(); last != nil {
		v := *last
		tok.LastSyncedValue = &v
	}
	return tok
}

// Sync compares the backend profile field with value and writes it when it
// differs. Concurrent syncs of the same value share one round trip. Failures
// are logged and returned, never retried here.
func (t *TokenManager) Sync(ctx context.Context, value string) error {
	_, err, _ := t.syncs.Do(value, func() (any, error) {
		return nil, t.sync(ctx, value)
	})
	return err
}

// Wait blocks until background syncs have finished.
func (t *TokenManager) Wait() {
	t.wg.Wait()
}

// Close unsubscribes from the provider, cancels in-flight syncs and waits
// for them to return.
func (t *TokenManager) Close() {
	t.subMu.Lock()
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
	t.subMu.Unlock()

	t.cancel()
	t.wg.Wait()
}

func (t *TokenManager) onRefresh(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	t.metrics.IncrementTokenRefreshes()
	t.log.Info("push token rotated by provider", logger.Token("token", value))
	t.accept(t.ctx, value)
	t.scheduleSync(value)
}

func (t *TokenManager) fetch(ctx context.Context, op string) (string, error) {
	value, err := t.provider.Token(ctx)
	if err == nil && strings.TrimSpace(value) == "" {
		err = ErrNoToken
	}
	if err != nil {
		t.metrics.IncrementTokenAcquisitionErrors()
		terr := newTokenError(err, op)
		t.log.Warn("failed to acquire push token", logger.Error(terr))
		return "", terr
	}
	value = strings.TrimSpace(value)
	t.accept(ctx, value)
	return value, nil
}

// accept stores value in memory and in the key-value store. It must complete
// before any sync of value starts.
func (t *TokenManager) accept(ctx context.Context, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token.Value == value {
		return
	}
	t.token = PushToken{Value: value, PersistedAt: t.now()}
	t.persistLocked(ctx)
	t.log.Debug("push token persisted", logger.Token("token", value))
}

// storedToken is the persisted form of a token.
type storedToken struct {
	Value           string    `json:"value"`
	PersistedAt     time.Time `json:"persisted_at"`
	LastSyncedValue *string   `json:"last_synced_value,omitempty"`
}

func (t *TokenManager) persistLocked(ctx context.Context) {
	rec := storedToken{
		Value:           t.token.Value,
		PersistedAt:     t.token.PersistedAt,
		LastSyncedValue: t.lastSynced.Load(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.log.Warn("failed to encode push token", logger.Error(err))
		return
	}
	if err := t.store.Set(ctx, t.cfg.StorageKey, string(data)); err != nil {
		t.log.Warn("failed to persist push token, keeping it in memory only",
			logger.String("key", t.cfg.StorageKey),
			logger.Error(err))
	}
}

// load restores a persisted token into memory.
func (t *TokenManager) load(ctx context.Context) (string, bool) {
	raw, ok, err := t.store.Get(ctx, t.cfg.StorageKey)
	if err != nil {
		t.log.Warn("failed to read persisted push token", logger.Error(err))
		return "", false
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return "", false
	}

	var rec storedToken
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// plain string written by older versions
		rec = storedToken{Value: strings.TrimSpace(raw)}
	}
	if rec.Value == "" {
		return "", false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token.Value != "" {
		return t.token.Value, true
	}
	t.token = PushToken{Value: rec.Value, PersistedAt: rec.PersistedAt}
	if rec.LastSyncedValue != nil {
		v := *rec.LastSyncedValue
		t.lastSynced.Store(&v)
	}
	t.log.Debug("push token loaded from store", logger.Token("token", rec.Value))
	return rec.Value, true
}

func (t *TokenManager) synced(value string) bool {
	last := t.lastSynced.Load()
	return last != nil && *last == value
}

func (t *TokenManager) scheduleSync(value string) {
	if value == "" || t.synced(value) || t.ctx.Err() != nil {
		return
	}
	t.wg.Go(func() {
		_ = t.Sync(t.ctx, value)
	})
}

func (t *TokenManager) sync(ctx context.Context, value string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.superseded(value) {
		return nil
	}
	if t.synced(value) {
		return nil
	}

	field := t.cfg.ProfileField
	profile, err := t.profile.FetchProfile(ctx)
	if err != nil {
		return t.syncFailed(err, "fetch_profile")
	}
	if profile == nil {
		return t.syncFailed(fmt.Errorf("backend returned an empty profile"), "fetch_profile")
	}

	remote := Payload{Data: profile.Data}.DataString(field)
	if remote == value {
		t.finishSync(value)
		t.metrics.RecordTokenSync(metrics.SyncSkipped)
		t.log.Debug("backend already has current push token", logger.String("field", field))
		return nil
	}

	// A rotation may have landed while the profile was being fetched.
	if t.superseded(value) {
		return nil
	}
	if err := t.profile.UpdateProfileField(ctx, field, value); err != nil {
		return t.syncFailed(err, "update_profile")
	}
	t.metrics.RecordTokenSync(metrics.SyncWritten)
	t.log.Info("push token synced to backend",
		logger.String("field", field),
		logger.Token("token", value))
	t.finishSync(value)
	return nil
}

func (t *TokenManager) superseded(value string) bool {
	if t.Current() == value {
		return false
	}
	t.log.Debug("skipping sync of superseded token", logger.Token("token", value))
	return true
}

// finishSync marks value synced while it is still current. Otherwise the
// newer token is synced so the backend never ends on a stale value.
func (t *TokenManager) finishSync(value string) {
	if current := t.Current(); current != value {
		t.scheduleSync(current)
		return
	}
	t.markSynced(value)
}

func (t *TokenManager) syncFailed(err error, op string) error {
	serr := newSyncError(err, op, t.cfg.ProfileField)
	t.metrics.RecordTokenSync(metrics.SyncFailed)
	t.log.Warn("push token sync failed, will retry on next refresh or start",
		logger.String("operation", op),
		logger.Error(serr))
	return serr
}

// markSynced records value as the last synced value with compare-and-swap,
// then persists the bookkeeping.
func (t *TokenManager) markSynced(value string) {
	for {
		old := t.lastSynced.Load()
		if old != nil && *old == value {
			return
		}
		v := value
		if t.lastSynced.CompareAndSwap(old, &v) {
			break
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token.Value == value {
		t.persistLocked(t.ctx)
	}
}
