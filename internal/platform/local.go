package platform

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/notification"
)

// InstallationTokens issues the installation id as the push token. It is
// used when no push gateway is configured; the token never rotates.
type InstallationTokens struct {
	store notification.KVStore
	log   logger.Logger

	mu    sync.Mutex
	token string
}

var _ notification.TokenProvider = (*InstallationTokens)(nil)

// NewInstallationTokens creates the provider.
func NewInstallationTokens(store notification.KVStore, log logger.Logger) *InstallationTokens {
	return &InstallationTokens{store: store, log: moduleLogger(log, "tokens")}
}

// Token returns "local:<installation id>", creating the id on first use.
func (p *InstallationTokens) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" {
		return p.token, nil
	}

	id, ok, err := p.store.Get(ctx, InstallationIDKey)
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryTokenAcquisition).
			Build()
	}
	if !ok || id == "" {
		id = uuid.NewString()
		if err := p.store.Set(ctx, InstallationIDKey, id); err != nil {
			return "", errors.New(err).
				Component(componentName).
				Category(errors.CategoryTokenAcquisition).
				Build()
		}
		p.log.Info("installation registered", logger.String("installation_id", id))
	}
	p.token = "local:" + id
	return p.token, nil
}

// OnRefresh never fires.
func (p *InstallationTokens) OnRefresh(func(string)) func() { return func() {} }

// HeadlessNavigator is the navigator of an installation without a shell.
// It is always ready and records where the user would have been taken.
type HeadlessNavigator struct {
	log logger.Logger

	mu   sync.Mutex
	last *notification.Destination
}

var _ notification.Navigator = (*HeadlessNavigator)(nil)

// NewHeadlessNavigator creates the navigator.
func NewHeadlessNavigator(log logger.Logger) *HeadlessNavigator {
	return &HeadlessNavigator{log: moduleLogger(log, "navigator")}
}

func (n *HeadlessNavigator) IsReady() bool { return true }

// Navigate logs and records dest.
func (n *HeadlessNavigator) Navigate(_ context.Context, dest notification.Destination) error {
	n.mu.Lock()
	n.last = &dest
	n.mu.Unlock()
	n.log.Info("navigate", logger.String("destination", dest.Name), logger.Any("params", dest.Params))
	return nil
}

// Last returns the most recent destination, or nil.
func (n *HeadlessNavigator) Last() *notification.Destination {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}
