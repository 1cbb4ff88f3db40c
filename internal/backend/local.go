package backend

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/notification"
)

// LocalProfileKey is the store key of the offline profile record.
const LocalProfileKey = "backend.profile"

// LocalProfile keeps the profile record in the key-value store. It stands in
// for the backend when no profile API is configured.
type LocalProfile struct {
	store  notification.KVStore
	userID string

	mu sync.Mutex
}

var _ notification.ProfileAPI = (*LocalProfile)(nil)

// NewLocalProfile creates an offline profile for userID.
func NewLocalProfile(store notification.KVStore, userID string) *LocalProfile {
	if userID == "" {
		userID = "local"
	}
	return &LocalProfile{store: store, userID: userID}
}

// FetchProfile returns the stored record, or an empty one.
func (p *LocalProfile) FetchProfile(ctx context.Context) (*notification.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(ctx)
}

func (p *LocalProfile) load(ctx context.Context) (*notification.Profile, error) {
	profile := &notification.Profile{ID: p.userID, Data: map[string]any{}}
	raw, ok, err := p.store.Get(ctx, LocalProfileKey)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("operation", "fetch_local_profile").
			Build()
	}
	if !ok {
		return profile, nil
	}
	if err := json.Unmarshal([]byte(raw), profile); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("operation", "decode_local_profile").
			Build()
	}
	if profile.Data == nil {
		profile.Data = map[string]any{}
	}
	return profile, nil
}

// UpdateProfileField sets one field and writes the record back.
func (p *LocalProfile) UpdateProfileField(ctx context.Context, field, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	profile, err := p.load(ctx)
	if err != nil {
		return err
	}
	profile.Data[field] = value

	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	if err := p.store.Set(ctx, LocalProfileKey, string(data)); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("operation", "update_local_profile").
			Build()
	}
	return nil
}
