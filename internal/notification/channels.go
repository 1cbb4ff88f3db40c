package notification

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
)

const channelIDPrefix = "notifyd."

// channelProfile is the delivery profile declared for a category.
type channelProfile struct {
	importance Importance
	sound      string
	vibration  []time.Duration
}

var channelProfiles = map[Category]channelProfile{
	CategoryMessage: {
		importance: ImportanceHigh,
		sound:      "message",
		vibration:  []time.Duration{0, 250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond},
	},
	CategoryEmail: {
		importance: ImportanceDefault,
		sound:      "default",
		vibration:  []time.Duration{0, 200 * time.Millisecond},
	},
	CategoryAppointment: {
		importance: ImportanceHigh,
		sound:      "reminder",
		vibration:  []time.Duration{0, 500 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond},
	},
	CategoryPayment: {
		importance: ImportanceMax,
		sound:      "payment",
		vibration:  []time.Duration{0, 400 * time.Millisecond, 100 * time.Millisecond, 400 * time.Millisecond},
	},
	CategoryGeneral: {
		importance: ImportanceDefault,
		sound:      "default",
	},
}

// DefaultChannel returns the channel declared for category.
func DefaultChannel(category Category) Channel {
	category = ParseCategory(string(category))
	profile := channelProfiles[category]
	return Channel{
		ID:         channelIDPrefix + string(category),
		Category:   category,
		Importance: profile.importance,
		Sound:      profile.sound,
		Vibration:  slices.Clone(profile.vibration),
		Label:      cases.Title(language.English).String(string(category)) + " notifications",
	}
}

// ChannelRegistry provisions one channel per category and resolves the
// channel for a payload.
type ChannelRegistry struct {
	presenter Presenter
	strict    bool
	log       logger.Logger

	ensureMu    sync.Mutex // serializes provisioning
	mu          sync.RWMutex
	provisioned map[Category]Channel
}

// NewChannelRegistry creates a registry. In strict mode ChannelFor fails for
// unprovisioned categories instead of falling back to the general channel.
func NewChannelRegistry(presenter Presenter, strict bool, log logger.Logger) *ChannelRegistry {
	return &ChannelRegistry{
		presenter:   presenter,
		strict:      strict,
		log:         moduleLogger(log, "channels"),
		provisioned: make(map[Category]Channel),
	}
}

// EnsureChannels creates or skips the channel of every category. It is safe
// to call on every process start. Failed categories stay unprovisioned and
// are reported in the joined error.
func (r *ChannelRegistry) EnsureChannels(ctx context.Context, categories ...Category) error {
	if len(categories) == 0 {
		categories = AllCategories()
	}

	r.ensureMu.Lock()
	defer r.ensureMu.Unlock()

	var errs []error
	for _, category := range categories {
		category = ParseCategory(string(category))

		r.mu.RLock()
		_, done := r.provisioned[category]
		r.mu.RUnlock()
		if done {
			continue
		}

		ch := DefaultChannel(category)
		if r.presenter.SupportsChannels() {
			err := r.presenter.CreateChannel(ctx, ch)
			if err != nil && !errors.Is(err, ErrChannelExists) {
				errs = append(errs, fmt.Errorf("channel %s: %w", ch.ID, err))
				r.log.Warn("failed to create channel",
					logger.String("channel", ch.ID),
					logger.Error(err))
				continue
			}
			r.log.Debug("channel provisioned", logger.String("channel", ch.ID))
		}

		r.mu.Lock()
		r.provisioned[category] = ch
		r.mu.Unlock()
	}

	if len(errs) > 0 {
		return errors.New(errors.Join(errs...)).
			Component(componentName).
			Category(errors.CategoryPresentation).
			Context("operation", "ensure_channels").
			Build()
	}
	return nil
}

// ChannelFor returns the channel of category. An unprovisioned category is a
// programming error: strict registries return ErrChannelNotProvisioned, others
// log and fall back to the general channel.
func (r *ChannelRegistry) ChannelFor(category Category) (Channel, error) {
	category = ParseCategory(string(category))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if ch, ok := r.provisioned[category]; ok {
		return ch, nil
	}
	if r.strict {
		return Channel{}, fmt.Errorf("%w: %s", ErrChannelNotProvisioned, category)
	}
	if ch, ok := r.provisioned[CategoryGeneral]; ok {
		r.log.Warn("channel not provisioned, using general channel",
			logger.String("category", string(category)))
		return ch, nil
	}
	return Channel{}, fmt.Errorf("%w: %s", ErrChannelNotProvisioned, category)
}

// Channels returns the provisioned channels in category order.
func (r *ChannelRegistry) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, 0, len(r.provisioned))
	for _, c := range AllCategories() {
		if ch, ok := r.provisioned[c]; ok {
			out = append(out, ch)
		}
	}
	return out
}
