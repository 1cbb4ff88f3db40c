package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSettingsDefaultsAreValid(t *testing.T) {
	require.NoError(t, ValidateSettings(defaultSettings(t)))
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"empty token field", func(s *Settings) { s.Notification.TokenField = " " }, "notification.tokenfield"},
		{"zero buffer", func(s *Settings) { s.Notification.EventBufferSize = 0 }, "eventbuffersize"},
		{"negative replay age", func(s *Settings) { s.Notification.ReplayMaxAge = -time.Second }, "replaymaxage"},
		{"limit without burst", func(s *Settings) {
			s.Notification.RateLimit = RateLimitSettings{PerMinute: 10, Burst: 0}
		}, "ratelimit.burst"},
		{"backend url scheme", func(s *Settings) {
			s.Backend.BaseURL = "ftp://example.com"
			s.Backend.UserID = "u"
		}, "backend.baseurl"},
		{"backend without user", func(s *Settings) { s.Backend.BaseURL = "https://example.com" }, "backend.userid"},
		{"unknown driver", func(s *Settings) { s.KVStore.Driver = "redis" }, "kvstore.driver"},
		{"mysql without dsn", func(s *Settings) { s.KVStore.Driver = "mysql" }, "kvstore.dsn"},
		{"mqtt wildcard prefix", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.TopicPrefix = "notifyd/#"
		}, "wildcards"},
		{"unknown policy", func(s *Settings) { s.Permission.Policy = "maybe" }, "policy"},
		{"bad listen", func(s *Settings) { s.API.Listen = "localhost" }, "listen"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := defaultSettings(t)
			tt.mutate(s)
			err := ValidateSettings(s)
			require.Error(t, err)
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSettingsNormalizes(t *testing.T) {
	s := defaultSettings(t)
	s.KVStore.Driver = " MEMORY "
	s.Permission.Policy = ""

	require.NoError(t, ValidateSettings(s))
	assert.Equal(t, KVDriverMemory, s.KVStore.Driver)
	assert.Equal(t, PolicyGrant, s.Permission.Policy)
}

func TestValidateSettingsCollectsAllErrors(t *testing.T) {
	s := defaultSettings(t)
	s.KVStore.Driver = "redis"
	s.Sentry.Enabled = true

	var ve ValidationError
	require.ErrorAs(t, ValidateSettings(s), &ve)
	assert.Len(t, ve.Errors, 2)
}
