package conf

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"true", "true", false},
		{"false", "false", false},
		{"1", "1", false},
		{"0", "0", false},
		{"TRUE", "TRUE", false},
		{"true with spaces", " true ", false},
		{"false with newline", "false\n", false},
		{"yes", "yes", true},
		{"empty", "", true},
		{"decimal", "0.5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateEnvBool(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid boolean value")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		validate func(string) error
		value    string
		wantErr  bool
	}{
		{"duration ok", validateEnvDuration, "90s", false},
		{"duration negative", validateEnvDuration, "-1m", true},
		{"duration garbage", validateEnvDuration, "soon", true},
		{"positive int", validateEnvPositiveInt, "32", false},
		{"zero int", validateEnvPositiveInt, "0", true},
		{"url ok", validateEnvURL, "https://api.example.com/v1", false},
		{"url without scheme", validateEnvURL, "api.example.com", true},
		{"mqtt url", validateEnvURL, "tcp://broker:1883", false},
		{"driver", validateEnvDriver, "MySQL", false},
		{"driver unknown", validateEnvDriver, "etcd", true},
		{"policy", validateEnvPolicy, "provisional", false},
		{"policy unknown", validateEnvPolicy, "ask", true},
		{"listen", validateEnvListen, ":8089", false},
		{"listen missing port", validateEnvListen, "localhost", true},
		{"blank", validateEnvNonEmpty, "  ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.validate(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBindEnvVarsReportsInvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("NOTIFYD_EVENT_BUFFER", "-4")
	t.Setenv("NOTIFYD_BACKEND_TOKEN", "secret-value")

	err := bindEnvVars()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOTIFYD_EVENT_BUFFER")
	assert.NotContains(t, err.Error(), "secret-value")

	// Invalid values are still bound, validation only warns
	assert.Equal(t, "-4", viper.GetString("notification.eventbuffersize"))
}

func TestEnvBindingsReferenceKnownKeys(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaultConfig()

	known := make(map[string]bool)
	for _, k := range viper.AllKeys() {
		known[k] = true
	}
	for _, b := range getEnvBindings() {
		assert.True(t, known[b.ConfigKey], "binding %s targets unknown key %s", b.EnvVar, b.ConfigKey)
	}
}
