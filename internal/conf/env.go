// env.go - environment variable configuration and validation for notifyd
package conf

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "NOTIFYD_DEBUG", validateEnvBool},

		// Lifecycle
		{"notification.tokenfield", "NOTIFYD_TOKEN_FIELD", validateEnvNonEmpty},
		{"notification.strictchannels", "NOTIFYD_STRICT_CHANNELS", validateEnvBool},
		{"notification.requestpermissiononstart", "NOTIFYD_REQUEST_PERMISSION", validateEnvBool},
		{"notification.eventbuffersize", "NOTIFYD_EVENT_BUFFER", validateEnvPositiveInt},
		{"notification.coldstartreplay", "NOTIFYD_COLD_START_REPLAY", validateEnvBool},
		{"notification.replaymaxage", "NOTIFYD_REPLAY_MAX_AGE", validateEnvDuration},

		// Backend
		{"backend.baseurl", "NOTIFYD_BACKEND_URL", validateEnvURL},
		{"backend.userid", "NOTIFYD_BACKEND_USER", validateEnvNonEmpty},
		{"backend.token", "NOTIFYD_BACKEND_TOKEN", nil},
		{"backend.timeout", "NOTIFYD_BACKEND_TIMEOUT", validateEnvDuration},

		// Storage
		{"kvstore.driver", "NOTIFYD_KVSTORE_DRIVER", validateEnvDriver},
		{"kvstore.path", "NOTIFYD_KVSTORE_PATH", validateEnvNonEmpty},
		{"kvstore.dsn", "NOTIFYD_KVSTORE_DSN", nil},

		// Shell bridge and sinks
		{"mqtt.enabled", "NOTIFYD_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "NOTIFYD_MQTT_BROKER", validateEnvURL},
		{"mqtt.username", "NOTIFYD_MQTT_USERNAME", nil},
		{"mqtt.password", "NOTIFYD_MQTT_PASSWORD", nil},
		{"pushgateway.url", "NOTIFYD_PUSH_GATEWAY_URL", validateEnvURL},
		{"permission.policy", "NOTIFYD_PERMISSION_POLICY", validateEnvPolicy},

		// Surfaces
		{"api.listen", "NOTIFYD_LISTEN", validateEnvListen},
		{"sentry.enabled", "NOTIFYD_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "NOTIFYD_SENTRY_DSN", validateEnvURL},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value: %s", value)
	}
	return nil
}

func validateEnvNonEmpty(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("value must not be blank")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer value: %s", value)
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than 0, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration: %s", value)
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative: %s", value)
	}
	return nil
}

// validateEnvURL requires an absolute URL with a scheme and host. Secrets in
// the URL are never echoed back.
func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL with scheme and host")
	}
	return nil
}

func validateEnvDriver(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case KVDriverSQLite, KVDriverMySQL, KVDriverMemory:
		return nil
	}
	return fmt.Errorf("unknown driver %q, expected sqlite, mysql or memory", value)
}

func validateEnvPolicy(value string) error {
	if !isValidPolicy(strings.ToLower(strings.TrimSpace(value))) {
		return fmt.Errorf("unknown permission policy %q", value)
	}
	return nil
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", value, err)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix("NOTIFYD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return bindEnvVars()
}
