// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// Supported key-value store drivers.
const (
	KVDriverSQLite = "sqlite"
	KVDriverMySQL  = "mysql"
	KVDriverMemory = "memory"
)

// Prompting policies of the desktop permission platform.
const (
	PolicyGrant       = "grant"
	PolicyDeny        = "deny"
	PolicyProvisional = "provisional"
	PolicyTerminal    = "terminal"
)

func isValidPolicy(p string) bool {
	return slices.Contains([]string{PolicyGrant, PolicyDeny, PolicyProvisional, PolicyTerminal}, p)
}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct. Some values are
// normalized in place (lowercased driver and policy names).
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateNotificationSettings(&s.Notification) },
		func(s *Settings) error { return validateBackendSettings(&s.Backend) },
		func(s *Settings) error { return validateKVStoreSettings(&s.KVStore) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validatePermissionSettings(&s.Permission) },
		func(s *Settings) error { return validateAPISettings(&s.API) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateNotificationSettings(settings *NotificationSettings) error {
	var errs []string

	if strings.TrimSpace(settings.TokenField) == "" {
		errs = append(errs, "notification.tokenfield must not be empty")
	}
	if strings.TrimSpace(settings.StorageKey) == "" {
		errs = append(errs, "notification.storagekey must not be empty")
	}
	if settings.EventBufferSize <= 0 {
		errs = append(errs, "notification.eventbuffersize must be greater than 0")
	}
	if settings.ReplayMaxAge < 0 {
		errs = append(errs, "notification.replaymaxage must not be negative")
	}
	if settings.RateLimit.PerMinute < 0 {
		errs = append(errs, "notification.ratelimit.perminute must not be negative")
	}
	if settings.RateLimit.PerMinute > 0 && settings.RateLimit.Burst <= 0 {
		errs = append(errs, "notification.ratelimit.burst must be greater than 0 when the limit is enabled")
	}

	return joinErrors("notification", errs)
}

func validateBackendSettings(settings *BackendSettings) error {
	var errs []string

	if settings.BaseURL != "" {
		u, err := url.Parse(settings.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "backend.baseurl must be an http or https URL")
		}
		if strings.TrimSpace(settings.UserID) == "" {
			errs = append(errs, "backend.userid is required when backend.baseurl is set")
		}
	}
	if settings.Timeout < 0 {
		errs = append(errs, "backend.timeout must not be negative")
	}

	return joinErrors("backend", errs)
}

func validateKVStoreSettings(settings *KVStoreSettings) error {
	var errs []string

	settings.Driver = strings.ToLower(strings.TrimSpace(settings.Driver))
	switch settings.Driver {
	case KVDriverSQLite:
		if settings.Path == "" {
			errs = append(errs, "kvstore.path is required for the sqlite driver")
		}
	case KVDriverMySQL:
		if settings.DSN == "" {
			errs = append(errs, "kvstore.dsn is required for the mysql driver")
		}
	case KVDriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("kvstore.driver %q is not supported", settings.Driver))
	}
	if settings.CacheTTL < 0 {
		errs = append(errs, "kvstore.cachettl must not be negative")
	}

	return joinErrors("kvstore", errs)
}

func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}
	var errs []string

	if settings.Broker == "" {
		errs = append(errs, "mqtt.broker is required when MQTT is enabled")
	} else if u, err := url.Parse(settings.Broker); err != nil || u.Host == "" {
		errs = append(errs, "mqtt.broker must look like tcp://host:port")
	}
	if strings.Contains(settings.TopicPrefix, "#") || strings.Contains(settings.TopicPrefix, "+") {
		errs = append(errs, "mqtt.topicprefix must not contain wildcards")
	}

	return joinErrors("mqtt", errs)
}

func validatePermissionSettings(settings *PermissionSettings) error {
	settings.Policy = strings.ToLower(strings.TrimSpace(settings.Policy))
	if settings.Policy == "" {
		settings.Policy = PolicyGrant
	}
	if !isValidPolicy(settings.Policy) {
		return fmt.Errorf("permission settings errors: policy %q is not supported", settings.Policy)
	}
	return nil
}

func validateAPISettings(settings *APISettings) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("api settings errors: invalid listen address %q", settings.Listen)
	}
	return nil
}

func validateSentrySettings(settings *SentrySettings) error {
	if settings.Enabled && settings.DSN == "" {
		return fmt.Errorf("sentry settings errors: dsn is required when sentry is enabled")
	}
	return nil
}

func joinErrors(section string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s settings errors: %s", section, strings.Join(errs, "; "))
}
