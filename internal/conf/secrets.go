package conf

import "github.com/tphakala/notifyd/internal/secrets"

// resolveSecrets replaces secret references in credential settings with
// their values. See the secrets package for the accepted forms.
func resolveSecrets(settings *Settings) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"backend.token", &settings.Backend.Token},
		{"kvstore.dsn", &settings.KVStore.DSN},
		{"mqtt.password", &settings.MQTT.Password},
		{"sentry.dsn", &settings.Sentry.DSN},
	}
	for _, f := range fields {
		if *f.value == "" {
			continue
		}
		resolved, err := secrets.Resolve(f.name, *f.value)
		if err != nil {
			return err
		}
		*f.value = resolved
	}

	for i, u := range settings.Shoutrrr.URLs {
		resolved, err := secrets.Resolve("shoutrrr.urls", u)
		if err != nil {
			return err
		}
		settings.Shoutrrr.URLs[i] = resolved
	}
	return nil
}
