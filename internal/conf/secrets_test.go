package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSecrets(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "backend_token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("tok-from-file\n"), 0o600))
	t.Setenv("NOTIFYD_TEST_MQTT_PASSWORD", "mqtt-secret")
	t.Setenv("NOTIFYD_TEST_NTFY_TOPIC", "alerts")

	s := &Settings{}
	s.Backend.Token = "file:" + tokenFile
	s.MQTT.Password = "${NOTIFYD_TEST_MQTT_PASSWORD}"
	s.Sentry.DSN = "https://key@sentry.example.com/1"
	s.Shoutrrr.URLs = []string{"ntfy://ntfy.sh/${NOTIFYD_TEST_NTFY_TOPIC}"}

	require.NoError(t, resolveSecrets(s))
	assert.Equal(t, "tok-from-file", s.Backend.Token)
	assert.Equal(t, "mqtt-secret", s.MQTT.Password)
	assert.Equal(t, "https://key@sentry.example.com/1", s.Sentry.DSN)
	assert.Equal(t, "ntfy://ntfy.sh/alerts", s.Shoutrrr.URLs[0])
	assert.Empty(t, s.KVStore.DSN)

	s.Backend.Token = "${NOTIFYD_TEST_UNSET_TOKEN}"
	assert.Error(t, resolveSecrets(s))
}
