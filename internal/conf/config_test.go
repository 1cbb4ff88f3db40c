package conf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateConfig points the config search paths at an empty home directory
// and resets viper's global state.
func isolateConfig(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	viper.Reset()
	t.Cleanup(viper.Reset)
	return home
}

func defaultSettings(t *testing.T) *Settings {
	t.Helper()
	viper.Reset()
	defer viper.Reset()
	setDefaultConfig()

	s := &Settings{}
	require.NoError(t, viper.Unmarshal(s))
	return s
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	home := isolateConfig(t)

	settings, err := Load()
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(home, ".config", "notifyd", "config.yaml"))
	assert.Equal(t, DefaultTokenField, settings.Notification.TokenField)
	assert.Equal(t, DefaultStorageKey, settings.Notification.StorageKey)
	assert.Equal(t, DefaultEventBufferSize, settings.Notification.EventBufferSize)
	assert.True(t, settings.Notification.ColdStartReplay)
	assert.Equal(t, DefaultReplayMaxAge, settings.Notification.ReplayMaxAge)
	assert.Equal(t, KVDriverSQLite, settings.KVStore.Driver)
	assert.Equal(t, time.Minute, settings.KVStore.CacheTTL)
	assert.Equal(t, PolicyGrant, settings.Permission.Policy)
	assert.Equal(t, DefaultAPIListen, settings.API.Listen)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
	assert.Same(t, settings, GetSettings())
}

func TestLoadReadsExistingConfig(t *testing.T) {
	home := isolateConfig(t)
	dir := filepath.Join(home, ".config", "notifyd")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
notification:
  tokenfield: fcm_token
  replaymaxage: 30s
kvstore:
  driver: Memory
permission:
  policy: TERMINAL
`), 0o600))

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fcm_token", settings.Notification.TokenField)
	assert.Equal(t, 30*time.Second, settings.Notification.ReplayMaxAge)
	assert.Equal(t, DefaultEventBufferSize, settings.Notification.EventBufferSize, "defaults fill missing keys")
	assert.Equal(t, KVDriverMemory, settings.KVStore.Driver)
	assert.Equal(t, PolicyTerminal, settings.Permission.Policy)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	isolateConfig(t)
	t.Setenv("NOTIFYD_TOKEN_FIELD", "apns_token")
	t.Setenv("NOTIFYD_STRICT_CHANNELS", "true")
	t.Setenv("NOTIFYD_BACKEND_URL", "https://api.example.com")
	t.Setenv("NOTIFYD_BACKEND_USER", "user-1")

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "apns_token", settings.Notification.TokenField)
	assert.True(t, settings.Notification.StrictChannels)
	assert.Equal(t, "https://api.example.com", settings.Backend.BaseURL)
	assert.Equal(t, "user-1", settings.Backend.UserID)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	home := isolateConfig(t)
	dir := filepath.Join(home, ".config", "notifyd")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
kvstore:
  driver: postgres
`), 0o600))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kvstore.driver")
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	settings := defaultSettings(t)
	settings.Notification.TokenField = "device_token"
	settings.Notification.ReplayMaxAge = 45 * time.Second
	settings.Shoutrrr.URLs = []string{"ntfy://ntfy.sh/notifyd"}
	settings.Version = "should-not-persist"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old: true\n"), 0o600))
	require.NoError(t, SaveYAMLConfig(path, settings))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "old:")
	assert.NotContains(t, string(data), "should-not-persist")

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	var loaded Settings
	require.NoError(t, v.Unmarshal(&loaded))

	assert.Equal(t, "device_token", loaded.Notification.TokenField)
	assert.Equal(t, 45*time.Second, loaded.Notification.ReplayMaxAge)
	assert.Equal(t, []string{"ntfy://ntfy.sh/notifyd"}, loaded.Shoutrrr.URLs)
	assert.Empty(t, loaded.Version)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "config-*.yaml"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary file is cleaned up")
}

func TestMoveFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "a.yaml")
	dst := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(src, []byte("x: 1\n"), 0o600))

	require.NoError(t, moveFile(src, dst))
	assert.NoFileExists(t, src)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "x: 1\n", string(data))
}

func TestEmbeddedDefaultConfigMatchesDefaults(t *testing.T) {
	data, err := getDefaultConfig()
	require.NoError(t, err)

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(data)))

	var fromFile Settings
	require.NoError(t, v.Unmarshal(&fromFile))
	assert.Equal(t, defaultSettings(t).Notification, fromFile.Notification)
	assert.Equal(t, defaultSettings(t).KVStore, fromFile.KVStore)
	assert.NoError(t, ValidateSettings(&fromFile))
}
