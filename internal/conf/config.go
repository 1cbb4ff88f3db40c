// config.go: settings struct for notifyd and functions to load and save it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/notifyd/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// NotificationSettings controls the lifecycle manager.
type NotificationSettings struct {
	TokenField               string        // backend profile field holding the push token
	StorageKey               string        // key of the persisted token record
	StrictChannels           bool          // fail loudly when a channel was not provisioned
	RequestPermissionOnStart bool          // prompt during init when permission is undetermined
	EventBufferSize          int           // capacity of the dispatcher queue
	ColdStartReplay          bool          // replay the latest event once navigation is ready
	ReplayMaxAge             time.Duration // deferred events older than this are discarded
	RateLimit                RateLimitSettings
}

// RateLimitSettings bounds immediate presentations.
type RateLimitSettings struct {
	PerMinute int // 0 disables the limiter
	Burst     int
}

// BackendSettings points at the profile API.
type BackendSettings struct {
	BaseURL string        // e.g. https://api.example.com
	UserID  string        // profile owned by this installation
	Token   string        // bearer token
	Timeout time.Duration // per request timeout
}

// KVStoreSettings selects the persistent key-value store.
type KVStoreSettings struct {
	Driver   string        // sqlite, mysql or memory
	Path     string        // sqlite database file
	DSN      string        // mysql data source name
	CacheTTL time.Duration // read cache in front of the database, 0 disables
}

// MQTTSettings contains settings for the shell bridge.
type MQTTSettings struct {
	Enabled     bool   // true to connect to the broker
	Broker      string // MQTT (tcp://host:port)
	ClientID    string // client identifier, generated when empty
	TopicPrefix string // prefix for every bridge topic
	Username    string // MQTT username
	Password    string // MQTT password
}

// ShoutrrrSettings configures where displayed notifications are rendered.
type ShoutrrrSettings struct {
	Enabled bool
	URLs    []string // shoutrrr service URLs
}

// PushGatewaySettings configures the push token provider.
type PushGatewaySettings struct {
	URL            string        // registration endpoint
	RotateInterval time.Duration // 0 disables rotation
}

// PermissionSettings configures the desktop permission platform.
type PermissionSettings struct {
	Policy                  string // grant, deny, provisional or terminal
	OpenCommand             string // opener used for settings links, e.g. xdg-open
	NotificationSettingsURL string // empty means the platform has no deep link
	AppSettingsURL          string
}

// APISettings configures the local HTTP surface.
type APISettings struct {
	Enabled bool
	Listen  string // IP address and port to listen on
	Metrics bool   // expose /metrics
}

// SentrySettings configures error reporting.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings is the root of the notifyd configuration.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"`
	BuildDate string `yaml:"-"`

	Main struct {
		Name string // name of this installation
	}

	Logging logger.LoggingConfig

	Notification NotificationSettings
	Backend      BackendSettings
	KVStore      KVStoreSettings
	MQTT         MQTTSettings
	Shoutrrr     ShoutrrrSettings
	PushGateway  PushGatewaySettings
	Permission   PermissionSettings
	API          APISettings
	Sentry       SentrySettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	// Environment problems are reported but never prevent startup
	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveSettings saves the current settings to the configuration file.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	if settingsInstance == nil {
		return fmt.Errorf("settings not loaded")
	}
	settingsCopy := *settingsInstance
	settingsCopy.Shoutrrr.URLs = append([]string(nil), settingsInstance.Shoutrrr.URLs...)

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	GetLogger().Info("settings saved", logger.String("path", configPath))
	return nil
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() == nil {
			if _, err := Load(); err != nil {
				GetLogger().Error("error loading settings", logger.Error(err))
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig writes settings to configPath, replacing the file atomically.
// Comments and ordering of the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// Cross-device link, fall back to copy and delete
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
