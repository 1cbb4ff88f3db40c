// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/notifyd/internal/logger"
)

// Default values shared with the command line flags.
const (
	DefaultTokenField      = "push_token"
	DefaultStorageKey      = "notification.push_token"
	DefaultEventBufferSize = 64
	DefaultReplayMaxAge    = 2 * time.Minute
	DefaultAPIListen       = "127.0.0.1:8089"
	DefaultBackendTimeout  = 15 * time.Second
	DefaultKVStorePath     = "notifyd.db"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "notifyd")

	viper.SetDefault("logging.default_level", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	viper.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	viper.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	viper.SetDefault("notification.tokenfield", DefaultTokenField)
	viper.SetDefault("notification.storagekey", DefaultStorageKey)
	viper.SetDefault("notification.strictchannels", false)
	viper.SetDefault("notification.requestpermissiononstart", false)
	viper.SetDefault("notification.eventbuffersize", DefaultEventBufferSize)
	viper.SetDefault("notification.coldstartreplay", true)
	viper.SetDefault("notification.replaymaxage", DefaultReplayMaxAge)
	viper.SetDefault("notification.ratelimit.perminute", 0)
	viper.SetDefault("notification.ratelimit.burst", 5)

	viper.SetDefault("backend.baseurl", "")
	viper.SetDefault("backend.userid", "")
	viper.SetDefault("backend.token", "")
	viper.SetDefault("backend.timeout", DefaultBackendTimeout)

	viper.SetDefault("kvstore.driver", "sqlite")
	viper.SetDefault("kvstore.path", DefaultKVStorePath)
	viper.SetDefault("kvstore.dsn", "")
	viper.SetDefault("kvstore.cachettl", time.Minute)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientid", "")
	viper.SetDefault("mqtt.topicprefix", "notifyd")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")

	viper.SetDefault("shoutrrr.enabled", false)
	viper.SetDefault("shoutrrr.urls", []string{})

	viper.SetDefault("pushgateway.url", "")
	viper.SetDefault("pushgateway.rotateinterval", time.Duration(0))

	viper.SetDefault("permission.policy", "grant")
	viper.SetDefault("permission.opencommand", "xdg-open")
	viper.SetDefault("permission.notificationsettingsurl", "")
	viper.SetDefault("permission.appsettingsurl", "")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", DefaultAPIListen)
	viper.SetDefault("api.metrics", true)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
