// Package conf provides configuration management for notifyd.
package conf

import (
	"github.com/spf13/viper"

	"github.com/tphakala/notifyd/internal/logger"
)

// GetLogger returns the config package logger scoped to the config module.
// The logger is fetched from the global logger each time so it follows the
// central logger once it is configured.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}

func viperConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
