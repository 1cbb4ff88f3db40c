package notification

import (
	"github.com/tphakala/notifyd/internal/logger"
)

// moduleLogger returns a child of log scoped to sub, falling back to the
// global logger when log is nil.
func moduleLogger(log logger.Logger, sub string) logger.Logger {
	if log == nil {
		log = logger.Global().Module(componentName)
	}
	if sub == "" {
		return log
	}
	return log.Module(sub)
}
