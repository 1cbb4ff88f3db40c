// Package telemetry sets up opt-in Sentry error reporting for the agent.
// Errors built with the errors package are forwarded once initialized.
package telemetry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/notifyd/internal/conf"
	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
	"github.com/tphakala/notifyd/internal/privacy"
)

var initialized atomic.Bool

// allowedExtras are the only event extras that survive privacy filtering.
var allowedExtras = map[string]struct{}{
	"error_type": {},
	"component":  {},
	"category":   {},
}

// InitSentry initializes Sentry when enabled in settings. It is a no-op
// otherwise. transport overrides the HTTP transport; pass nil in production.
func InitSentry(settings *conf.Settings, transport sentry.Transport) error {
	log := logger.Global().Module("telemetry")
	if !settings.Sentry.Enabled {
		log.Debug("sentry telemetry is disabled (opt-in required)")
		return nil
	}
	if settings.Sentry.DSN == "" {
		return errors.Newf("sentry is enabled but no DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		// Explicitly clear server name to prevent hostname leakage
		ServerName: "",
		Release:    fmt.Sprintf("notifyd@%s", settings.Version),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
		Transport: transport,
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized.Store(true)

	log.Info("sentry telemetry initialized", logger.String("release", settings.Version))
	return nil
}

// scrub redacts credentials, endpoints and installation ids from free text
// leaving the process.
func scrub(message string) string {
	return privacy.ScrubMessage(message)
}

// applyPrivacyFilters strips user, host and runtime details from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if _, ok := allowedExtras[k]; !ok {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	event.Message = scrub(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = scrub(event.Exception[i].Value)
	}
	return event
}

// Flush waits up to timeout for buffered events to be sent.
func Flush(timeout time.Duration) {
	if !initialized.Load() {
		return
	}
	sentry.Flush(timeout)
}

// Enabled reports whether InitSentry configured a client.
func Enabled() bool {
	return initialized.Load()
}
