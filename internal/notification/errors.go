package notification

import (
	"github.com/tphakala/notifyd/internal/errors"
)

const componentName = "notification"

// Sentinel errors
var (
	ErrNotInitialized          = errors.NewStd("notification manager not initialized")
	ErrStopped                 = errors.NewStd("notification manager stopped")
	ErrDispatcherStopped       = errors.NewStd("event dispatcher stopped")
	ErrChannelNotProvisioned   = errors.NewStd("channel not provisioned for category")
	ErrInvalidPayload          = errors.NewStd("invalid notification payload")
	ErrNoToken                 = errors.NewStd("push token provider returned no token")
	ErrChannelExists           = errors.NewStd("channel already exists")
	ErrSettingsLinkUnsupported = errors.NewStd("notification settings deep link not supported")
	ErrNavigatorNotReady       = errors.NewStd("navigator not ready")
	ErrPresentationRateLimited = errors.NewStd("presentation rate limit exceeded")
	ErrPermissionDenied        = errors.NewStd("notification permission denied")
)

// newPermissionError builds a PermissionError. It is surfaced through State.
func newPermissionError(err error, op string) *errors.EnhancedError {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryPermission).
		Context("operation", op).
		Build()
}

// newTokenError builds a TokenAcquisitionError. It is surfaced through State.
func newTokenError(err error, op string) *errors.EnhancedError {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryTokenAcquisition).
		Context("operation", op).
		Build()
}

// newSyncError builds a SyncError. Logged only.
func newSyncError(err error, op, field string) *errors.EnhancedError {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryTokenSync).
		Priority(errors.PriorityLow).
		Context("operation", op).
		Context("field", field).
		Build()
}

// newPresentationError builds a PresentationError. Logged only.
func newPresentationError(err error, op string, category Category) *errors.EnhancedError {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryPresentation).
		Context("operation", op).
		Context("category", string(category)).
		Build()
}

// newRoutingError builds a RoutingError. Logged only.
func newRoutingError(err error, kind EventKind, dest string) *errors.EnhancedError {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryRouting).
		Priority(errors.PriorityLow).
		Context("event_kind", string(kind)).
		Context("destination", dest).
		Build()
}
