package notification

import (
	"context"
	"time"
)

// PermissionPlatform is the OS permission capability.
type PermissionPlatform interface {
	// Status returns the current raw permission without prompting.
	Status(ctx context.Context) (PermissionState, error)
	// Request shows the permission dialog and returns the resulting state.
	Request(ctx context.Context) (PermissionState, error)
	// OpenNotificationSettings deep links into the app's notification
	// settings. Returns ErrSettingsLinkUnsupported when no such link exists.
	OpenNotificationSettings(ctx context.Context) error
	// OpenAppSettings opens the generic app settings entry point.
	OpenAppSettings(ctx context.Context) error
}

// TokenProvider is the push-token capability.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	// OnRefresh registers fn for provider-initiated rotations and returns an
	// unsubscribe function.
	OnRefresh(fn func(token string)) (unsubscribe func())
}

// InteractionType is the kind of a local presentation callback.
type InteractionType string

const (
	InteractionPress       InteractionType = "press"
	InteractionActionPress InteractionType = "action-press"
	InteractionDismissed   InteractionType = "dismissed"
	// InteractionDelivered is reported when a scheduled trigger is shown.
	InteractionDelivered InteractionType = "delivered"
)

// Interaction is a callback from the local presentation service.
type Interaction struct {
	Type           InteractionType `json:"type"`
	NotificationID string          `json:"notification_id,omitempty"`
	TriggerID      string          `json:"trigger_id,omitempty"`
	Payload        Payload         `json:"payload"`
	ActionID       string          `json:"action_id,omitempty"`
}

// Presenter is the local presentation capability.
type Presenter interface {
	// SupportsChannels reports whether the platform has delivery channels.
	SupportsChannels() bool
	// CreateChannel creates ch. ErrChannelExists is treated as success.
	CreateChannel(ctx context.Context, ch Channel) error
	Display(ctx context.Context, notificationID string, payload Payload, channelID string) error
	ScheduleTimestamp(ctx context.Context, triggerID string, payload Payload, channelID string, fireAt time.Time) error
	// CancelAll clears pending triggers and visible notifications.
	CancelAll(ctx context.Context) error
	OnInteraction(fn func(Interaction)) (unsubscribe func())
}

// RemoteMessage is a raw push message as delivered by the platform.
type RemoteMessage struct {
	ID         string    `json:"id"`
	Envelope   []byte    `json:"envelope"`
	ReceivedAt time.Time `json:"received_at"`
}

// MessageSource delivers remote push messages.
type MessageSource interface {
	// OnMessage fires for messages received while the app is in the foreground.
	OnMessage(fn func(RemoteMessage)) (unsubscribe func())
	// OnNotificationOpened fires when the user opens a notification while the
	// app is in the background.
	OnNotificationOpened(fn func(RemoteMessage)) (unsubscribe func())
	// InitialNotification returns the notification that launched the app
	// from a quit state, or nil.
	InitialNotification(ctx context.Context) (*RemoteMessage, error)
}

// Destination is an application screen with optional parameters.
type Destination struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// Known destinations.
const (
	DestinationMessages      = "Messages"
	DestinationCalendar      = "Calendar"
	DestinationPayments      = "Payments"
	DestinationNotifications = "Notifications"
)

// Navigator is the navigation capability of the application shell.
type Navigator interface {
	IsReady() bool
	Navigate(ctx context.Context, dest Destination) error
}

// ReadinessNotifier is optionally implemented by a Navigator that can report
// when it becomes ready.
type ReadinessNotifier interface {
	OnReady(fn func()) (unsubscribe func())
}

// Profile is the backend user record as far as this package cares.
type Profile struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// ProfileAPI is the backend profile capability.
type ProfileAPI interface {
	FetchProfile(ctx context.Context) (*Profile, error)
	UpdateProfileField(ctx context.Context, field, value string) error
}

// KVStore is the persistent key-value capability.
type KVStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// PermissionSource exposes the last known permission state.
type PermissionSource interface {
	Current() PermissionState
}
