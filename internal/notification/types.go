// Package notification implements the notification lifecycle: permission
// negotiation, per-category delivery channels, push token acquisition and
// backend sync, event normalization, presentation scheduling and routing of
// user interaction to application destinations.
//
// All platform services are reached through the capability interfaces in
// capabilities.go so the package can run against real adapters (see the
// platform package) or test fakes.
package notification

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// PermissionState is the normalized notification permission status.
type PermissionState string

const (
	PermissionUndetermined PermissionState = "undetermined"
	PermissionAuthorized   PermissionState = "authorized"
	PermissionProvisional  PermissionState = "provisional"
	PermissionDenied       PermissionState = "denied"
)

// AllPermissionStates returns every permission state in a stable order.
func AllPermissionStates() []PermissionState {
	return []PermissionState{PermissionUndetermined, PermissionAuthorized, PermissionProvisional, PermissionDenied}
}

// Allows reports whether notifications may be presented and routed.
func (s PermissionState) Allows() bool {
	return s == PermissionAuthorized || s == PermissionProvisional
}

// ParsePermissionState maps a raw platform status onto the closed set.
// Unknown values are treated as denied.
func ParsePermissionState(raw string) PermissionState {
	switch PermissionState(strings.ToLower(strings.TrimSpace(raw))) {
	case PermissionAuthorized, "granted":
		return PermissionAuthorized
	case PermissionProvisional, "ephemeral":
		return PermissionProvisional
	case PermissionUndetermined, "not_determined", "prompt", "":
		return PermissionUndetermined
	default:
		return PermissionDenied
	}
}

// Category is the closed set of notification categories. It drives channel
// selection and routing and is never extended at runtime.
type Category string

const (
	CategoryMessage     Category = "message"
	CategoryEmail       Category = "email"
	CategoryAppointment Category = "appointment"
	CategoryPayment     Category = "payment"
	CategoryGeneral     Category = "general"
)

// AllCategories returns every category in a stable order.
func AllCategories() []Category {
	return []Category{CategoryMessage, CategoryEmail, CategoryAppointment, CategoryPayment, CategoryGeneral}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return slices.Contains(AllCategories(), c)
}

// ParseCategory parses an untrusted category string. Matching is
// case-insensitive and anything unknown becomes CategoryGeneral.
func ParseCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if c.Valid() {
		return c
	}
	return CategoryGeneral
}

// Importance is the interruption level of a channel.
type Importance string

const (
	ImportanceDefault Importance = "default"
	ImportanceHigh    Importance = "high"
	ImportanceMax     Importance = "max"
)

// Priority is the per-payload priority hint.
type Priority string

const (
	PriorityLow     Priority = "low"
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
)

// ParsePriority parses an untrusted priority string, falling back to default.
func ParsePriority(raw string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case PriorityLow, "min":
		return PriorityLow
	case PriorityHigh, "max", "urgent":
		return PriorityHigh
	default:
		return PriorityDefault
	}
}

// Channel is a platform delivery channel, one per category.
type Channel struct {
	ID         string          `json:"id"`
	Category   Category        `json:"category"`
	Importance Importance      `json:"importance"`
	Sound      string          `json:"sound"`
	Vibration  []time.Duration `json:"vibration,omitempty"`
	Label      string          `json:"label"`
}

// Action is an interactive button attached to a notification.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Payload is the content of one notification. Treat it as an immutable
// value: helpers that change it return a copy.
type Payload struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data,omitempty"`
	Category Category       `json:"category"`
	Priority Priority       `json:"priority,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	ImageURL string         `json:"image_url,omitempty"`
	LongText string         `json:"long_text,omitempty"`
	Actions  []Action       `json:"actions,omitempty"`
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	c := p
	c.Data = cloneData(p.Data)
	c.Actions = slices.Clone(p.Actions)
	return c
}

func cloneData(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch tv := v.(type) {
		case map[string]any:
			out[k] = cloneData(tv)
		case []any:
			out[k] = slices.Clone(tv)
		default:
			out[k] = v
		}
	}
	return out
}

// WithData returns a copy of the payload with key set in its data map.
func (p Payload) WithData(key string, value any) Payload {
	c := p.Clone()
	if c.Data == nil {
		c.Data = make(map[string]any)
	}
	c.Data[key] = value
	return c
}

// WithCategory returns a copy of the payload with the category parsed from raw.
func (p Payload) WithCategory(raw string) Payload {
	c := p.Clone()
	c.Category = ParseCategory(raw)
	return c
}

// Normalized returns a copy with category and priority forced into their
// closed sets.
func (p Payload) Normalized() Payload {
	c := p.Clone()
	c.Category = ParseCategory(string(p.Category))
	if c.Priority == "" {
		c.Priority = PriorityDefault
	} else {
		c.Priority = ParsePriority(string(p.Priority))
	}
	return c
}

// Validate checks that the payload can be presented.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Title) == "" && strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("%w: title and body are both empty", ErrInvalidPayload)
	}
	seen := make(map[string]struct{}, len(p.Actions))
	for i, a := range p.Actions {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("%w: action %d has no id", ErrInvalidPayload, i)
		}
		if a.ID == DefaultActionID {
			return fmt.Errorf("%w: action id %q is reserved", ErrInvalidPayload, a.ID)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("%w: duplicate action id %q", ErrInvalidPayload, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// DataString returns data[key] rendered as a string, or "" when absent.
func (p Payload) DataString(key string) string {
	v, ok := p.Data[key]
	if !ok || v == nil {
		return ""
	}
	switch tv := v.(type) {
	case string:
		return tv
	case json.Number:
		return tv.String()
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	case bool:
		return strconv.FormatBool(tv)
	default:
		return fmt.Sprint(tv)
	}
}

// DataKeys returns the payload's data keys in sorted order.
func (p Payload) DataKeys() []string {
	return slices.Sorted(maps.Keys(p.Data))
}

// PushToken is the device push identifier and its sync bookkeeping.
type PushToken struct {
	Value           string    `json:"value"`
	PersistedAt     time.Time `json:"persisted_at"`
	LastSyncedValue *string   `json:"last_synced_value,omitempty"`
}

// Synced reports whether the current value has been written to the backend.
func (t PushToken) Synced() bool {
	return t.LastSyncedValue != nil && *t.LastSyncedValue == t.Value
}

// ScheduledTrigger is a future presentation owned by the Scheduler until it
// fires or is cancelled.
type ScheduledTrigger struct {
	ID        string    `json:"id"`
	Payload   Payload   `json:"payload"`
	FireAt    time.Time `json:"fire_at"`
	ChannelID string    `json:"channel_id"`
}

// EventKind is the kind of a normalized notification event.
type EventKind string

const (
	EventReceivedForeground EventKind = "received-foreground"
	EventOpenedBackground   EventKind = "opened-background"
	EventOpenedQuit         EventKind = "opened-quit"
	EventAction             EventKind = "action"
	EventDismissed          EventKind = "dismissed"
)

// DefaultActionID is the action id reported when the notification body itself
// is pressed.
const DefaultActionID = "default"

// Event is the only shape emitted by the EventDispatcher.
type Event struct {
	Kind       EventKind `json:"kind"`
	Payload    Payload   `json:"payload"`
	ActionID   string    `json:"action_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Opened reports whether the event is the result of the user opening a
// notification from the background or a cold start.
func (e Event) Opened() bool {
	return e.Kind == EventOpenedBackground || e.Kind == EventOpenedQuit
}
