// Package metrics provides custom Prometheus metrics for the notification lifecycle.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status label values shared by the lifecycle metrics
const (
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusSuppressed = "suppressed" // permission not granted
	StatusDropped    = "dropped"
	StatusDeferred   = "deferred" // held for replay until navigation is ready

	SyncWritten = "written"
	SyncSkipped = "skipped"
	SyncFailed  = "failed"
)

// NotificationMetrics contains all Prometheus metrics related to the notification lifecycle.
type NotificationMetrics struct {
	// Presentation metrics
	PresentationsTotal   *prometheus.CounterVec   // Presentations by channel and status
	PresentationDuration *prometheus.HistogramVec // Display call latency by channel
	TriggersPending      prometheus.Gauge         // Armed scheduled triggers
	TriggersFiredTotal   prometheus.Counter       // Scheduled triggers that fired

	// Token metrics
	TokenSyncsTotal        *prometheus.CounterVec // Backend syncs by result: written, skipped, failed
	TokenAcquisitionErrors prometheus.Counter     // Provider failures
	TokenRefreshesTotal    prometheus.Counter     // Provider-initiated rotations

	// Event pipeline metrics
	EventsTotal        *prometheus.CounterVec // Normalized events by kind
	EventsDroppedTotal prometheus.Counter     // Events dropped because the ingress queue was full
	EventQueueDepth    prometheus.Gauge       // Current ingress queue depth

	// Routing metrics
	RoutesTotal *prometheus.CounterVec // Routing decisions by destination and status

	// Permission metrics
	PermissionState *prometheus.GaugeVec // 1 for the current state, 0 for the others

	registry *prometheus.Registry
}

// NewNotificationMetrics creates a new instance of NotificationMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize notification metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for NotificationMetrics.
func (m *NotificationMetrics) initMetrics() error {
	m.PresentationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_presentations_total",
			Help: "Total number of presentation attempts by channel and status",
		},
		[]string{"channel", "status"}, // status: success, error, suppressed, dropped
	)

	m.PresentationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_presentation_duration_seconds",
			Help:    "Time taken by the presentation capability to display a notification",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"channel"},
	)

	m.TriggersPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notification_triggers_pending",
		Help: "Number of scheduled triggers waiting to fire",
	})

	m.TriggersFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_triggers_fired_total",
		Help: "Total number of scheduled triggers that fired",
	})

	m.TokenSyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_token_syncs_total",
			Help: "Total number of push token backend syncs by result",
		},
		[]string{"result"}, // result: written, skipped, failed
	)

	m.TokenAcquisitionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_token_acquisition_errors_total",
		Help: "Total number of push token provider failures",
	})

	m.TokenRefreshesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_token_refreshes_total",
		Help: "Total number of push token rotations reported by the provider",
	})

	m.EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_total",
			Help: "Total number of normalized notification events by kind",
		},
		[]string{"kind"},
	)

	m.EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_events_dropped_total",
		Help: "Total number of events dropped because the ingress queue was full",
	})

	m.EventQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notification_event_queue_depth",
		Help: "Current depth of the notification event ingress queue",
	})

	m.RoutesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_routes_total",
			Help: "Total number of routing decisions by destination and status",
		},
		[]string{"destination", "status"}, // status: success, error, suppressed, dropped, deferred
	)

	m.PermissionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_permission_state",
			Help: "Current notification permission state (1 for the active state)",
		},
		[]string{"state"},
	)

	return nil
}

// RecordPresentation records a presentation attempt and its display latency.
func (m *NotificationMetrics) RecordPresentation(channel, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PresentationsTotal.WithLabelValues(channel, status).Inc()
	if duration > 0 {
		m.PresentationDuration.WithLabelValues(channel).Observe(duration.Seconds())
	}
}

// SetTriggersPending sets the number of armed triggers.
func (m *NotificationMetrics) SetTriggersPending(n int) {
	if m == nil {
		return
	}
	m.TriggersPending.Set(float64(n))
}

// IncrementTriggersFired increments the fired trigger counter.
func (m *NotificationMetrics) IncrementTriggersFired() {
	if m == nil {
		return
	}
	m.TriggersFiredTotal.Inc()
}

// RecordTokenSync records the outcome of a backend sync.
func (m *NotificationMetrics) RecordTokenSync(result string) {
	if m == nil {
		return
	}
	m.TokenSyncsTotal.WithLabelValues(result).Inc()
}

// IncrementTokenAcquisitionErrors increments the provider failure counter.
func (m *NotificationMetrics) IncrementTokenAcquisitionErrors() {
	if m == nil {
		return
	}
	m.TokenAcquisitionErrors.Inc()
}

// IncrementTokenRefreshes increments the rotation counter.
func (m *NotificationMetrics) IncrementTokenRefreshes() {
	if m == nil {
		return
	}
	m.TokenRefreshesTotal.Inc()
}

// RecordEvent records a normalized event.
func (m *NotificationMetrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// IncrementEventsDropped increments the dropped event counter.
func (m *NotificationMetrics) IncrementEventsDropped() {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.Inc()
}

// SetEventQueueDepth sets the ingress queue depth.
func (m *NotificationMetrics) SetEventQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.EventQueueDepth.Set(float64(depth))
}

// RecordRoute records a routing decision.
func (m *NotificationMetrics) RecordRoute(destination, status string) {
	if m == nil {
		return
	}
	m.RoutesTotal.WithLabelValues(destination, status).Inc()
}

// SetPermissionState marks state as the active permission state.
func (m *NotificationMetrics) SetPermissionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		if s == state {
			m.PermissionState.WithLabelValues(s).Set(1)
		} else {
			m.PermissionState.WithLabelValues(s).Set(0)
		}
	}
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.PresentationsTotal.Collect(ch)
	m.PresentationDuration.Collect(ch)
	m.TriggersPending.Collect(ch)
	m.TriggersFiredTotal.Collect(ch)
	m.TokenSyncsTotal.Collect(ch)
	m.TokenAcquisitionErrors.Collect(ch)
	m.TokenRefreshesTotal.Collect(ch)
	m.EventsTotal.Collect(ch)
	m.EventsDroppedTotal.Collect(ch)
	m.EventQueueDepth.Collect(ch)
	m.RoutesTotal.Collect(ch)
	m.PermissionState.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.PresentationsTotal.Describe(ch)
	m.PresentationDuration.Describe(ch)
	m.TriggersPending.Describe(ch)
	m.TriggersFiredTotal.Describe(ch)
	m.TokenSyncsTotal.Describe(ch)
	m.TokenAcquisitionErrors.Describe(ch)
	m.TokenRefreshesTotal.Describe(ch)
	m.EventsTotal.Describe(ch)
	m.EventsDroppedTotal.Describe(ch)
	m.EventQueueDepth.Describe(ch)
	m.RoutesTotal.Describe(ch)
	m.PermissionState.Describe(ch)
}

// StartPresentationTimer creates a timer for measuring display latency.
func (m *NotificationMetrics) StartPresentationTimer() *PresentationTimer {
	return &PresentationTimer{
		startTime: time.Now(),
		metrics:   m,
	}
}

// PresentationTimer is a helper struct for measuring display latency.
type PresentationTimer struct {
	startTime time.Time
	metrics   *NotificationMetrics
}

// ObserveDuration stops the timer and records the presentation with its status.
func (pt *PresentationTimer) ObserveDuration(channel, status string) {
	pt.metrics.RecordPresentation(channel, status, time.Since(pt.startTime))
}
