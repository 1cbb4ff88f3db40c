package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotificationMetrics(t *testing.T) (*NotificationMetrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	m, err := NewNotificationMetrics(registry)
	require.NoError(t, err)
	return m, registry
}

func findFamily(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}

func TestRecordPresentation(t *testing.T) {
	t.Parallel()

	m, registry := newTestNotificationMetrics(t)

	m.RecordPresentation("messages", StatusSuccess, 20*time.Millisecond)
	m.RecordPresentation("messages", StatusSuccess, 0)
	m.RecordPresentation("payments", StatusSuppressed, 0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.PresentationsTotal.WithLabelValues("messages", StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PresentationsTotal.WithLabelValues("payments", StatusSuppressed)), 0)

	hist := findFamily(t, registry, "notification_presentation_duration_seconds")
	require.Len(t, hist.GetMetric(), 1)
	assert.Equal(t, uint64(1), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestTokenSyncCounters(t *testing.T) {
	t.Parallel()

	m, _ := newTestNotificationMetrics(t)

	m.RecordTokenSync(SyncWritten)
	m.RecordTokenSync(SyncSkipped)
	m.RecordTokenSync(SyncSkipped)
	m.IncrementTokenAcquisitionErrors()

	assert.InDelta(t, 1, testutil.ToFloat64(m.TokenSyncsTotal.WithLabelValues(SyncWritten)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.TokenSyncsTotal.WithLabelValues(SyncSkipped)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TokenAcquisitionErrors), 0)
}

func TestPermissionStateGauge(t *testing.T) {
	t.Parallel()

	m, registry := newTestNotificationMetrics(t)
	all := []string{"undetermined", "authorized", "provisional", "denied"}

	m.SetPermissionState("denied", all)
	m.SetPermissionState("authorized", all)

	mf := findFamily(t, registry, "notification_permission_state")
	active := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "state" {
				active[label.GetValue()] = metric.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, map[string]float64{"undetermined": 0, "authorized": 1, "provisional": 0, "denied": 0}, active)
}

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()

	var m *NotificationMetrics
	assert.NotPanics(t, func() {
		m.RecordPresentation("x", StatusError, time.Second)
		m.RecordTokenSync(SyncFailed)
		m.RecordEvent("action")
		m.IncrementEventsDropped()
		m.SetEventQueueDepth(3)
		m.RecordRoute("Messages", StatusSuccess)
		m.SetTriggersPending(1)
		m.IncrementTriggersFired()
		m.StartPresentationTimer().ObserveDuration("x", StatusSuccess)
	})
}

func TestDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewNotificationMetrics(registry)
	require.NoError(t, err)
	_, err = NewNotificationMetrics(registry)
	require.Error(t, err)
}
