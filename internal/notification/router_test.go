package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/notifyd/internal/errors"
)

func TestResolveIsTotal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category Category
		data     map[string]any
		want     Destination
	}{
		{CategoryMessage, nil, Destination{Name: DestinationMessages}},
		{CategoryEmail, nil, Destination{Name: DestinationMessages}},
		{CategoryAppointment, nil, Destination{Name: DestinationCalendar}},
		{CategoryPayment, nil, Destination{Name: DestinationPayments}},
		{CategoryPayment, map[string]any{"paymentId": "p-1"}, Destination{Name: DestinationPayments, Params: map[string]string{"paymentId": "p-1"}}},
		{CategoryPayment, map[string]any{"payment_id": float64(77)}, Destination{Name: DestinationPayments, Params: map[string]string{"paymentId": "77"}}},
		{CategoryGeneral, nil, Destination{Name: DestinationNotifications}},
		{"", nil, Destination{Name: DestinationNotifications}},
		{"MESSAGE", nil, Destination{Name: DestinationMessages}},
		{"🚀", nil, Destination{Name: DestinationNotifications}},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Resolve(Payload{Category: tt.category, Data: tt.data}))
		})
	}
}

func newTestRouter(nav *fakeNavigator, state PermissionState, cfg RouterConfig) *Router {
	return NewRouter(nav, staticPermission(state), cfg, testLogger(), nil)
}

func TestDismissedNeverRoutes(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{ready: true}
	r := newTestRouter(nav, PermissionAuthorized, RouterConfig{})
	payload := Payload{Title: "pay", Category: CategoryPayment, Data: map[string]any{"paymentId": "9"}}

	assert.False(t, r.Route(context.Background(), Event{Kind: EventDismissed, Payload: payload}))
	assert.Empty(t, nav.routed())

	for _, kind := range []EventKind{EventAction, EventOpenedBackground, EventOpenedQuit} {
		assert.True(t, r.Route(context.Background(), Event{Kind: kind, Payload: payload, ActionID: DefaultActionID}), kind)
	}
	routed := nav.routed()
	require.Len(t, routed, 3)
	for _, d := range routed {
		assert.Equal(t, DestinationPayments, d.Name)
		assert.Equal(t, "9", d.Params["paymentId"])
	}
}

func TestDeniedPermissionSuppressesRouting(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{ready: true}
	r := newTestRouter(nav, PermissionDenied, RouterConfig{ReplayColdStart: true})

	assert.False(t, r.Route(context.Background(), Event{Kind: EventAction, Payload: Payload{Category: CategoryMessage}}))
	assert.Empty(t, nav.routed())
	_, deferred := r.Deferred()
	assert.False(t, deferred)
}

func TestRouteNavigatorNotReady(t *testing.T) {
	t.Parallel()

	t.Run("drop", func(t *testing.T) {
		t.Parallel()
		nav := &fakeNavigator{}
		r := newTestRouter(nav, PermissionAuthorized, RouterConfig{ReplayColdStart: false})

		assert.False(t, r.Route(context.Background(), Event{Kind: EventOpenedQuit, Payload: Payload{Category: CategoryEmail}}))
		_, deferred := r.Deferred()
		assert.False(t, deferred)

		nav.setReady()
		r.NavigatorReady(context.Background())
		assert.Empty(t, nav.routed())
	})

	t.Run("replay latest", func(t *testing.T) {
		t.Parallel()
		nav := &fakeNavigator{}
		r := newTestRouter(nav, PermissionAuthorized, RouterConfig{ReplayColdStart: true})

		r.Route(context.Background(), Event{Kind: EventOpenedQuit, Payload: Payload{Category: CategoryEmail}})
		r.Route(context.Background(), Event{Kind: EventAction, Payload: Payload{Category: CategoryAppointment}})
		ev, deferred := r.Deferred()
		require.True(t, deferred)
		assert.Equal(t, EventAction, ev.Kind)

		nav.setReady()
		r.NavigatorReady(context.Background())
		assert.Equal(t, []Destination{{Name: DestinationCalendar}}, nav.routed())

		r.NavigatorReady(context.Background())
		assert.Len(t, nav.routed(), 1, "replayed once")
	})

	t.Run("stale event discarded", func(t *testing.T) {
		t.Parallel()
		nav := &fakeNavigator{}
		r := newTestRouter(nav, PermissionAuthorized, RouterConfig{ReplayColdStart: true, ReplayMaxAge: time.Minute})

		r.Route(context.Background(), Event{
			Kind:       EventOpenedQuit,
			Payload:    Payload{Category: CategoryMessage},
			ReceivedAt: time.Now().Add(-2 * time.Minute),
		})
		nav.setReady()
		r.NavigatorReady(context.Background())
		assert.Empty(t, nav.routed())
	})
}

func TestRouteNavigationFailureContained(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{ready: true, err: errors.NewStd("screen missing")}
	r := newTestRouter(nav, PermissionAuthorized, RouterConfig{})
	assert.False(t, r.Route(context.Background(), Event{Kind: EventAction, Payload: Payload{}}))
}

func TestRouterAcceptsInteractionEvents(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&fakeNavigator{}, PermissionAuthorized, RouterConfig{})
	for _, k := range []EventKind{EventReceivedForeground, EventOpenedBackground, EventOpenedQuit, EventAction, EventDismissed} {
		assert.True(t, r.Accepts(k), k)
	}
}

func TestRouteForegroundReceipt(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{ready: true}
	r := newTestRouter(nav, PermissionAuthorized, RouterConfig{})
	ev := Event{Kind: EventReceivedForeground, Payload: Payload{Category: CategoryMessage}}
	assert.True(t, r.Route(context.Background(), ev))
	require.Len(t, nav.routed(), 1)
	assert.Equal(t, Resolve(ev.Payload), nav.routed()[0])
}

// readyDuringCheck turns ready and announces it while the router is still
// inside its first readiness check.
type readyDuringCheck struct {
	*fakeNavigator
	once sync.Once
}

func (n *readyDuringCheck) IsReady() bool {
	ready := n.fakeNavigator.IsReady()
	n.once.Do(func() { n.setReady() })
	return ready
}

func TestDeferredEventSurvivesReadinessRace(t *testing.T) {
	t.Parallel()

	nav := &readyDuringCheck{fakeNavigator: &fakeNavigator{}}
	r := NewRouter(nav, staticPermission(PermissionAuthorized), RouterConfig{ReplayColdStart: true}, testLogger(), nil)
	nav.OnReady(func() { r.NavigatorReady(context.Background()) })

	r.Route(context.Background(), Event{Kind: EventOpenedQuit, Payload: Payload{Category: CategoryPayment}})

	_, deferred := r.Deferred()
	assert.False(t, deferred, "event must not stay parked after the navigator became ready")
	require.Len(t, nav.routed(), 1)
	assert.Equal(t, Resolve(Payload{Category: CategoryPayment}), nav.routed()[0])
}
