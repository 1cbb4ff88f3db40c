package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/notifyd/internal/conf"
	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/notification"
)

func newClientAgainst(t *testing.T, lc Lifecycle) *Client {
	t.Helper()
	srv := httptest.NewServer(newTestServer(t, lc).Echo())
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, 5*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()
	fireAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	lc := &fakeLifecycle{
		ready:      true,
		state:      notification.State{Token: "tok-1", Permission: notification.PermissionAuthorized},
		permission: notification.PermissionAuthorized,
		presentID:  "n-1",
		scheduleID: "trigger-1",
		scheduled:  true,
		pending:    []notification.ScheduledTrigger{{ID: "trigger-1", FireAt: fireAt}},
		token:      "tok-2",
	}
	c := newClientAgainst(t, lc)
	ctx := context.Background()

	st, err := c.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", st.Token)

	perm, err := c.RequestPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.PermissionAuthorized, perm)

	shown, err := c.Present(ctx, notification.Payload{Title: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "n-1", shown.ID)

	sched, err := c.Schedule(ctx, notification.Payload{Title: "Later"}, fireAt)
	require.NoError(t, err)
	assert.True(t, sched.Scheduled)
	require.Len(t, lc.scheduledAt, 1)
	assert.True(t, fireAt.Equal(lc.scheduledAt[0]))

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "trigger-1", pending[0].ID)

	require.NoError(t, c.CancelAll(ctx))
	assert.Equal(t, 1, lc.cancelled)

	token, err := c.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
}

func TestClient_ErrorResponse(t *testing.T) {
	t.Parallel()
	c := newClientAgainst(t, &fakeLifecycle{})

	_, err := c.Present(context.Background(), notification.Payload{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHTTP))
	assert.Contains(t, err.Error(), "400")
}

func TestNewClient_Address(t *testing.T) {
	t.Parallel()
	c, err := NewClient("127.0.0.1:8089", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8089", c.base)

	c, err = NewClient("https://agent.local:8089/", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://agent.local:8089", c.base)

	for _, bad := range []string{"http://", "http:///", "ftp://agent.local", "", ":8089"} {
		_, err = NewClient(bad, 0, nil)
		assert.Error(t, err, bad)
	}
}

func TestNewClientFromSettings_WildcardListen(t *testing.T) {
	t.Parallel()
	settings := &conf.Settings{}
	settings.API.Listen = ":8089"
	c, err := NewClientFromSettings(settings, 0)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8089", c.base)
}
