package status

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/notifyd/internal/api"
	"github.com/tphakala/notifyd/internal/notification"
)

func TestPrintState(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	printState(&out, &api.StateResponse{
		Ready:       true,
		Permission:  notification.PermissionAuthorized,
		Token:       "tok-1",
		TokenSynced: true,
		Channels:    []notification.Channel{{ID: "messages", Label: "Messages"}},
		Stats:       notification.DispatcherStats{EventsReceived: 3, EventsProcessed: 3},
	})
	text := out.String()
	assert.Contains(t, text, "permission:  authorized")
	assert.Contains(t, text, "tok-1 (synced: true)")
	assert.Contains(t, text, "messages")
	assert.Contains(t, text, "3 received, 3 processed, 0 dropped")

	out.Reset()
	printState(&out, &api.StateResponse{Permission: notification.PermissionDenied, Error: "gateway down"})
	assert.Contains(t, out.String(), "token:       none")
	assert.Contains(t, out.String(), "error:       gateway down")
}
