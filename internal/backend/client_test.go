package backend

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
)

const (
	testBase    = "https://api.example.com"
	testProfile = testBase + "/users/user-42"
)

func newTestClient(t *testing.T, transport http.RoundTripper) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:   testBase + "/",
		UserID:    "user-42",
		Token:     "secret",
		Timeout:   time.Second,
		Transport: transport,
	}, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "not a url", UserID: "u"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = New(Config{BaseURL: testBase}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestFetchProfile(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testProfile,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK,
				`{"id":"user-42","data":{"push_token":"tok-1","badge":3}}`), nil
		})

	c := newTestClient(t, transport)
	profile, err := c.FetchProfile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "user-42", profile.ID)
	assert.Equal(t, "tok-1", profile.Data["push_token"])
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestFetchProfileWithoutData(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testProfile,
		httpmock.NewStringResponder(http.StatusOK, `{"id":"user-42"}`))

	profile, err := newTestClient(t, transport).FetchProfile(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, profile.Data)
	assert.Empty(t, profile.Data)
}

func TestFetchProfileErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		category errors.ErrorCategory
	}{
		{"not found", http.StatusNotFound, `{"error":"missing"}`, errors.CategoryNotFound},
		{"throttled", http.StatusTooManyRequests, ``, errors.CategoryLimit},
		{"server error", http.StatusInternalServerError, `oops`, errors.CategoryHTTP},
		{"bad json", http.StatusOK, `{"data":`, errors.CategoryHTTP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, testProfile, httpmock.NewStringResponder(tt.status, tt.body))

			_, err := newTestClient(t, transport).FetchProfile(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
		})
	}
}

func TestFetchProfileNetworkError(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testProfile, httpmock.NewErrorResponder(errors.NewStd("connection refused")))

	_, err := newTestClient(t, transport).FetchProfile(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	ctx := ee.GetContext()
	assert.Equal(t, "https-endpoint", ctx["url_category"])
	assert.InDelta(t, 1.0, ctx["timeout_seconds"], 0.001)
	assert.Equal(t, "fetch_profile", ctx["operation"])
	assert.NotContains(t, ctx, "url", "the raw endpoint carries the user id")
}

func TestUpdateProfileFieldSendsOnlyTheField(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPatch, testProfile,
		func(req *http.Request) (*http.Response, error) {
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.JSONEq(t, `{"data":{"push_token":"tok-2"}}`, string(body))
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
		})

	require.NoError(t, newTestClient(t, transport).UpdateProfileField(context.Background(), "push_token", "tok-2"))
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestUpdateProfileFieldFailure(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPatch, testProfile, httpmock.NewStringResponder(http.StatusConflict, `{}`))

	err := newTestClient(t, transport).UpdateProfileField(context.Background(), "push_token", "x")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
}
