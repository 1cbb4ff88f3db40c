package httpclient

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil config", func(t *testing.T) {
		t.Parallel()
		client := New(nil)
		require.NotNil(t, client)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, defaultUserAgent, client.userAgent)
	})

	t.Run("custom config", func(t *testing.T) {
		t.Parallel()
		client := New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "TestAgent/1.0", BearerToken: "tok"})
		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "TestAgent/1.0", client.userAgent)
		assert.Equal(t, "tok", client.bearerToken)
	})

	t.Run("zero values use defaults", func(t *testing.T) {
		t.Parallel()
		client := New(&Config{})
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.NotEmpty(t, client.userAgent)
	})
}

func TestDo_BasicRequest(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	client := newTestClient(t)

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "success", string(body))
}

func TestSend_HeadersAndJSONBody(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPatch, "https://api.example.com/users/7",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			assert.Equal(t, "notifyd", req.Header.Get("User-Agent"))
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.JSONEq(t, `{"data":{"push_token":"abc"}}`, string(body))
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})

	client := newTestClientWithConfig(t, &Config{BearerToken: "secret", Transport: transport})

	resp, err := client.Patch(t.Context(), "https://api.example.com/users/7",
		map[string]any{"data": map[string]string{"push_token": "abc"}})
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestDo_ExplicitAuthorizationWins(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://api.example.com/ping",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer other", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
		})

	client := newTestClientWithConfig(t, &Config{BearerToken: "secret", Transport: transport})

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "https://api.example.com/ping", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer other")

	resp, err := client.Do(t.Context(), req)
	require.NoError(t, err)
	closeResponseBody(t, resp)
}

func TestDo_DefaultTimeoutApplied(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClientWithConfig(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHooks(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://api.example.com/x",
		httpmock.NewStringResponder(http.StatusOK, "ok"))

	client := newTestClientWithConfig(t, &Config{Transport: transport})

	var before, after atomic.Int32
	client.SetBeforeRequestHook(func(*http.Request) { before.Add(1) })
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		after.Add(1)
	})

	resp, err := client.Get(t.Context(), "https://api.example.com/x")
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
}

func TestDo_NilRequest(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Do(t.Context(), nil)
	require.Error(t, err)
}
