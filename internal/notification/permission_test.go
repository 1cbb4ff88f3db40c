package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/notifyd/internal/errors"
)

func TestPermissionCheckNeverPrompts(t *testing.T) {
	t.Parallel()

	platform := newFakePermission(PermissionUndetermined)
	p := NewPermissionNegotiator(platform, testLogger(), nil)

	assert.Equal(t, PermissionUndetermined, p.Check(context.Background()))
	assert.Zero(t, platform.requests)
	assert.Equal(t, PermissionUndetermined, p.Current())
}

func TestPermissionCapabilityErrorIsDenied(t *testing.T) {
	t.Parallel()

	platform := newFakePermission(PermissionAuthorized)
	platform.statusErr = errors.NewStd("service unavailable")
	p := NewPermissionNegotiator(platform, testLogger(), nil)

	assert.Equal(t, PermissionDenied, p.Check(context.Background()))
	assert.Equal(t, PermissionDenied, p.Current())
	require.Error(t, p.Err())
	assert.True(t, errors.IsCategory(p.Err(), errors.CategoryPermission))

	platform.statusErr = nil
	platform.status = PermissionUndetermined
	platform.requestErr = errors.NewStd("dialog crashed")
	assert.Equal(t, PermissionDenied, p.Request(context.Background()))
}

func TestPermissionRequest(t *testing.T) {
	t.Parallel()

	t.Run("prompts once per call", func(t *testing.T) {
		t.Parallel()
		platform := newFakePermission(PermissionUndetermined)
		platform.requestResult = PermissionProvisional
		p := NewPermissionNegotiator(platform, testLogger(), nil)

		assert.Equal(t, PermissionProvisional, p.Request(context.Background()))
		assert.Equal(t, 1, platform.requests)
		assert.NoError(t, p.Err())
	})

	t.Run("already authorized skips prompt", func(t *testing.T) {
		t.Parallel()
		platform := newFakePermission(PermissionAuthorized)
		p := NewPermissionNegotiator(platform, testLogger(), nil)

		assert.Equal(t, PermissionAuthorized, p.Request(context.Background()))
		assert.Zero(t, platform.requests)
	})

	t.Run("denied surfaces a permission error", func(t *testing.T) {
		t.Parallel()
		platform := newFakePermission(PermissionUndetermined)
		platform.requestResult = PermissionDenied
		p := NewPermissionNegotiator(platform, testLogger(), nil)

		assert.Equal(t, PermissionDenied, p.Request(context.Background()))
		assert.ErrorIs(t, p.Err(), ErrPermissionDenied)
	})
}

func TestPromptSettingsFallsBack(t *testing.T) {
	t.Parallel()

	platform := newFakePermission(PermissionDenied)
	p := NewPermissionNegotiator(platform, testLogger(), nil)

	p.PromptSettings(context.Background())
	assert.Equal(t, 1, platform.notifCalls)
	assert.Zero(t, platform.appCalls)

	platform.notifErr = ErrSettingsLinkUnsupported
	p.PromptSettings(context.Background())
	assert.Equal(t, 2, platform.notifCalls)
	assert.Equal(t, 1, platform.appCalls)
}
