package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnavailableWrapsOnce(t *testing.T) {
	base := errors.New("connection refused")
	err := Unavailable(base)
	require.True(t, IsStoreUnavailable(err))
	assert.ErrorIs(t, err, base)

	again := Unavailable(fmt.Errorf("load profile: %w", err))
	var target *StoreUnavailableError
	require.ErrorAs(t, again, &target)
	assert.Same(t, err, target)

	assert.NoError(t, Unavailable(nil))
}

func TestEntitlementDeniedMessages(t *testing.T) {
	quota := &EntitlementDeniedError{Reason: DenialQuota, Feature: "ai_posts", Used: 20, Limit: 20}
	assert.Equal(t, "monthly ai_posts limit reached (20/20)", quota.Error())

	plan := &EntitlementDeniedError{Reason: DenialPlan}
	assert.Equal(t, "upgrade required", plan.Error())
}

func TestUpstreamErrorsUnwrap(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	authErr := &UpstreamAuthError{Op: "refresh", Err: cause}
	assert.ErrorIs(t, authErr, cause)
	assert.Contains(t, authErr.Error(), "refresh")

	apiErr := &UpstreamAPIError{Status: 403, Body: []byte(`{"error":"denied"}`)}
	assert.Equal(t, "google api returned status 403", apiErr.Error())

	assert.True(t, IsNotConnected(fmt.Errorf("wrap: %w", &NotConnectedError{UserID: "u1"})))
}
