package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrConflict       = errors.New("conflict")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotConfigured  = errors.New("service not configured")
)

// NotConnectedError means the user has no stored Google Business Profile connection.
type NotConnectedError struct {
	UserID string
}

func (e *NotConnectedError) Error() string {
	return "google business profile not connected"
}

// UpstreamAuthError is returned when Google rejects a code exchange or a refresh.
// The stored connection is left in place.
type UpstreamAuthError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamAuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("google oauth %s failed with status %d", e.Op, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("google oauth %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("google oauth %s failed", e.Op)
}

func (e *UpstreamAuthError) Unwrap() error { return e.Err }

// UpstreamAPIError carries a non-2xx Business Profile response verbatim.
// Status is zero when the request never produced a response.
type UpstreamAPIError struct {
	Status int
	Body   []byte
	Err    error
}

func (e *UpstreamAPIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("google api request failed: %v", e.Err)
	}
	return fmt.Sprintf("google api returned status %d", e.Status)
}

func (e *UpstreamAPIError) Unwrap() error { return e.Err }

// DenialReason distinguishes plan gates from exhausted quotas.
type DenialReason string

const (
	DenialPlan  DenialReason = "plan"
	DenialQuota DenialReason = "quota"
)

// EntitlementDeniedError is returned when a plan predicate or a quota check fails.
type EntitlementDeniedError struct {
	Reason    DenialReason
	Feature   string
	Limit     int
	Used      int
	ResetDate *time.Time
}

func (e *EntitlementDeniedError) Error() string {
	if e.Reason == DenialQuota {
		return fmt.Sprintf("monthly %s limit reached (%d/%d)", e.Feature, e.Used, e.Limit)
	}
	if e.Feature != "" {
		return fmt.Sprintf("your plan does not include %s", e.Feature)
	}
	return "upgrade required"
}

// StoreUnavailableError wraps a failure to reach the database. Callers must
// deny the gated action; the whole request is safe to retry.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func IsNotConnected(err error) bool {
	var target *NotConnectedError
	return errors.As(err, &target)
}

func IsStoreUnavailable(err error) bool {
	var target *StoreUnavailableError
	return errors.As(err, &target)
}

// Unavailable wraps err as a StoreUnavailableError unless it already is one.
func Unavailable(err error) error {
	if err == nil || IsStoreUnavailable(err) {
		return err
	}
	return &StoreUnavailableError{Err: err}
}
