package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAccess indicates the device or event platform API is unavailable
	// (missing privilege, subsystem not ready).
	ErrAccess = errors.New("device platform unavailable")

	// ErrSubscriptionLost indicates a live notification subscription stopped
	// delivering events.
	ErrSubscriptionLost = errors.New("device notification subscription lost")

	// ErrRegistrationExhausted indicates the short registration retries ran
	// out and the subscriber entered the long backoff.
	ErrRegistrationExhausted = errors.New("notification registration retries exhausted")

	// ErrNotElevated indicates the process lacks administrator/root privilege.
	ErrNotElevated = errors.New("elevated privilege required")

	// ErrUnsupportedPlatform indicates no device adapter exists for this OS.
	ErrUnsupportedPlatform = errors.New("platform not supported")
)

// AccessError wraps a platform failure during enumeration or registration.
// errors.Is(err, ErrAccess) reports true for any AccessError.
type AccessError struct {
	Op  string
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrAccess, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

func (e *AccessError) Is(target error) bool { return target == ErrAccess }

// NewAccessError wraps err as an AccessError for op.
func NewAccessError(op string, err error) error {
	return &AccessError{Op: op, Err: err}
}

// DeviceError is a hard failure disabling one device.
type DeviceError struct {
	DeviceID string
	Message  string
	Err      error
}

func (e *DeviceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("disable %s: %s", e.DeviceID, e.Message)
	}
	return fmt.Sprintf("disable %s: %v", e.DeviceID, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
