package domain

import (
	"errors"
	"fmt"
)

// TransientNetworkError marks a timeout or connection failure. The cycle
// treats it as missing data; retry waits for the next scheduled poll.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// AuthExpiredError marks a rejected credential. The cycle falls back to cache;
// refreshing the token is the credential collaborator's problem.
type AuthExpiredError struct {
	Err error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("vendor auth expired: %v", e.Err)
}

func (e *AuthExpiredError) Unwrap() error {
	return e.Err
}

// DeviceAsleepError marks a command sent to a device that reported asleep.
// Surfaced as a warning only; the device may wake on command.
type DeviceAsleepError struct {
	Op string
}

func (e *DeviceAsleepError) Error() string {
	return fmt.Sprintf("device asleep during %s", e.Op)
}

// InvalidDataError marks a malformed or out-of-range snapshot. The cycle
// discards it and keeps the previous cache entry.
type InvalidDataError struct {
	Field  string
	Reason string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}

func IsAuthExpired(err error) bool {
	var a *AuthExpiredError
	return errors.As(err, &a)
}

func IsInvalidData(err error) bool {
	var i *InvalidDataError
	return errors.As(err, &i)
}
