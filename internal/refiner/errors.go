// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package refiner

import (
	"errors"
	"fmt"
)

var (
	// ErrLocationUnknown is the transient "no position yet" sensor condition.
	// The refiner ignores it and keeps waiting.
	ErrLocationUnknown = errors.New("location currently unknown")

	// ErrPermissionDenied means the position source may not be used.
	ErrPermissionDenied = errors.New("location access denied")

	// ErrServicesDisabled means the position source is switched off or absent.
	ErrServicesDisabled = errors.New("location services disabled")

	// ErrAuthorizationPending means access has not been decided yet.
	ErrAuthorizationPending = errors.New("location authorization not determined")

	// ErrTimedOut ends a cycle in which no reading was accepted in time.
	ErrTimedOut = errors.New("timed out acquiring location")
)

// AddressResolutionError wraps a failed reverse-geocode lookup. It is
// display-only and never ends a cycle.
type AddressResolutionError struct {
	Err error
}

func (e *AddressResolutionError) Error() string {
	return fmt.Sprintf("address resolution: %v", e.Err)
}

func (e *AddressResolutionError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be ignored by the refiner.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLocationUnknown)
}

// IsPermission reports whether err means the user has to enable or allow
// location access before a cycle can run.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrServicesDisabled)
}
