package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCoordinate      = errors.New("invalid coordinate")
	ErrDuplicateActiveRequest = errors.New("rider already has an active request")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrRequestNotFound        = errors.New("request not found")
	ErrNoDriverAvailable      = errors.New("no driver available")
	ErrNotFound               = errors.New("not found")

	// ErrDriverBusy is a refused match: the driver is already on a matched ride.
	ErrDriverBusy = fmt.Errorf("driver already matched: %w", ErrInvalidTransition)
)
