// Copyright 2025 Jinn Network
//
// Package database provides sentinel errors for repository operations.
package database

import "errors"

var (
	// ErrNotFound is returned when a requested entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrLeaseNotFound is returned when no claim lease exists for a request.
	ErrLeaseNotFound = errors.New("claim lease not found")

	// ErrLeaseAlreadyHeld is returned when a claim lease already exists for
	// a request id this process did not originate.
	ErrLeaseAlreadyHeld = errors.New("claim lease already held")
)
