package domain

import "errors"

var (
	// ErrInvalidTransition is returned when a caller attempts an illegal
	// state change. The entity is left unmodified.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrAlreadyRunning is returned when a validation pipeline is requested
	// for a (project, pull request) pair that already has one in flight.
	ErrAlreadyRunning = errors.New("validation already running")

	// ErrNotFound is returned for lookups of unknown entity ids.
	ErrNotFound = errors.New("not found")
)
