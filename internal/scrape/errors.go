package scrape

import "errors"

// Sentinel errors returned by stores and the orchestrator. Callers match
// them with errors.Is to map onto HTTP status codes.
var (
	// ErrJobNotFound indicates no job record exists for the given ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists indicates a create collided with an existing job ID.
	ErrJobExists = errors.New("job already exists")
	// ErrInvalidJobState indicates the requested transition is not legal
	// from the job's current status.
	ErrInvalidJobState = errors.New("invalid job state")
	// ErrResultNotFound indicates the requested result record is absent.
	ErrResultNotFound = errors.New("result not found")
)
