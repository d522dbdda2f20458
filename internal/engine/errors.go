package engine

import "errors"

// Result kinds surfaced by the engine. The boundary maps these to transport
// statuses; the engine never does.
var (
	// ErrInvalidArgument means a required field is missing or a creation
	// parameter is malformed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound means the experiment does not exist, or no experiment
	// declares the conversion.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means an explicit create lost to an existing name.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized means the caller may not create experiments. It is always
	// returned together with ErrNotFound so unknown and forbidden look the same.
	ErrUnauthorized = errors.New("unauthorized")
)
