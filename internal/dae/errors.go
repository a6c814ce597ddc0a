package dae

import "errors"

// Domain errors for the stepper.
var (
	// ErrInvalidOptions indicates a construction-time configuration
	// violation; it is fatal and unrecoverable.
	ErrInvalidOptions = errors.New("dae: invalid options")

	// ErrTooSmallStep indicates the required step size fell below the
	// representable resolution at the current time. It is terminal for
	// the step call; the driver decides whether to abort integration.
	ErrTooSmallStep = errors.New("dae: required step size below representable resolution")

	// ErrUnsupported indicates a capability gap: refining the embedded
	// error estimate with two or more Newton iterations is only defined
	// when the stage increments are the primary unknowns.
	ErrUnsupported = errors.New("dae: multi-iteration embedded estimate requires increment unknowns")

	// ErrMaxSteps indicates the driver exceeded its step budget before
	// reaching the time horizon.
	ErrMaxSteps = errors.New("dae: maximum step count exceeded")
)
