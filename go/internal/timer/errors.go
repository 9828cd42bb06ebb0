package timer

import "errors"

// Control operation failures. All of them are synchronous rejections of a
// single call; none are fatal to the process.
var (
	ErrInvalidAccessCode      = errors.New("access code must be at least 6 digits and contain only numbers")
	ErrTimerNotFound          = errors.New("no timer found for this access code")
	ErrInvalidDuration        = errors.New("invalid duration: provide a positive number of seconds")
	ErrInvalidElapsed         = errors.New("invalid elapsed time: provide a non-negative number of seconds")
	ErrElapsedExceedsDuration = errors.New("elapsed time cannot exceed total timer duration")
	ErrInvalidTransition      = errors.New("timer is not in a state that allows this operation")
)
