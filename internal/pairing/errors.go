package pairing

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition is returned when the dongle or the headset is missing.
	ErrPrecondition = errors.New("pairing: both a dongle and a headset are required")

	// ErrConfirmationTimeout is returned when the dongle does not confirm
	// the link within the confirmation timeout.
	ErrConfirmationTimeout = errors.New("pairing: no confirmation from dongle")

	// ErrVerification is returned when the confirmation arrived but the
	// link does not check out (zero battery or empty headset name).
	ErrVerification = errors.New("pairing: verification failed")

	// ErrInvalidKey is returned when the dongle reports a non-positive key.
	ErrInvalidKey = errors.New("pairing: dongle returned an invalid pairing key")
)

// StepError is a handshake failure annotated with the step it happened in.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pairing step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
