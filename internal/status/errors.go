package status

import (
	"errors"
	"fmt"
)

var (
	ErrErrorMessageForbidden = errors.New("error message is only allowed with ERROR status")
	ErrErrorMessageRequired  = errors.New("error message is required with ERROR status")
	ErrInvalidTransition     = errors.New("invalid job status transition")
	ErrUnknownStatus         = errors.New("unknown job status")
)

func ErrorErrorMessageForbidden(s OrcaStatus) error {
	return fmt.Errorf("%w: status=%s", ErrErrorMessageForbidden, s)
}

func ErrorInvalidTransition(from, to OrcaStatus) error {
	return fmt.Errorf("%w: from=%s to=%s", ErrInvalidTransition, from, to)
}

func ErrorUnknownStatus(value string) error {
	return fmt.Errorf("%w: %s", ErrUnknownStatus, value)
}
