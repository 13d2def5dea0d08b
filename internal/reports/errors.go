package reports

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCursor    = errors.New("invalid cursor")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrInvalidLimit     = errors.New("invalid limit")
	ErrInvalidJobID     = errors.New("invalid job id")
	ErrInvalidPageIndex = errors.New("invalid page index")
)

func ErrorInvalidCursor(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidCursor, reason)
}

func ErrorInvalidDirection(direction string) error {
	return fmt.Errorf("%w: %q, expected %q or %q", ErrInvalidDirection, direction, Next, Previous)
}

func ErrorInvalidLimit(limit int) error {
	return fmt.Errorf("%w: %d, expected 1 to %d", ErrInvalidLimit, limit, MaxLimit)
}

func ErrorInvalidJobID(id int64) error {
	return fmt.Errorf("%w: %d", ErrInvalidJobID, id)
}

func ErrorInvalidPageIndex(index int) error {
	return fmt.Errorf("%w: %d", ErrInvalidPageIndex, index)
}
