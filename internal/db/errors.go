package db

import (
	"errors"
	"fmt"
)

var (
	ErrOpeningDatabase = errors.New("failed to connect to catalog database")
	ErrNotFound        = errors.New("record not found")
)

func ErrorOpeningDatabase(host string, cause error) error {
	return fmt.Errorf("%w: host=%s cause=%v", ErrOpeningDatabase, host, cause)
}

func ErrorNotFound(what string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
}
