package jobs

import (
	"errors"
	"fmt"

	"orca/internal/status"
)

var (
	ErrJobNotFound        = errors.New("reconciliation job not found")
	ErrInvalidJobCursor   = errors.New("invalid job cursor")
	ErrInvalidTimestamp   = errors.New("invalid inventory creation timestamp")
	ErrMissingSource      = errors.New("report source is required")
	ErrStagingImport      = errors.New("failed to stage inventory")
	ErrJobClaimInProgress = errors.New("job creation for this inventory is already in progress")
	ErrJobAlreadyStarted  = errors.New("job for this inventory has already moved on")
)

func ErrorJobNotFound(id int64) error {
	return fmt.Errorf("%w: id=%d", ErrJobNotFound, id)
}

func ErrorInvalidJobCursor(id int64) error {
	return fmt.Errorf("%w: id=%d", ErrInvalidJobCursor, id)
}

func ErrorInvalidTimestamp(ts float64) error {
	return fmt.Errorf("%w: %v", ErrInvalidTimestamp, ts)
}

func ErrorStagingImport(jobID int64, cause error) error {
	return fmt.Errorf("%w: job=%d: %w", ErrStagingImport, jobID, cause)
}

func ErrorJobClaimInProgress(reportSource string, ts float64) error {
	return fmt.Errorf("%w: source=%s creationTimestamp=%v", ErrJobClaimInProgress, reportSource, ts)
}

func ErrorJobAlreadyStarted(id int64, s status.OrcaStatus) error {
	return fmt.Errorf("%w: id=%d status=%s", ErrJobAlreadyStarted, id, s)
}
