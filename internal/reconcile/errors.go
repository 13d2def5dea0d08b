package reconcile

import (
	"errors"
	"fmt"
)

var ErrReportSourceMismatch = errors.New("report source does not match job")

func ErrorReportSourceMismatch(jobID int64, requested, stored string) error {
	return fmt.Errorf("%w: job=%d requested=%s stored=%s", ErrReportSourceMismatch, jobID, requested, stored)
}
