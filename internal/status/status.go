package status

import (
	"fmt"
	"strings"
)

// OrcaStatus is the persisted status of a reconciliation job. The integer
// values are stored in reconcile_job.status_id and must never be renumbered.
type OrcaStatus int

const (
	GettingS3List     OrcaStatus = 1
	Staged            OrcaStatus = 2
	GeneratingReports OrcaStatus = 3
	Error             OrcaStatus = 4
	Success           OrcaStatus = 5
)

var statusNames = map[OrcaStatus]string{
	GettingS3List:     "GETTING_S3_LIST",
	Staged:            "STAGED",
	GeneratingReports: "GENERATING_REPORTS",
	Error:             "ERROR",
	Success:           "SUCCESS",
}

// forward order; both terminal states share the last rank
var rank = map[OrcaStatus]int{
	GettingS3List:     1,
	Staged:            2,
	GeneratingReports: 3,
	Error:             4,
	Success:           4,
}

func (s OrcaStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OrcaStatus(%d)", int(s))
}

func (s OrcaStatus) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether s is one of the absorbing states.
func (s OrcaStatus) IsTerminal() bool {
	return s == Error || s == Success
}

// Parse accepts either the status name (case-insensitive) or its integer value.
func Parse(value string) (OrcaStatus, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	for s, name := range statusNames {
		if name == v || fmt.Sprintf("%d", int(s)) == v {
			return s, nil
		}
	}
	return 0, ErrorUnknownStatus(value)
}

// ValidateErrorMessage enforces that an error message is present iff the
// status is Error.
func ValidateErrorMessage(s OrcaStatus, errorMessage *string) error {
	if !s.IsValid() {
		return ErrorUnknownStatus(s.String())
	}
	hasMessage := errorMessage != nil && *errorMessage != ""
	if s == Error && !hasMessage {
		return ErrErrorMessageRequired
	}
	if s != Error && errorMessage != nil {
		return ErrorErrorMessageForbidden(s)
	}
	return nil
}

// ValidateTransition checks that moving from -> to only goes forward through
// GETTING_S3_LIST, STAGED, GENERATING_REPORTS to SUCCESS or ERROR. Steps may be
// skipped; ERROR and SUCCESS absorb. Re-applying the current state is allowed
// so re-delivered steps are harmless.
func ValidateTransition(from, to OrcaStatus) error {
	if !from.IsValid() {
		return ErrorUnknownStatus(from.String())
	}
	if !to.IsValid() {
		return ErrorUnknownStatus(to.String())
	}
	if from == to {
		return nil
	}
	if from.IsTerminal() || rank[to] <= rank[from] {
		return ErrorInvalidTransition(from, to)
	}
	return nil
}
