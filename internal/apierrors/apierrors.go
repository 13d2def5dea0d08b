// Package apierrors converts failures at the report read boundary into the
// error envelope returned to callers.
package apierrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"orca/internal/jobs"
	"orca/internal/reports"
)

const (
	TypeBadRequest          = "BadRequest"
	TypeNotFound            = "NotFound"
	TypeInternalServerError = "InternalServerError"
)

var badRequest = []error{
	reports.ErrInvalidCursor,
	reports.ErrInvalidDirection,
	reports.ErrInvalidLimit,
	reports.ErrInvalidJobID,
	reports.ErrInvalidPageIndex,
	jobs.ErrInvalidJobCursor,
}

type Envelope struct {
	ErrorType  string `json:"errorType"`
	HTTPStatus int    `json:"httpStatus"`
	RequestID  string `json:"requestId"`
	Message    string `json:"message"`
}

func (e Envelope) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.ErrorType, e.HTTPStatus, e.Message)
}

// FromError maps err onto an envelope. Request validation failures are 400,
// an unknown job is 404 and everything else is 500.
func FromError(ctx context.Context, err error) Envelope {
	env := Envelope{
		ErrorType:  TypeInternalServerError,
		HTTPStatus: http.StatusInternalServerError,
		RequestID:  RequestID(ctx),
		Message:    err.Error(),
	}

	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs) || isAny(err, badRequest):
		env.ErrorType = TypeBadRequest
		env.HTTPStatus = http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobNotFound):
		env.ErrorType = TypeNotFound
		env.HTTPStatus = http.StatusNotFound
	}
	return env
}

// RequestID is the Lambda request id, or a fresh uuid outside Lambda.
func RequestID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
