package v1

import (
	"errors"
	"fmt"
	"strings"

	"servicecatalog-cron/models"
)

var (
	ErrValidation              = errors.New("validation error")
	ErrExecution               = errors.New("execution error")
	ErrDelivery                = errors.New("delivery error")
	ErrClassificationAmbiguity = errors.New("classification ambiguity: policy has no success exit codes")
	ErrPolicyDisabled          = errors.New("health check policy is disabled")
	ErrNoUpcomingRun           = errors.New("schedule has no upcoming run")
	ErrScriptNotApproved       = errors.New("script is not approved")
	ErrNotFound                = errors.New("not found")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a submission.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return fmt.Sprintf("validation error: %s", strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ExecutionError is an infrastructure failure: the script could not be
// located, approved, or started. It never reaches health accounting.
type ExecutionError struct {
	EnrollmentID string
	Reason       string
	Err          error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution error for enrollment %s: %s: %v", e.EnrollmentID, e.Reason, e.Err)
	}
	return fmt.Sprintf("execution error for enrollment %s: %s", e.EnrollmentID, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

type DeliveryError struct {
	Channel     models.Channel
	Destination string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery error on %s to %s: %v", e.Channel, e.Destination, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}
