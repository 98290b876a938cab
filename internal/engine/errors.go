package engine

import (
	"fmt"

	"usrtaskmgt/internal/domain"
)

// TaskNotExistsError is returned when a task read finds nothing.
type TaskNotExistsError struct {
	TaskID string
	Cause  error
}

func (e TaskNotExistsError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

func (e TaskNotExistsError) Unwrap() error { return e.Cause }

// TaskNotExistsOrCompletedError is the claim-time variant of
// TaskNotExistsError: a missing task may never have existed or may already be
// completed.
type TaskNotExistsOrCompletedError struct {
	TaskID string
	Cause  error
}

func (e TaskNotExistsOrCompletedError) Error() string {
	return fmt.Sprintf("task %s does not exist or is already completed", e.TaskID)
}

func (e TaskNotExistsOrCompletedError) Unwrap() error { return e.Cause }

// TaskAlreadyAssignedError is returned when claiming a task bound to another
// user.
type TaskAlreadyAssignedError struct {
	TaskID   string
	TaskName string
}

func (e TaskAlreadyAssignedError) Error() string {
	return fmt.Sprintf("task %q already assigned", e.TaskName)
}

// TaskAuthorizationError is returned when the caller is not the assignee.
type TaskAuthorizationError struct {
	TaskID string
	User   string
}

func (e TaskAuthorizationError) Error() string {
	return fmt.Sprintf("the user with username %s does not have permission on resource Task with id %s", e.User, e.TaskID)
}

// FormValidationError carries the validator's field errors verbatim.
type FormValidationError struct {
	FormKey string
	Errors  []domain.FieldError
}

func (e FormValidationError) Error() string {
	return fmt.Sprintf("form data does not match form %s (%d errors)", e.FormKey, len(e.Errors))
}

// SignatureValidationError carries the verifier's error verbatim.
type SignatureValidationError struct {
	Detail domain.SignatureError
}

func (e SignatureValidationError) Error() string {
	if e.Detail.LocalizedMessage != "" {
		return e.Detail.LocalizedMessage
	}
	if e.Detail.Message != "" {
		return e.Detail.Message
	}
	return "signature is not valid"
}
