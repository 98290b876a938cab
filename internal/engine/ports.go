package engine

import (
	"context"
	"errors"

	"usrtaskmgt/internal/domain"
)

// ErrTaskNotFound is returned (or matched through errors.Is) by a
// WorkflowClient when the engine does not know the task id.
var ErrTaskNotFound = errors.New("task not found")

// WorkflowClient is the workflow engine's task API.
type WorkflowClient interface {
	ListTasks(ctx context.Context, q domain.TaskQuery, page domain.Page) ([]domain.Task, error)
	CountTasks(ctx context.Context, q domain.TaskQuery) (int64, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ClaimTask(ctx context.Context, id, userID string) error
	CompleteTask(ctx context.Context, id string) (domain.CompletedTask, error)
}

// HistoryClient lists finished tasks.
type HistoryClient interface {
	ListHistoryTasks(ctx context.Context, q domain.HistoryQuery, page domain.Page) ([]domain.HistoryTask, error)
}

// FormValidation is the outcome of validating form data against a schema.
type FormValidation struct {
	Valid  bool
	Errors []domain.FieldError
}

type FormValidator interface {
	Validate(ctx context.Context, formKey string, data domain.Fields) (FormValidation, error)
}

// Verification is the outcome of a signature check. Error is set when Valid
// is false.
type Verification struct {
	Valid bool
	Error domain.SignatureError
}

// SignatureVerifier checks a signature over serialized form data.
type SignatureVerifier interface {
	VerifyOfficer(ctx context.Context, signature, data string) (Verification, error)
	VerifyCitizen(ctx context.Context, allowed []domain.SubjectKind, signature, data string) (Verification, error)
}

// FormDataStore stages form data by (taskDefinitionKey, processInstanceID).
// GetFormData reports absence with ok=false and a nil error.
type FormDataStore interface {
	GetFormData(ctx context.Context, taskDefinitionKey, processInstanceID string) (fd domain.FormData, ok bool, err error)
	PutFormData(ctx context.Context, taskDefinitionKey, processInstanceID string, fd domain.FormData) error
	DeleteByProcessInstanceID(ctx context.Context, processInstanceID string) error
}
