package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"usrtaskmgt/internal/domain"
)

// Engine sequences collaborator calls for user task operations. It holds no
// task state of its own; the workflow engine is the single source of truth.
type Engine struct {
	Tasks      WorkflowClient
	History    HistoryClient
	Signatures SignatureVerifier
	Forms      FormValidator
	Store      FormDataStore
	Logger     *zap.Logger
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// assignedTo builds the "mine or nobody's" predicate used by list and count.
func assignedTo(processInstanceID string, id domain.Identity) domain.TaskQuery {
	return domain.TaskQuery{
		ProcessInstanceID: processInstanceID,
		OrQueries: []domain.TaskQuery{{
			Assignee:   id.Name,
			Unassigned: true,
		}},
	}
}

// ListTasks returns the tasks visible to the caller: assigned to them or
// unassigned, optionally narrowed to one process instance.
func (e Engine) ListTasks(ctx context.Context, processInstanceID string, page domain.Page, id domain.Identity) ([]domain.Task, error) {
	e.logger().Info("listing tasks", zap.String("user", id.Name), zap.String("processInstanceId", processInstanceID))
	tasks, err := e.Tasks.ListTasks(ctx, assignedTo(processInstanceID, id), page)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	e.logger().Debug("tasks listed", zap.Int("count", len(tasks)))
	return tasks, nil
}

// CountTasks counts what ListTasks would return without paging.
func (e Engine) CountTasks(ctx context.Context, processInstanceID string, id domain.Identity) (int64, error) {
	e.logger().Info("counting tasks", zap.String("user", id.Name), zap.String("processInstanceId", processInstanceID))
	n, err := e.Tasks.CountTasks(ctx, assignedTo(processInstanceID, id))
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// GetTask returns a task assigned to the caller with its staged form data.
func (e Engine) GetTask(ctx context.Context, taskID string, id domain.Identity) (domain.SignableTask, error) {
	log := e.logger().With(zap.String("taskId", taskID), zap.String("user", id.Name))
	log.Info("getting task")
	task, err := e.fetch(ctx, taskID, func(cause error) error {
		return TaskNotExistsError{TaskID: taskID, Cause: cause}
	})
	if err != nil {
		return domain.SignableTask{}, err
	}
	if err := authorize(taskID, task, id); err != nil {
		return domain.SignableTask{}, err
	}
	log.Debug("task authorized")

	out := domain.SignableTask{Task: task}
	fd, ok, err := e.Store.GetFormData(ctx, task.TaskDefinitionKey, task.ProcessInstanceID)
	switch {
	case err != nil:
		log.Warn("form data unavailable, returning task without data", zap.Error(err))
	case ok:
		out.Data = fd.Data
	default:
		log.Debug("no staged form data")
	}
	return out, nil
}

// ClaimTask assigns the task to the caller. Reclaiming one's own task calls
// the workflow engine again and succeeds.
func (e Engine) ClaimTask(ctx context.Context, taskID string, id domain.Identity) error {
	log := e.logger().With(zap.String("taskId", taskID), zap.String("user", id.Name))
	log.Info("claiming task")
	task, err := e.fetch(ctx, taskID, func(cause error) error {
		return TaskNotExistsOrCompletedError{TaskID: taskID, Cause: cause}
	})
	if err != nil {
		return err
	}
	// Advisory only; the workflow engine decides concurrent claims.
	if !task.Unassigned() && task.Assignee != id.Name {
		return TaskAlreadyAssignedError{TaskID: taskID, TaskName: task.Name}
	}
	if err := e.Tasks.ClaimTask(ctx, taskID, id.Name); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return TaskNotExistsOrCompletedError{TaskID: taskID, Cause: err}
		}
		return fmt.Errorf("claim task %s: %w", taskID, err)
	}
	log.Debug("task claimed")
	return nil
}

// CompleteTask validates and stores the form data, then completes the task.
func (e Engine) CompleteTask(ctx context.Context, taskID string, fd domain.FormData, id domain.Identity) (domain.CompletedTask, error) {
	return e.completeTask(ctx, taskID, fd, id, noSignature)
}

// SignOfficerForm is CompleteTask with an officer signature check.
func (e Engine) SignOfficerForm(ctx context.Context, taskID string, fd domain.FormData, id domain.Identity) (domain.CompletedTask, error) {
	return e.completeTask(ctx, taskID, fd, id, officerSignature)
}

// SignCitizenForm is CompleteTask with a citizen signature check restricted to
// the task's signature validation pack.
func (e Engine) SignCitizenForm(ctx context.Context, taskID string, fd domain.FormData, id domain.Identity) (domain.CompletedTask, error) {
	return e.completeTask(ctx, taskID, fd, id, citizenSignature)
}

// SaveFormData stores a draft without verifying signatures or completing.
func (e Engine) SaveFormData(ctx context.Context, taskID string, fd domain.FormData, id domain.Identity) error {
	log := e.logger().With(zap.String("taskId", taskID), zap.String("user", id.Name))
	log.Info("saving form data")
	task, err := e.prepare(ctx, taskID, fd, id)
	if err != nil {
		return err
	}
	if err := e.persist(ctx, task, fd, id); err != nil {
		return err
	}
	log.Debug("form data saved")
	return nil
}

// ListHistoryTasks returns finished tasks the caller was assigned to.
func (e Engine) ListHistoryTasks(ctx context.Context, page domain.Page, id domain.Identity) ([]domain.HistoryTask, error) {
	e.logger().Info("listing history tasks", zap.String("user", id.Name))
	tasks, err := e.History.ListHistoryTasks(ctx, domain.HistoryQuery{Assignee: id.Name, Finished: true}, page)
	if err != nil {
		return nil, fmt.Errorf("list history tasks: %w", err)
	}
	return tasks, nil
}

// DeleteFormData removes every staged form of one process instance.
func (e Engine) DeleteFormData(ctx context.Context, processInstanceID string) error {
	if processInstanceID == "" {
		return errors.New("process instance id required")
	}
	e.logger().Info("deleting form data", zap.String("processInstanceId", processInstanceID))
	if err := e.Store.DeleteByProcessInstanceID(ctx, processInstanceID); err != nil {
		return fmt.Errorf("delete form data of %s: %w", processInstanceID, err)
	}
	return nil
}

type signatureStep int

const (
	noSignature signatureStep = iota
	officerSignature
	citizenSignature
)

func (s signatureStep) String() string {
	switch s {
	case officerSignature:
		return "officer"
	case citizenSignature:
		return "citizen"
	default:
		return "none"
	}
}

func (e Engine) completeTask(ctx context.Context, taskID string, fd domain.FormData, id domain.Identity, step signatureStep) (domain.CompletedTask, error) {
	log := e.logger().With(zap.String("taskId", taskID), zap.String("user", id.Name), zap.Stringer("signature", step))
	log.Info("completing task")
	task, err := e.prepare(ctx, taskID, fd, id)
	if err != nil {
		return domain.CompletedTask{}, err
	}
	if err := e.verify(ctx, task, fd, step); err != nil {
		return domain.CompletedTask{}, err
	}
	if err := e.persist(ctx, task, fd, id); err != nil {
		return domain.CompletedTask{}, err
	}
	// A task completed concurrently by someone else surfaces as a plain error.
	res, err := e.Tasks.CompleteTask(ctx, taskID)
	if err != nil {
		return domain.CompletedTask{}, fmt.Errorf("complete task %s: %w", taskID, err)
	}
	log.Info("task completed", zap.Bool("rootProcessInstanceEnded", res.RootProcessInstanceEnded))
	return res, nil
}

// prepare runs the fetch, assignee and form validation gates shared by
// completion and draft save.
func (e Engine) prepare(ctx context.Context, taskID string, fd domain.FormData, id domain.Identity) (domain.Task, error) {
	task, err := e.fetch(ctx, taskID, func(cause error) error {
		return TaskNotExistsError{TaskID: taskID, Cause: cause}
	})
	if err != nil {
		return domain.Task{}, err
	}
	if err := authorize(taskID, task, id); err != nil {
		return domain.Task{}, err
	}
	res, err := e.Forms.Validate(ctx, task.FormKey, fd.Data)
	if err != nil {
		return domain.Task{}, fmt.Errorf("validate form %s: %w", task.FormKey, err)
	}
	if !res.Valid {
		return domain.Task{}, FormValidationError{FormKey: task.FormKey, Errors: res.Errors}
	}
	e.logger().Debug("form data valid", zap.String("taskId", taskID), zap.String("formKey", task.FormKey))
	return task, nil
}

func (e Engine) verify(ctx context.Context, task domain.Task, fd domain.FormData, step signatureStep) error {
	var (
		res Verification
		err error
	)
	data := fd.Data.String()
	switch step {
	case noSignature:
		return nil
	case officerSignature:
		res, err = e.Signatures.VerifyOfficer(ctx, fd.Signature, data)
	case citizenSignature:
		res, err = e.Signatures.VerifyCitizen(ctx, domain.AllowedSubjects(task.SignatureValidationPack), fd.Signature, data)
	default:
		return fmt.Errorf("unknown signature step %d", step)
	}
	if err != nil {
		return fmt.Errorf("verify %s signature: %w", step, err)
	}
	if !res.Valid {
		return SignatureValidationError{Detail: res.Error}
	}
	e.logger().Debug("signature valid", zap.String("taskId", task.ID), zap.Stringer("signature", step))
	return nil
}

func (e Engine) persist(ctx context.Context, task domain.Task, fd domain.FormData, id domain.Identity) error {
	fd.AccessToken = id.Credential
	if err := e.Store.PutFormData(ctx, task.TaskDefinitionKey, task.ProcessInstanceID, fd); err != nil {
		return fmt.Errorf("store form data of task %s: %w", task.ID, err)
	}
	return nil
}

func (e Engine) fetch(ctx context.Context, taskID string, notFound func(error) error) (domain.Task, error) {
	task, err := e.Tasks.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return domain.Task{}, notFound(err)
		}
		return domain.Task{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

func authorize(taskID string, task domain.Task, id domain.Identity) error {
	if task.Unassigned() || task.Assignee != id.Name {
		return TaskAuthorizationError{TaskID: taskID, User: id.Name}
	}
	return nil
}
