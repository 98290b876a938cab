package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"usrtaskmgt/internal/domain"
	"usrtaskmgt/internal/engine/auth"
)

type pageQuery struct {
	FirstResult int    `query:"firstResult" minimum:"0" doc:"Index of the first result"`
	MaxResults  int    `query:"maxResults" minimum:"0" doc:"Page size; 0 uses the engine default"`
	SortBy      string `query:"sortBy" doc:"Sort key understood by the workflow engine"`
	SortOrder   string `query:"sortOrder" enum:"asc,desc" doc:"asc or desc"`
}

func (q pageQuery) page() domain.Page {
	return domain.Page{FirstResult: q.FirstResult, MaxResults: q.MaxResults, SortBy: q.SortBy, SortOrder: q.SortOrder}
}

type listInput struct {
	ProcessInstanceID string `query:"processInstanceId" doc:"Only tasks of this process instance"`
	FirstResult       int    `query:"firstResult" minimum:"0" doc:"Index of the first result"`
	MaxResults        int    `query:"maxResults" minimum:"0" doc:"Page size; 0 uses the engine default"`
	SortBy            string `query:"sortBy" doc:"Sort key understood by the workflow engine"`
	SortOrder         string `query:"sortOrder" enum:"asc,desc" doc:"asc or desc"`
}

func (q listInput) page() domain.Page {
	return pageQuery{FirstResult: q.FirstResult, MaxResults: q.MaxResults, SortBy: q.SortBy, SortOrder: q.SortOrder}.page()
}

type taskPath struct {
	ID string `path:"id" doc:"Task id"`
}

type formInput struct {
	ID   string          `path:"id" doc:"Task id"`
	Body FormDataRequest `json:"body"`
}

type completedOutput struct {
	Body CompletedTaskResponse `json:"body"`
}

var taskErrors = []int{
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

var formErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type roleGuard func(domain.Identity) error

func anySystemRole(id domain.Identity) error {
	return auth.RequireAnyRole(id, auth.SystemRoles...)
}

func requireRole(role string) roleGuard {
	return func(id domain.Identity) error { return auth.RequireRole(id, role) }
}

// caller resolves the identity and checks it with guard.
func (h handlers) caller(ctx context.Context, op string, guard roleGuard) (domain.Identity, error) {
	id, se := identityFromContext(ctx)
	if se != nil {
		return domain.Identity{}, se
	}
	if err := guard(id); err != nil {
		return domain.Identity{}, h.handleError(ctx, op, err)
	}
	return id, nil
}

func registerTasks(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/task",
		Summary:     "List tasks assigned to the caller or unassigned",
		Tags:        []string{"task"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *listInput) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		id, err := h.caller(ctx, "list-tasks", anySystemRole)
		if err != nil {
			return nil, err
		}
		items, err := h.engine.ListTasks(ctx, input.ProcessInstanceID, input.page(), id)
		if err != nil {
			return nil, h.handleError(ctx, "list-tasks", err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "count-tasks",
		Method:      http.MethodGet,
		Path:        "/task/count",
		Summary:     "Count tasks visible to the caller",
		Tags:        []string{"task"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ProcessInstanceID string `query:"processInstanceId" doc:"Only tasks of this process instance"`
	}) (*struct {
		Body CountResponse `json:"body"`
	}, error) {
		id, err := h.caller(ctx, "count-tasks", anySystemRole)
		if err != nil {
			return nil, err
		}
		n, err := h.engine.CountTasks(ctx, input.ProcessInstanceID, id)
		if err != nil {
			return nil, h.handleError(ctx, "count-tasks", err)
		}
		return &struct {
			Body CountResponse `json:"body"`
		}{Body: CountResponse{Count: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/task/{id}",
		Summary:     "Get a task with its staged form data",
		Tags:        []string{"task"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body SignableTaskResponse `json:"body"`
	}, error) {
		id, err := h.caller(ctx, "get-task", anySystemRole)
		if err != nil {
			return nil, err
		}
		task, err := h.engine.GetTask(ctx, input.ID, id)
		if err != nil {
			return nil, h.handleError(ctx, "get-task", err)
		}
		return &struct {
			Body SignableTaskResponse `json:"body"`
		}{Body: SignableTaskResponse{TaskResponse: taskResponse(task.Task), Data: jsonObject(task.Data)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "claim-task",
		Method:        http.MethodPost,
		Path:          "/task/{id}/claim",
		Summary:       "Claim a task for the caller",
		Tags:          []string{"task"},
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		id, err := h.caller(ctx, "claim-task", anySystemRole)
		if err != nil {
			return nil, err
		}
		if err := h.engine.ClaimTask(ctx, input.ID, id); err != nil {
			return nil, h.handleError(ctx, "claim-task", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/task/{id}/complete",
		Summary:     "Validate, store and complete a task",
		Tags:        []string{"task"},
		Errors:      formErrors,
	}, func(ctx context.Context, input *formInput) (*completedOutput, error) {
		id, err := h.caller(ctx, "complete-task", anySystemRole)
		if err != nil {
			return nil, err
		}
		res, err := h.engine.CompleteTask(ctx, input.ID, input.Body.formData(), id)
		if err != nil {
			return nil, h.handleError(ctx, "complete-task", err)
		}
		return &completedOutput{Body: completedResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "save-task-form",
		Method:        http.MethodPost,
		Path:          "/task/{id}/save",
		Summary:       "Validate and store a form draft",
		Tags:          []string{"task"},
		DefaultStatus: http.StatusNoContent,
		Errors:        formErrors,
	}, func(ctx context.Context, input *formInput) (*struct{}, error) {
		id, err := h.caller(ctx, "save-task-form", anySystemRole)
		if err != nil {
			return nil, err
		}
		if err := h.engine.SaveFormData(ctx, input.ID, input.Body.formData(), id); err != nil {
			return nil, h.handleError(ctx, "save-task-form", err)
		}
		return &struct{}{}, nil
	})
}

func registerSignForms(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "officer-sign-form",
		Method:      http.MethodPost,
		Path:        "/officer/task/{id}/sign-form",
		Summary:     "Complete a task with an officer signature",
		Tags:        []string{"signature"},
		Errors:      formErrors,
	}, func(ctx context.Context, input *formInput) (*completedOutput, error) {
		id, err := h.caller(ctx, "officer-sign-form", requireRole(auth.RoleOfficer))
		if err != nil {
			return nil, err
		}
		res, err := h.engine.SignOfficerForm(ctx, input.ID, input.Body.formData(), id)
		if err != nil {
			return nil, h.handleError(ctx, "officer-sign-form", err)
		}
		return &completedOutput{Body: completedResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "citizen-sign-form",
		Method:      http.MethodPost,
		Path:        "/citizen/task/{id}/sign-form",
		Summary:     "Complete a task with a citizen signature",
		Tags:        []string{"signature"},
		Errors:      formErrors,
	}, func(ctx context.Context, input *formInput) (*completedOutput, error) {
		id, err := h.caller(ctx, "citizen-sign-form", requireRole(auth.RoleCitizen))
		if err != nil {
			return nil, err
		}
		res, err := h.engine.SignCitizenForm(ctx, input.ID, input.Body.formData(), id)
		if err != nil {
			return nil, h.handleError(ctx, "citizen-sign-form", err)
		}
		return &completedOutput{Body: completedResponse(res)}, nil
	})
}

func registerHistory(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history-tasks",
		Method:      http.MethodGet,
		Path:        "/history/task",
		Summary:     "List finished tasks the caller worked on",
		Tags:        []string{"history"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *pageQuery) (*struct {
		Body []HistoryTaskResponse `json:"body"`
	}, error) {
		id, err := h.caller(ctx, "list-history-tasks", anySystemRole)
		if err != nil {
			return nil, err
		}
		items, err := h.engine.ListHistoryTasks(ctx, input.page(), id)
		if err != nil {
			return nil, h.handleError(ctx, "list-history-tasks", err)
		}
		return &struct {
			Body []HistoryTaskResponse `json:"body"`
		}{Body: mapHistory(items)}, nil
	})
}
