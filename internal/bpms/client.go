// Package bpms talks to the workflow engine's REST API.
package bpms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"usrtaskmgt/internal/domain"
	"usrtaskmgt/internal/engine"
	"usrtaskmgt/internal/remote"
)

// Client implements engine.WorkflowClient and engine.HistoryClient.
type Client struct {
	HTTP   *remote.Client
	Logger *zap.Logger
}

var (
	_ engine.WorkflowClient = Client{}
	_ engine.HistoryClient  = Client{}
)

func (c Client) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func (c Client) ListTasks(ctx context.Context, q domain.TaskQuery, page domain.Page) ([]domain.Task, error) {
	body := encodeQuery(q)
	if page.SortBy != "" || page.SortOrder != "" {
		body.Sorting = []sorting{{SortBy: page.SortBy, SortOrder: page.SortOrder}}
	}
	var dtos []taskDTO
	if err := c.HTTP.Do(ctx, http.MethodPost, "api/extended/task", pageQuery(page), body, &dtos); err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(dtos))
	for _, d := range dtos {
		tasks = append(tasks, d.toDomain())
	}
	c.logger().Debug("bpms tasks fetched", zap.Int("count", len(tasks)))
	c.enrichTasks(ctx, tasks)
	return tasks, nil
}

func (c Client) CountTasks(ctx context.Context, q domain.TaskQuery) (int64, error) {
	var out countDTO
	if err := c.HTTP.Do(ctx, http.MethodPost, "api/task/count", nil, encodeQuery(q), &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var d taskDTO
	if err := c.HTTP.Do(ctx, http.MethodGet, "api/extended/task/"+url.PathEscape(id), nil, nil, &d); err != nil {
		return domain.Task{}, notFound(err)
	}
	return d.toDomain(), nil
}

func (c Client) ClaimTask(ctx context.Context, id, userID string) error {
	err := c.HTTP.Do(ctx, http.MethodPost, "api/task/"+url.PathEscape(id)+"/claim", nil, claimDTO{UserID: userID}, nil)
	return notFound(err)
}

func (c Client) CompleteTask(ctx context.Context, id string) (domain.CompletedTask, error) {
	var out domain.CompletedTask
	err := c.HTTP.Do(ctx, http.MethodPost, "api/extended/task/"+url.PathEscape(id)+"/complete", nil, struct{}{}, &out)
	if err != nil {
		return domain.CompletedTask{}, notFound(err)
	}
	return out, nil
}

func (c Client) ListHistoryTasks(ctx context.Context, q domain.HistoryQuery, page domain.Page) ([]domain.HistoryTask, error) {
	body := historyQuery{
		TaskAssignee: q.Assignee,
		Finished:     q.Finished,
		SortBy:       page.SortBy,
		SortOrder:    page.SortOrder,
	}
	var dtos []historyTaskDTO
	if err := c.HTTP.Do(ctx, http.MethodPost, "api/extended/history/task", pageQuery(page), body, &dtos); err != nil {
		return nil, err
	}
	out := make([]domain.HistoryTask, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	c.enrichHistory(ctx, out)
	return out, nil
}

// ProcessDefinitionNames maps process definition ids to display names.
func (c Client) ProcessDefinitionNames(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	var dtos []processDefinitionDTO
	q := url.Values{"processDefinitionIdIn": {strings.Join(ids, ",")}}
	if err := c.HTTP.Do(ctx, http.MethodGet, "api/process-definition", q, nil, &dtos); err != nil {
		return nil, err
	}
	names := make(map[string]string, len(dtos))
	for _, d := range dtos {
		names[d.ID] = d.Name
	}
	return names, nil
}

func (c Client) enrichTasks(ctx context.Context, tasks []domain.Task) {
	var ids []string
	for _, t := range tasks {
		if t.ProcessDefinitionName == "" && t.ProcessDefinitionID != "" {
			ids = append(ids, t.ProcessDefinitionID)
		}
	}
	names := c.names(ctx, ids)
	for i := range tasks {
		if n, ok := names[tasks[i].ProcessDefinitionID]; ok && tasks[i].ProcessDefinitionName == "" {
			tasks[i].ProcessDefinitionName = n
		}
	}
}

func (c Client) enrichHistory(ctx context.Context, tasks []domain.HistoryTask) {
	var ids []string
	for _, t := range tasks {
		if t.ProcessDefinitionName == "" && t.ProcessDefinitionID != "" {
			ids = append(ids, t.ProcessDefinitionID)
		}
	}
	names := c.names(ctx, ids)
	for i := range tasks {
		if n, ok := names[tasks[i].ProcessDefinitionID]; ok && tasks[i].ProcessDefinitionName == "" {
			tasks[i].ProcessDefinitionName = n
		}
	}
}

// names looks up display names; failures only cost the enrichment.
func (c Client) names(ctx context.Context, ids []string) map[string]string {
	ids = distinct(ids)
	if len(ids) == 0 {
		return nil
	}
	names, err := c.ProcessDefinitionNames(ctx, ids)
	if err != nil {
		c.logger().Warn("process definition names unavailable", zap.Strings("ids", ids), zap.Error(err))
		return nil
	}
	return names
}

func distinct(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func pageQuery(page domain.Page) url.Values {
	q := url.Values{}
	if page.FirstResult > 0 {
		q.Set("firstResult", strconv.Itoa(page.FirstResult))
	}
	if page.MaxResults > 0 {
		q.Set("maxResults", strconv.Itoa(page.MaxResults))
	}
	return q
}

// notFound marks 404 replies as engine.ErrTaskNotFound while keeping the
// transport error in the chain.
func notFound(err error) error {
	if err == nil {
		return nil
	}
	if remote.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %w", engine.ErrTaskNotFound, err)
	}
	return err
}
