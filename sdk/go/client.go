package usrtaskmgtsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client is a minimal user task management HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/api.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID                      string         `json:"id"`
	TaskDefinitionKey       string         `json:"taskDefinitionKey"`
	Name                    string         `json:"name"`
	Assignee                string         `json:"assignee,omitempty"`
	Created                 time.Time      `json:"created"`
	Description             string         `json:"description,omitempty"`
	ProcessInstanceID       string         `json:"processInstanceId"`
	RootProcessInstanceID   string         `json:"rootProcessInstanceId,omitempty"`
	ProcessDefinitionID     string         `json:"processDefinitionId"`
	ProcessDefinitionName   string         `json:"processDefinitionName,omitempty"`
	FormKey                 string         `json:"formKey,omitempty"`
	ESign                   bool           `json:"eSign"`
	Suspended               bool           `json:"suspended"`
	FormVariables           map[string]any `json:"formVariables,omitempty"`
	SignatureValidationPack []string       `json:"signatureValidationPack,omitempty"`
}

// SignableTask is a task with its staged form data.
type SignableTask struct {
	Task
	Data json.RawMessage `json:"data"`
}

// FormData is the body of complete, save and sign requests.
type FormData struct {
	Data      json.RawMessage `json:"data,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

type Variable struct {
	Type      string         `json:"type,omitempty"`
	Value     any            `json:"value"`
	ValueInfo map[string]any `json:"valueInfo,omitempty"`
}

// CompletedTask is the result of completing or signing a task.
type CompletedTask struct {
	ID                       string              `json:"id"`
	ProcessInstanceID        string              `json:"processInstanceId"`
	RootProcessInstanceID    string              `json:"rootProcessInstanceId,omitempty"`
	RootProcessInstanceEnded bool                `json:"rootProcessInstanceEnded"`
	Variables                map[string]Variable `json:"variables,omitempty"`
}

type HistoryTask struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Assignee              string     `json:"assignee,omitempty"`
	StartTime             time.Time  `json:"startTime"`
	EndTime               *time.Time `json:"endTime,omitempty"`
	Description           string     `json:"description,omitempty"`
	ProcessDefinitionName string     `json:"processDefinitionName,omitempty"`
	ProcessInstanceID     string     `json:"processInstanceId"`
	ProcessDefinitionID   string     `json:"processDefinitionId"`
}

// ListOptions narrows and pages list calls. Zero fields are omitted.
type ListOptions struct {
	ProcessInstanceID string
	FirstResult       int
	MaxResults        int
	SortBy            string
	SortOrder         string
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	if o.ProcessInstanceID != "" {
		q.Set("processInstanceId", o.ProcessInstanceID)
	}
	if o.FirstResult > 0 {
		q.Set("firstResult", strconv.Itoa(o.FirstResult))
	}
	if o.MaxResults > 0 {
		q.Set("maxResults", strconv.Itoa(o.MaxResults))
	}
	if o.SortBy != "" {
		q.Set("sortBy", o.SortBy)
	}
	if o.SortOrder != "" {
		q.Set("sortOrder", o.SortOrder)
	}
	return q
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode       int
	Code             string
	Message          string
	LocalizedMessage string
	TraceID          string
	Body             string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
	}
	msg := e.LocalizedMessage
	if msg == "" {
		msg = e.Message
	}
	return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, msg)
}

func newAPIError(status int, body []byte) *APIError {
	env := gjson.GetBytes(body, "error")
	return &APIError{
		StatusCode:       status,
		Code:             env.Get("code").String(),
		Message:          env.Get("message").String(),
		LocalizedMessage: env.Get("localizedMessage").String(),
		TraceID:          env.Get("traceId").String(),
		Body:             string(body),
	}
}

// ListTasks returns tasks assigned to the caller or unassigned.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, withQuery("task", opts.values()), nil, &resp)
	return resp, err
}

// CountTasks counts tasks visible to the caller.
func (c *Client) CountTasks(ctx context.Context, processInstanceID string) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("task/count", ListOptions{ProcessInstanceID: processInstanceID}.values()), nil, &resp)
	return resp.Count, err
}

// GetTask fetches a task with its staged form data.
func (c *Client) GetTask(ctx context.Context, id string) (SignableTask, error) {
	var resp SignableTask
	err := c.do(ctx, http.MethodGet, "task/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ClaimTask assigns the task to the caller.
func (c *Client) ClaimTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("task/%s/claim", url.PathEscape(id)), nil, nil)
}

// CompleteTask submits form data and completes the task.
func (c *Client) CompleteTask(ctx context.Context, id string, fd FormData) (CompletedTask, error) {
	var resp CompletedTask
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("task/%s/complete", url.PathEscape(id)), fd, &resp)
	return resp, err
}

// SaveFormData stores a draft without completing the task.
func (c *Client) SaveFormData(ctx context.Context, id string, fd FormData) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("task/%s/save", url.PathEscape(id)), fd, nil)
}

// SignOfficerForm completes the task with an officer signature.
func (c *Client) SignOfficerForm(ctx context.Context, id string, fd FormData) (CompletedTask, error) {
	var resp CompletedTask
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("officer/task/%s/sign-form", url.PathEscape(id)), fd, &resp)
	return resp, err
}

// SignCitizenForm completes the task with a citizen signature.
func (c *Client) SignCitizenForm(ctx context.Context, id string, fd FormData) (CompletedTask, error) {
	var resp CompletedTask
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("citizen/task/%s/sign-form", url.PathEscape(id)), fd, &resp)
	return resp, err
}

// History lists finished tasks the caller worked on.
func (c *Client) History(ctx context.Context, opts ListOptions) ([]HistoryTask, error) {
	opts.ProcessInstanceID = ""
	var resp []HistoryTask
	err := c.do(ctx, http.MethodGet, withQuery("history/task", opts.values()), nil, &resp)
	return resp, err
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
