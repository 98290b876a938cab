package server

import (
	"time"

	"github.com/danielgtaylor/huma/v2"

	"usrtaskmgt/internal/domain"
)

// jsonObject carries form data through huma as a free-form object while
// keeping key order.
type jsonObject domain.Fields

func (o jsonObject) MarshalJSON() ([]byte, error) {
	return domain.Fields(o).MarshalJSON()
}

func (o *jsonObject) UnmarshalJSON(b []byte) error {
	var f domain.Fields
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	*o = jsonObject(f)
	return nil
}

func (jsonObject) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:                 huma.TypeObject,
		AdditionalProperties: true,
		Description:          "Form data as submitted; key order is preserved.",
	}
}

type FormDataRequest struct {
	Data        jsonObject `json:"data,omitempty"`
	Signature   string     `json:"signature,omitempty" doc:"Detached signature over the serialized data"`
	AccessToken string     `json:"accessToken,omitempty" doc:"Ignored; replaced with the caller token"`
}

func (r FormDataRequest) formData() domain.FormData {
	return domain.FormData{
		Data:        domain.Fields(r.Data),
		Signature:   r.Signature,
		AccessToken: r.AccessToken,
	}
}

type TaskResponse struct {
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

type SignableTaskResponse struct {
	TaskResponse
	Data jsonObject `json:"data"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type VariableResponse struct {
	Type      string         `json:"type,omitempty"`
	Value     any            `json:"value"`
	ValueInfo map[string]any `json:"valueInfo,omitempty"`
}

type CompletedTaskResponse struct {
	ID                       string                      `json:"id"`
	ProcessInstanceID        string                      `json:"processInstanceId"`
	RootProcessInstanceID    string                      `json:"rootProcessInstanceId,omitempty"`
	RootProcessInstanceEnded bool                        `json:"rootProcessInstanceEnded"`
	Variables                map[string]VariableResponse `json:"variables,omitempty"`
}

type HistoryTaskResponse struct {
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

func taskResponse(t domain.Task) TaskResponse {
	out := TaskResponse{
		ID:                    t.ID,
		TaskDefinitionKey:     t.TaskDefinitionKey,
		Name:                  t.Name,
		Assignee:              t.Assignee,
		Created:               t.Created,
		Description:           t.Description,
		ProcessInstanceID:     t.ProcessInstanceID,
		RootProcessInstanceID: t.RootProcessInstanceID,
		ProcessDefinitionID:   t.ProcessDefinitionID,
		ProcessDefinitionName: t.ProcessDefinitionName,
		FormKey:               t.FormKey,
		ESign:                 t.ESign,
		Suspended:             t.Suspended,
		FormVariables:         t.FormVariables,
	}
	for _, k := range t.SignatureValidationPack {
		out.SignatureValidationPack = append(out.SignatureValidationPack, string(k))
	}
	return out
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func completedResponse(c domain.CompletedTask) CompletedTaskResponse {
	out := CompletedTaskResponse{
		ID:                       c.ID,
		ProcessInstanceID:        c.ProcessInstanceID,
		RootProcessInstanceID:    c.RootProcessInstanceID,
		RootProcessInstanceEnded: c.RootProcessInstanceEnded,
	}
	if len(c.Variables) > 0 {
		out.Variables = make(map[string]VariableResponse, len(c.Variables))
		for k, v := range c.Variables {
			out.Variables[k] = VariableResponse{Type: v.Type, Value: v.Value, ValueInfo: v.ValueInfo}
		}
	}
	return out
}

func mapHistory(items []domain.HistoryTask) []HistoryTaskResponse {
	out := make([]HistoryTaskResponse, 0, len(items))
	for _, h := range items {
		out = append(out, HistoryTaskResponse{
			ID:                    h.ID,
			Name:                  h.Name,
			Assignee:              h.Assignee,
			StartTime:             h.StartTime,
			EndTime:               h.EndTime,
			Description:           h.Description,
			ProcessDefinitionName: h.ProcessDefinitionName,
			ProcessInstanceID:     h.ProcessInstanceID,
			ProcessDefinitionID:   h.ProcessDefinitionID,
		})
	}
	return out
}
