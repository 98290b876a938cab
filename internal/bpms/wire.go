package bpms

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"usrtaskmgt/internal/domain"
)

// camundaLayout is the engine's default date format.
const camundaLayout = "2006-01-02T15:04:05.000-0700"

// timestamp accepts both RFC3339 and the engine's default layout.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, camundaLayout, "2006-01-02T15:04:05"} {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("bpms: unrecognised timestamp %q", s)
}

func (t *timestamp) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

type sorting struct {
	SortBy    string `json:"sortBy,omitempty"`
	SortOrder string `json:"sortOrder,omitempty"`
}

type taskQuery struct {
	ProcessInstanceID string      `json:"processInstanceId,omitempty"`
	Assignee          string      `json:"assignee,omitempty"`
	Unassigned        bool        `json:"unassigned,omitempty"`
	OrQueries         []taskQuery `json:"orQueries,omitempty"`
	Sorting           []sorting   `json:"sorting,omitempty"`
}

func encodeQuery(q domain.TaskQuery) taskQuery {
	out := taskQuery{
		ProcessInstanceID: q.ProcessInstanceID,
		Assignee:          q.Assignee,
		Unassigned:        q.Unassigned,
	}
	for _, or := range q.OrQueries {
		out.OrQueries = append(out.OrQueries, encodeQuery(or))
	}
	return out
}

type taskDTO struct {
	ID                      string               `json:"id"`
	TaskDefinitionKey       string               `json:"taskDefinitionKey"`
	Name                    string               `json:"name"`
	Assignee                string               `json:"assignee"`
	Created                 timestamp            `json:"created"`
	Description             string               `json:"description"`
	ProcessInstanceID       string               `json:"processInstanceId"`
	RootProcessInstanceID   string               `json:"rootProcessInstanceId"`
	ProcessDefinitionID     string               `json:"processDefinitionId"`
	ProcessDefinitionName   string               `json:"processDefinitionName"`
	FormKey                 string               `json:"formKey"`
	ESign                   bool                 `json:"eSign"`
	Suspended               bool                 `json:"suspended"`
	FormVariables           map[string]any       `json:"formVariables"`
	SignatureValidationPack []domain.SubjectKind `json:"signatureValidationPack"`
}

func (d taskDTO) toDomain() domain.Task {
	return domain.Task{
		ID:                      d.ID,
		TaskDefinitionKey:       d.TaskDefinitionKey,
		Name:                    d.Name,
		Assignee:                d.Assignee,
		Created:                 d.Created.Time,
		Description:             d.Description,
		ProcessInstanceID:       d.ProcessInstanceID,
		RootProcessInstanceID:   d.RootProcessInstanceID,
		ProcessDefinitionID:     d.ProcessDefinitionID,
		ProcessDefinitionName:   d.ProcessDefinitionName,
		FormKey:                 d.FormKey,
		ESign:                   d.ESign,
		Suspended:               d.Suspended,
		FormVariables:           d.FormVariables,
		SignatureValidationPack: d.SignatureValidationPack,
	}
}

type historyQuery struct {
	TaskAssignee string `json:"taskAssignee,omitempty"`
	Finished     bool   `json:"finished,omitempty"`
	SortBy       string `json:"sortBy,omitempty"`
	SortOrder    string `json:"sortOrder,omitempty"`
}

type historyTaskDTO struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Assignee              string     `json:"assignee"`
	StartTime             timestamp  `json:"startTime"`
	EndTime               *timestamp `json:"endTime"`
	Description           string     `json:"description"`
	ProcessDefinitionName string     `json:"processDefinitionName"`
	ProcessInstanceID     string     `json:"processInstanceId"`
	ProcessDefinitionID   string     `json:"processDefinitionId"`
}

func (d historyTaskDTO) toDomain() domain.HistoryTask {
	return domain.HistoryTask{
		ID:                    d.ID,
		Name:                  d.Name,
		Assignee:              d.Assignee,
		StartTime:             d.StartTime.Time,
		EndTime:               d.EndTime.ptr(),
		Description:           d.Description,
		ProcessDefinitionName: d.ProcessDefinitionName,
		ProcessInstanceID:     d.ProcessInstanceID,
		ProcessDefinitionID:   d.ProcessDefinitionID,
	}
}

type processDefinitionDTO struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type countDTO struct {
	Count int64 `json:"count"`
}

type claimDTO struct {
	UserID string `json:"userId"`
}
