package domain

import "time"

// Identity is the authenticated caller of a single request.
type Identity struct {
	Name       string
	Credential string
	Roles      []string
}

// HasRole reports whether the identity carries role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Task struct {
	ID                      string         `json:"id"`
	TaskDefinitionKey       string         `json:"taskDefinitionKey"`
	Name                    string         `json:"name"`
	Assignee                string         `json:"assignee,omitempty"`
	Created                 time.Time      `json:"created" format:"date-time"`
	Description             string         `json:"description,omitempty"`
	ProcessInstanceID       string         `json:"processInstanceId"`
	RootProcessInstanceID   string         `json:"rootProcessInstanceId,omitempty"`
	ProcessDefinitionID     string         `json:"processDefinitionId"`
	ProcessDefinitionName   string         `json:"processDefinitionName,omitempty"`
	FormKey                 string         `json:"formKey,omitempty"`
	ESign                   bool           `json:"eSign"`
	Suspended               bool           `json:"suspended"`
	FormVariables           map[string]any `json:"formVariables,omitempty"`
	SignatureValidationPack []SubjectKind  `json:"signatureValidationPack,omitempty"`
}

// Unassigned reports whether nobody has claimed the task.
func (t Task) Unassigned() bool {
	return t.Assignee == ""
}

// SignableTask is a task together with its pre-populated form data.
type SignableTask struct {
	Task
	Data Fields `json:"data"`
}

type FormData struct {
	Data        Fields `json:"data"`
	Signature   string `json:"signature,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

type VariableValue struct {
	Type      string         `json:"type,omitempty"`
	Value     any            `json:"value"`
	ValueInfo map[string]any `json:"valueInfo,omitempty"`
}

type CompletedTask struct {
	ID                       string                   `json:"id"`
	ProcessInstanceID        string                   `json:"processInstanceId"`
	RootProcessInstanceID    string                   `json:"rootProcessInstanceId,omitempty"`
	RootProcessInstanceEnded bool                     `json:"rootProcessInstanceEnded"`
	Variables                map[string]VariableValue `json:"variables,omitempty"`
}

type HistoryTask struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Assignee              string     `json:"assignee,omitempty"`
	StartTime             time.Time  `json:"startTime" format:"date-time"`
	EndTime               *time.Time `json:"endTime,omitempty" format:"date-time"`
	Description           string     `json:"description,omitempty"`
	ProcessDefinitionName string     `json:"processDefinitionName,omitempty"`
	ProcessInstanceID     string     `json:"processInstanceId"`
	ProcessDefinitionID   string     `json:"processDefinitionId"`
}

// Page holds paging and sorting parameters. Zero values mean "engine default".
type Page struct {
	FirstResult int
	MaxResults  int
	SortBy      string
	SortOrder   string
}

// TaskQuery is a predicate evaluated by the workflow engine. Criteria inside a
// single element of OrQueries are combined with OR; everything else with AND.
type TaskQuery struct {
	ProcessInstanceID string
	Assignee          string
	Unassigned        bool
	OrQueries         []TaskQuery
}

type HistoryQuery struct {
	Assignee string
	Finished bool
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

type SignatureError struct {
	Code             string `json:"code,omitempty"`
	Message          string `json:"message,omitempty"`
	LocalizedMessage string `json:"localizedMessage,omitempty"`
}
