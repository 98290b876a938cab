package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"usrtaskmgt/internal/domain"
	"usrtaskmgt/internal/engine"
	"usrtaskmgt/internal/formdata"
)

const testSecret = "test-secret"

type fakeTasks struct {
	mu        sync.Mutex
	tasks     map[string]domain.Task
	completed []string
	queries   []domain.TaskQuery
}

func (f *fakeTasks) ListTasks(_ context.Context, q domain.TaskQuery, _ domain.Page) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []domain.Task
	for _, id := range []string{"t1", "t2", "t3"} {
		t, ok := f.tasks[id]
		if ok && (t.Unassigned() || t.Assignee == q.OrQueries[0].Assignee) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTasks) CountTasks(ctx context.Context, q domain.TaskQuery) (int64, error) {
	items, err := f.ListTasks(ctx, q, domain.Page{})
	return int64(len(items)), err
}

func (f *fakeTasks) GetTask(_ context.Context, id string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, engine.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeTasks) ClaimTask(_ context.Context, id, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return engine.ErrTaskNotFound
	}
	t.Assignee = user
	f.tasks[id] = t
	return nil
}

func (f *fakeTasks) CompleteTask(_ context.Context, id string) (domain.CompletedTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.CompletedTask{}, engine.ErrTaskNotFound
	}
	delete(f.tasks, id)
	f.completed = append(f.completed, id)
	return domain.CompletedTask{ID: id, ProcessInstanceID: t.ProcessInstanceID, RootProcessInstanceEnded: true}, nil
}

func (f *fakeTasks) ListHistoryTasks(_ context.Context, q domain.HistoryQuery, _ domain.Page) ([]domain.HistoryTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.HistoryTask
	for _, id := range f.completed {
		out = append(out, domain.HistoryTask{ID: id, Name: "done", Assignee: q.Assignee, StartTime: time.Unix(0, 0).UTC()})
	}
	return out, nil
}

type fakeForms struct {
	invalid map[string][]domain.FieldError
}

func (f fakeForms) Validate(_ context.Context, formKey string, _ domain.Fields) (engine.FormValidation, error) {
	if errs, ok := f.invalid[formKey]; ok {
		return engine.FormValidation{Errors: errs}, nil
	}
	return engine.FormValidation{Valid: true}, nil
}

type fakeSignatures struct{}

func (fakeSignatures) VerifyOfficer(_ context.Context, sig, _ string) (engine.Verification, error) {
	return verdict(sig), nil
}

func (fakeSignatures) VerifyCitizen(_ context.Context, _ []domain.SubjectKind, sig, _ string) (engine.Verification, error) {
	return verdict(sig), nil
}

func verdict(sig string) engine.Verification {
	if sig == "good" {
		return engine.Verification{Valid: true}
	}
	return engine.Verification{Error: domain.SignatureError{
		Code:             "ERROR_SIGNATURE_INVALID",
		Message:          "signature mismatch",
		LocalizedMessage: "Підпис не валідний",
	}}
}

type testServer struct {
	URL   string
	Tasks *fakeTasks
	Store *formdata.MemoryStore

	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	tasks := &fakeTasks{tasks: map[string]domain.Task{
		"t1": {ID: "t1", Name: "Review", TaskDefinitionKey: "review", ProcessInstanceID: "p1", FormKey: "review-form"},
		"t2": {ID: "t2", Name: "Sign", TaskDefinitionKey: "sign", ProcessInstanceID: "p1", FormKey: "sign-form", Assignee: "alice"},
		"t3": {ID: "t3", Name: "Approve", TaskDefinitionKey: "approve", ProcessInstanceID: "p2", FormKey: "approve-form", Assignee: "bob"},
	}}
	store := formdata.NewMemoryStore()
	e := engine.Engine{
		Tasks:      tasks,
		History:    tasks,
		Signatures: fakeSignatures{},
		Forms: fakeForms{invalid: map[string][]domain.FieldError{
			"approve-form": {{Field: "amount", Message: "required"}},
		}},
		Store: store,
	}
	handler, err := New(Config{Engine: e, BasePath: "/api", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Tasks:  tasks,
		Store:  store,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, user string, roles ...string) map[string]string {
	t.Helper()
	tok, err := SignToken(testSecret, user, roles, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, data)
	}
	return env.Error
}

func TestHealthIsOpenAndTraced(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	if res.Header.Get(TraceHeader) == "" {
		t.Fatalf("expected %s header", TraceHeader)
	}
	const trace = "0b2e8a43-3f5c-4f0b-9d76-1f6d2a5c7e10"
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, map[string]string{TraceHeader: trace})
	if got := res.Header.Get(TraceHeader); got != trace {
		t.Fatalf("trace id not echoed: %s", got)
	}
}

func TestOpenAPIIsServed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), "/api/task/{id}/claim") {
		t.Fatalf("claim route missing from openapi document")
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/task", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, data)
	}
	body := decodeError(t, data)
	if body.Code != "unauthorized" || body.TraceID == "" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/task", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestUnknownRoleIsForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/task", nil, bearer(t, "alice", "auditor"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, data)
	}
	if got := decodeError(t, data).Code; got != "forbidden" {
		t.Fatalf("code %s", got)
	}
}

func TestListAndCountTasks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := bearer(t, "alice", "officer")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/task?processInstanceId=p1&maxResults=10", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var items []TaskResponse
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if diff := cmp.Diff([]string{"t1", "t2"}, ids); diff != "" {
		t.Fatalf("visible tasks (-want +got):\n%s", diff)
	}
	want := domain.TaskQuery{ProcessInstanceID: "p1", OrQueries: []domain.TaskQuery{{Assignee: "alice", Unassigned: true}}}
	if diff := cmp.Diff(want, srv.Tasks.queries[0]); diff != "" {
		t.Fatalf("query (-want +got):\n%s", diff)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/task/count", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("count status %d: %s", res.StatusCode, data)
	}
	var count CountResponse
	if err := json.Unmarshal(data, &count); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if count.Count != 2 {
		t.Fatalf("count %d", count.Count)
	}
}

func TestGetTaskReturnsStagedData(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	staged := domain.FormData{Data: domain.MustFields(`{"zeta":1,"alpha":"x"}`)}
	if err := srv.Store.PutFormData(context.Background(), "sign", "p1", staged); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/task/t2", nil, bearer(t, "alice", "citizen"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), `"data":{"zeta":1,"alpha":"x"}`) {
		t.Fatalf("data missing or reordered: %s", data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/task/t3", nil, bearer(t, "alice", "citizen"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign task, got %d: %s", res.StatusCode, data)
	}
	if got := decodeError(t, data).Code; got != "task_authorization_error" {
		t.Fatalf("code %s", got)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/task/missing", nil, bearer(t, "alice", "citizen"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, data)
	}
	body := decodeError(t, data)
	if body.Code != "task_not_found" || body.LocalizedMessage != "Task with id missing does not exist" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
}

func TestClaimTask(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := bearer(t, "alice", "officer")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/task/t1/claim", nil, auth)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("claim status %d: %s", res.StatusCode, data)
	}
	if got := srv.Tasks.tasks["t1"].Assignee; got != "alice" {
		t.Fatalf("assignee %q", got)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/task/t3/claim", nil, auth)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, data)
	}
	body := decodeError(t, data)
	if body.Code != "task_already_assigned" || !strings.Contains(body.LocalizedMessage, `"Approve"`) {
		t.Fatalf("unexpected envelope: %+v", body)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/task/gone/claim", nil, auth)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, data)
	}
	if got := decodeError(t, data).Code; got != "task_not_exists_or_completed" {
		t.Fatalf("code %s", got)
	}
}

func TestCompleteTaskStoresDataWithCallerToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := bearer(t, "alice", "officer")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/task/t2/complete",
		`{"data":{"b":2,"a":1},"accessToken":"forged"}`, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, data)
	}
	var done CompletedTaskResponse
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal completed: %v", err)
	}
	if diff := cmp.Diff(CompletedTaskResponse{ID: "t2", ProcessInstanceID: "p1", RootProcessInstanceEnded: true}, done); diff != "" {
		t.Fatalf("completed (-want +got):\n%s", diff)
	}
	fd, ok, err := srv.Store.GetFormData(context.Background(), "sign", "p1")
	if err != nil || !ok {
		t.Fatalf("stored form data: ok=%v err=%v", ok, err)
	}
	if got := fd.Data.String(); got != `{"b":2,"a":1}` {
		t.Fatalf("stored data %s", got)
	}
	if fd.AccessToken == "forged" || !strings.HasSuffix(auth["Authorization"], fd.AccessToken) {
		t.Fatalf("access token not replaced with caller credential")
	}
}

func TestSaveDraftDoesNotComplete(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/task/t2/save",
		map[string]any{"data": map[string]any{"note": "later"}}, bearer(t, "alice", "citizen"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("save status %d: %s", res.StatusCode, data)
	}
	if len(srv.Tasks.completed) != 0 {
		t.Fatalf("save completed a task")
	}
	if _, ok, _ := srv.Store.GetFormData(context.Background(), "sign", "p1"); !ok {
		t.Fatalf("draft not stored")
	}
}

func TestFormValidationFailure(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/task/t3/complete",
		map[string]any{"data": map[string]any{}}, bearer(t, "bob", "officer"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, data)
	}
	body := decodeError(t, data)
	if body.Code != "validation_failed" {
		t.Fatalf("code %s", body.Code)
	}
	errs, _ := body.Details["errors"].([]any)
	if len(errs) != 1 {
		t.Fatalf("details %+v", body.Details)
	}
}

func TestOfficerSignRequiresOfficerRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/officer/task/t2/sign-form",
		map[string]any{"data": map[string]any{"a": 1}, "signature": "good"}, bearer(t, "alice", "citizen"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, data)
	}
	body := decodeError(t, data)
	if body.Code != "forbidden" || body.Details["role"] != "officer" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	if len(srv.Tasks.completed) != 0 {
		t.Fatalf("task completed without role")
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/citizen/task/t2/sign-form",
		map[string]any{"data": map[string]any{"a": 1}, "signature": "good"}, bearer(t, "alice", "officer"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for officer on citizen route, got %d: %s", res.StatusCode, data)
	}
	if got := decodeError(t, data).Details["role"]; got != "citizen" {
		t.Fatalf("role detail %v", got)
	}
}

func TestInvalidSignatureIsUnprocessable(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/citizen/task/t2/sign-form",
		map[string]any{"data": map[string]any{"a": 1}, "signature": "forged"}, bearer(t, "alice", "citizen"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, data)
	}
	body := decodeError(t, data)
	if body.Code != "ERROR_SIGNATURE_INVALID" || body.LocalizedMessage != "Підпис не валідний" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	errs, _ := body.Details["errors"].([]any)
	first, _ := errs[0].(map[string]any)
	if first["message"] != "Підпис не валідний" {
		t.Fatalf("details %+v", body.Details)
	}
	if _, ok, _ := srv.Store.GetFormData(context.Background(), "sign", "p1"); ok {
		t.Fatalf("form data stored despite invalid signature")
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/officer/task/t2/sign-form",
		map[string]any{"data": map[string]any{"a": 1}, "signature": "good"}, bearer(t, "alice", "officer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("officer sign status %d: %s", res.StatusCode, data)
	}
}

func TestHistoryListsCompletedTasks(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	auth := bearer(t, "alice", "officer")

	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/task/t2/complete",
		map[string]any{"data": map[string]any{"a": 1}}, auth); res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, data)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/history/task?sortBy=endTime&sortOrder=desc", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, data)
	}
	var items []HistoryTaskResponse
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(items) != 1 || items[0].ID != "t2" || items[0].Assignee != "alice" {
		t.Fatalf("history %+v", items)
	}
}
