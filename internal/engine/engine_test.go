package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"usrtaskmgt/internal/domain"
	"usrtaskmgt/internal/engine"
)

// recorder keeps the order of mutating and verifying collaborator calls.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) has(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

type fakeWorkflow struct {
	rec       *recorder
	tasks     map[string]domain.Task
	lastQuery domain.TaskQuery
	lastPage  domain.Page
	completed []string
}

func (f *fakeWorkflow) ListTasks(_ context.Context, q domain.TaskQuery, page domain.Page) ([]domain.Task, error) {
	f.lastQuery, f.lastPage = q, page
	var out []domain.Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeWorkflow) CountTasks(_ context.Context, q domain.TaskQuery) (int64, error) {
	f.lastQuery = q
	return int64(len(f.tasks)), nil
}

func (f *fakeWorkflow) GetTask(_ context.Context, id string) (domain.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("bpms: %w", engine.ErrTaskNotFound)
	}
	return t, nil
}

func (f *fakeWorkflow) ClaimTask(_ context.Context, id, userID string) error {
	f.rec.add("claim %s %s", id, userID)
	t, ok := f.tasks[id]
	if !ok {
		return engine.ErrTaskNotFound
	}
	t.Assignee = userID
	f.tasks[id] = t
	return nil
}

func (f *fakeWorkflow) CompleteTask(_ context.Context, id string) (domain.CompletedTask, error) {
	f.rec.add("complete %s", id)
	t, ok := f.tasks[id]
	if !ok {
		return domain.CompletedTask{}, engine.ErrTaskNotFound
	}
	delete(f.tasks, id)
	f.completed = append(f.completed, id)
	return domain.CompletedTask{
		ID:                t.ID,
		ProcessInstanceID: t.ProcessInstanceID,
		Variables: map[string]domain.VariableValue{
			"approved": {Type: "Boolean", Value: true},
		},
	}, nil
}

type fakeHistory struct {
	lastQuery domain.HistoryQuery
	lastPage  domain.Page
}

func (f *fakeHistory) ListHistoryTasks(_ context.Context, q domain.HistoryQuery, page domain.Page) ([]domain.HistoryTask, error) {
	f.lastQuery, f.lastPage = q, page
	return []domain.HistoryTask{{ID: "h1", Name: "Done", Assignee: q.Assignee}}, nil
}

type fakeForms struct {
	rec    *recorder
	errors []domain.FieldError
}

func (f *fakeForms) Validate(_ context.Context, formKey string, data domain.Fields) (engine.FormValidation, error) {
	f.rec.add("validate %s %s", formKey, data)
	if len(f.errors) > 0 {
		return engine.FormValidation{Errors: f.errors}, nil
	}
	return engine.FormValidation{Valid: true}, nil
}

type fakeSignatures struct {
	rec     *recorder
	invalid *domain.SignatureError
	allowed []domain.SubjectKind
	data    string
}

func (f *fakeSignatures) result() engine.Verification {
	if f.invalid != nil {
		return engine.Verification{Error: *f.invalid}
	}
	return engine.Verification{Valid: true}
}

func (f *fakeSignatures) VerifyOfficer(_ context.Context, signature, data string) (engine.Verification, error) {
	f.rec.add("verify-officer %s", signature)
	f.data = data
	return f.result(), nil
}

func (f *fakeSignatures) VerifyCitizen(_ context.Context, allowed []domain.SubjectKind, signature, data string) (engine.Verification, error) {
	f.rec.add("verify-citizen %s", signature)
	f.allowed, f.data = allowed, data
	return f.result(), nil
}

type fakeStore struct {
	rec  *recorder
	down bool
	data map[string]domain.FormData
}

func storeKey(tdk, pid string) string { return pid + "/" + tdk }

func (f *fakeStore) GetFormData(_ context.Context, tdk, pid string) (domain.FormData, bool, error) {
	if f.down {
		return domain.FormData{}, false, errors.New("connection refused")
	}
	fd, ok := f.data[storeKey(tdk, pid)]
	return fd, ok, nil
}

func (f *fakeStore) PutFormData(_ context.Context, tdk, pid string, fd domain.FormData) error {
	f.rec.add("put %s", storeKey(tdk, pid))
	if f.down {
		return errors.New("connection refused")
	}
	f.data[storeKey(tdk, pid)] = fd
	return nil
}

func (f *fakeStore) DeleteByProcessInstanceID(_ context.Context, pid string) error {
	f.rec.add("delete %s", pid)
	for k := range f.data {
		if strings.HasPrefix(k, pid+"/") {
			delete(f.data, k)
		}
	}
	return nil
}

type testEnv struct {
	Engine     engine.Engine
	Ctx        context.Context
	Rec        *recorder
	Workflow   *fakeWorkflow
	History    *fakeHistory
	Forms      *fakeForms
	Signatures *fakeSignatures
	Store      *fakeStore
}

var (
	alice = domain.Identity{Name: "alice", Credential: "alice-token", Roles: []string{"officer"}}
	bob   = domain.Identity{Name: "bob", Credential: "bob-token", Roles: []string{"officer"}}
)

func newTestEnv(t *testing.T, tasks ...domain.Task) testEnv {
	t.Helper()
	rec := &recorder{}
	env := testEnv{
		Ctx:        context.Background(),
		Rec:        rec,
		Workflow:   &fakeWorkflow{rec: rec, tasks: map[string]domain.Task{}},
		History:    &fakeHistory{},
		Forms:      &fakeForms{rec: rec},
		Signatures: &fakeSignatures{rec: rec},
		Store:      &fakeStore{rec: rec, data: map[string]domain.FormData{}},
	}
	for _, task := range tasks {
		env.Workflow.tasks[task.ID] = task
	}
	env.Engine = engine.Engine{
		Tasks:      env.Workflow,
		History:    env.History,
		Signatures: env.Signatures,
		Forms:      env.Forms,
		Store:      env.Store,
	}
	return env
}

func task(id, assignee string) domain.Task {
	return domain.Task{
		ID:                id,
		Name:              id + "-name",
		TaskDefinitionKey: id + "-def",
		ProcessInstanceID: "proc-" + id,
		FormKey:           id + "-form",
		Assignee:          assignee,
	}
}

func TestListAndCountUseMineOrUnassignedPredicate(t *testing.T) {
	env := newTestEnv(t, task("T1", ""), task("T2", "alice"))
	page := domain.Page{FirstResult: 10, MaxResults: 5, SortBy: "created", SortOrder: "desc"}

	got, err := env.Engine.ListTasks(env.Ctx, "proc-1", page, alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected engine result passed through, got %d", len(got))
	}
	want := domain.TaskQuery{
		ProcessInstanceID: "proc-1",
		OrQueries:         []domain.TaskQuery{{Assignee: "alice", Unassigned: true}},
	}
	if diff := cmp.Diff(want, env.Workflow.lastQuery); diff != "" {
		t.Fatalf("list query (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(page, env.Workflow.lastPage); diff != "" {
		t.Fatalf("page (-want +got):\n%s", diff)
	}

	env.Workflow.lastQuery = domain.TaskQuery{}
	n, err := env.Engine.CountTasks(env.Ctx, "proc-1", alice)
	if err != nil || n != 2 {
		t.Fatalf("count: %d %v", n, err)
	}
	if diff := cmp.Diff(want, env.Workflow.lastQuery); diff != "" {
		t.Fatalf("count query (-want +got):\n%s", diff)
	}
}

func TestGetTaskUnassignedIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, task("T1", ""))
	_, err := env.Engine.GetTask(env.Ctx, "T1", alice)
	var ae engine.TaskAuthorizationError
	if !errors.As(err, &ae) || ae.TaskID != "T1" {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestGetTaskOtherAssigneeIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, task("T1", "bob"))
	_, err := env.Engine.GetTask(env.Ctx, "T1", alice)
	if !errors.As(err, new(engine.TaskAuthorizationError)) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestGetTaskMissing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GetTask(env.Ctx, "nope", alice)
	var ne engine.TaskNotExistsError
	if !errors.As(err, &ne) || ne.TaskID != "nope" {
		t.Fatalf("expected not exists, got %v", err)
	}
	if !errors.Is(err, engine.ErrTaskNotFound) {
		t.Fatalf("cause should be kept")
	}
}

func TestGetTaskStoreDownReturnsEmptyData(t *testing.T) {
	env := newTestEnv(t, task("T1", "alice"))
	env.Store.down = true
	got, err := env.Engine.GetTask(env.Ctx, "T1", alice)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Data.IsEmpty() || got.ID != "T1" {
		t.Fatalf("expected task with empty data, got %+v", got)
	}
}

func TestSaveThenGetRoundTrip(t *testing.T) {
	env := newTestEnv(t, task("T1", "alice"))
	data := domain.MustFields(`{"name":"Alice","items":[{"b":2,"a":1}]}`)
	if err := env.Engine.SaveFormData(env.Ctx, "T1", domain.FormData{Data: data, AccessToken: "forged"}, alice); err != nil {
		t.Fatalf("save: %v", err)
	}
	if env.Rec.has("verify") || env.Rec.has("complete") {
		t.Fatalf("draft save must not verify or complete: %v", env.Rec.calls)
	}
	stored := env.Store.data[storeKey("T1-def", "proc-T1")]
	if stored.AccessToken != "alice-token" {
		t.Fatalf("access token should be the caller credential, got %q", stored.AccessToken)
	}
	got, err := env.Engine.GetTask(env.Ctx, "T1", alice)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Data.String() != data.String() {
		t.Fatalf("round trip: got %s want %s", got.Data, data)
	}
}

func TestClaimScenario(t *testing.T) {
	env := newTestEnv(t, task("T1", ""))
	if err := env.Engine.ClaimTask(env.Ctx, "T1", alice); err != nil {
		t.Fatalf("alice claim: %v", err)
	}
	if got := env.Workflow.tasks["T1"].Assignee; got != "alice" {
		t.Fatalf("assignee: %q", got)
	}
	env.Rec.calls = nil
	err := env.Engine.ClaimTask(env.Ctx, "T1", bob)
	var aa engine.TaskAlreadyAssignedError
	if !errors.As(err, &aa) || aa.TaskName != "T1-name" {
		t.Fatalf("expected already assigned, got %v", err)
	}
	if env.Rec.has("claim") {
		t.Fatalf("no claim call expected, got %v", env.Rec.calls)
	}
}

func TestClaimIsIdempotentForSameUser(t *testing.T) {
	env := newTestEnv(t, task("T1", "alice"))
	if err := env.Engine.ClaimTask(env.Ctx, "T1", alice); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !env.Rec.has("claim T1 alice") {
		t.Fatalf("expected claim call, got %v", env.Rec.calls)
	}
}

func TestClaimMissingTask(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.ClaimTask(env.Ctx, "gone", alice)
	if !errors.As(err, new(engine.TaskNotExistsOrCompletedError)) {
		t.Fatalf("expected not exists or completed, got %v", err)
	}
}

func TestCompleteTaskScenario(t *testing.T) {
	env := newTestEnv(t, task("T2", "alice"))
	res, err := env.Engine.CompleteTask(env.Ctx, "T2", domain.FormData{Data: domain.MustFields(`{"x":1}`)}, alice)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.ID != "T2" || res.Variables["approved"].Value != true {
		t.Fatalf("unexpected result %+v", res)
	}
	stored, ok := env.Store.data[storeKey("T2-def", "proc-T2")]
	if !ok || stored.Data.String() != `{"x":1}` {
		t.Fatalf("stored: %+v %v", stored, ok)
	}
	want := []string{
		`validate T2-form {"x":1}`,
		"put proc-T2/T2-def",
		"complete T2",
	}
	if diff := cmp.Diff(want, env.Rec.calls); diff != "" {
		t.Fatalf("call order (-want +got):\n%s", diff)
	}
}

func TestCompleteRequiresAssignee(t *testing.T) {
	env := newTestEnv(t, task("T2", "bob"))
	_, err := env.Engine.CompleteTask(env.Ctx, "T2", domain.FormData{}, alice)
	if !errors.As(err, new(engine.TaskAuthorizationError)) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if len(env.Rec.calls) != 0 {
		t.Fatalf("no collaborator calls expected, got %v", env.Rec.calls)
	}
}

func TestFormValidationStopsBeforeSignature(t *testing.T) {
	env := newTestEnv(t, task("T2", "alice"))
	env.Forms.errors = []domain.FieldError{{Field: "x", Message: "required", Value: ""}}
	_, err := env.Engine.SignOfficerForm(env.Ctx, "T2", domain.FormData{Data: domain.MustFields(`{}`), Signature: "sig"}, alice)
	var fe engine.FormValidationError
	if !errors.As(err, &fe) {
		t.Fatalf("expected form validation error, got %v", err)
	}
	if diff := cmp.Diff(env.Forms.errors, fe.Errors); diff != "" {
		t.Fatalf("errors must be verbatim (-want +got):\n%s", diff)
	}
	for _, c := range []string{"verify", "put", "complete"} {
		if env.Rec.has(c) {
			t.Fatalf("unexpected %s call: %v", c, env.Rec.calls)
		}
	}
}

func TestInvalidOfficerSignatureScenario(t *testing.T) {
	env := newTestEnv(t, task("T3", "alice"))
	env.Signatures.invalid = &domain.SignatureError{Code: "INVALID_SIGNATURE", LocalizedMessage: "bad sig"}
	fd := domain.FormData{Data: domain.MustFields(`{"b":2,"a":1}`), Signature: "sig"}
	_, err := env.Engine.SignOfficerForm(env.Ctx, "T3", fd, alice)
	var se engine.SignatureValidationError
	if !errors.As(err, &se) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if err.Error() != "bad sig" || se.Detail.Code != "INVALID_SIGNATURE" {
		t.Fatalf("unexpected error %v %+v", err, se.Detail)
	}
	if env.Rec.has("put") || env.Rec.has("complete") {
		t.Fatalf("signature failure must be terminal: %v", env.Rec.calls)
	}
	if env.Signatures.data != `{"b":2,"a":1}` {
		t.Fatalf("verifier should get data in original key order, got %s", env.Signatures.data)
	}
}

func TestCitizenSignatureDefaultsToIndividual(t *testing.T) {
	env := newTestEnv(t, task("T4", "alice"))
	if _, err := env.Engine.SignCitizenForm(env.Ctx, "T4", domain.FormData{Data: domain.MustFields(`{"a":1}`), Signature: "sig"}, alice); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if diff := cmp.Diff([]domain.SubjectKind{domain.SubjectIndividual}, env.Signatures.allowed); diff != "" {
		t.Fatalf("allowed (-want +got):\n%s", diff)
	}
	if env.Rec.has("verify-officer") {
		t.Fatalf("officer verifier must not run for citizens")
	}
}

func TestCitizenSignaturePassesFullPack(t *testing.T) {
	tk := task("T5", "alice")
	tk.SignatureValidationPack = []domain.SubjectKind{domain.SubjectLegal, domain.SubjectEntrepreneur}
	env := newTestEnv(t, tk)
	if _, err := env.Engine.SignCitizenForm(env.Ctx, "T5", domain.FormData{Signature: "sig"}, alice); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if diff := cmp.Diff(tk.SignatureValidationPack, env.Signatures.allowed); diff != "" {
		t.Fatalf("allowed (-want +got):\n%s", diff)
	}
	if env.Signatures.data != "{}" {
		t.Fatalf("empty data should serialize as {}, got %s", env.Signatures.data)
	}
}

func TestStoreWriteFailureAbortsCompletion(t *testing.T) {
	env := newTestEnv(t, task("T2", "alice"))
	env.Store.down = true
	_, err := env.Engine.CompleteTask(env.Ctx, "T2", domain.FormData{}, alice)
	if err == nil {
		t.Fatalf("expected store error")
	}
	if env.Rec.has("complete") {
		t.Fatalf("completion must not run after failed write")
	}
}

func TestSecondCompletionIsGenericFailure(t *testing.T) {
	env := newTestEnv(t, task("T2", "alice"))
	wf := &racingWorkflow{fakeWorkflow: env.Workflow}
	env.Engine.Tasks = wf
	_, err := env.Engine.CompleteTask(env.Ctx, "T2", domain.FormData{}, alice)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if errors.As(err, new(engine.TaskNotExistsError)) {
		t.Fatalf("mid-flight completion must not be a typed not-exists error")
	}
}

// racingWorkflow completes the task on behalf of another caller right after
// the read.
type racingWorkflow struct {
	*fakeWorkflow
}

func (r *racingWorkflow) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := r.fakeWorkflow.GetTask(ctx, id)
	delete(r.tasks, id)
	return t, err
}

func TestListHistoryTasks(t *testing.T) {
	env := newTestEnv(t)
	page := domain.Page{MaxResults: 3}
	got, err := env.Engine.ListHistoryTasks(env.Ctx, page, alice)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 1 || got[0].Assignee != "alice" {
		t.Fatalf("unexpected history %+v", got)
	}
	if diff := cmp.Diff(domain.HistoryQuery{Assignee: "alice", Finished: true}, env.History.lastQuery); diff != "" {
		t.Fatalf("query (-want +got):\n%s", diff)
	}
}

func TestDeleteFormData(t *testing.T) {
	env := newTestEnv(t)
	env.Store.data[storeKey("a", "p1")] = domain.FormData{}
	env.Store.data[storeKey("b", "p2")] = domain.FormData{}
	if err := env.Engine.DeleteFormData(env.Ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := env.Store.data[storeKey("a", "p1")]; ok {
		t.Fatalf("p1 data should be gone")
	}
	if _, ok := env.Store.data[storeKey("b", "p2")]; !ok {
		t.Fatalf("p2 data should remain")
	}
	if err := env.Engine.DeleteFormData(env.Ctx, ""); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
