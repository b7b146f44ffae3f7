package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/faultdex/faultdex/internal/db"
	"github.com/faultdex/faultdex/internal/issues"
)

type fakeIssueService struct {
	createResult *issues.CreateResult
	createErr    error
	createCalls  []issues.CreateParams

	getResult *db.IssueRecord
	getErr    error

	listResult []db.IssueRecord
	listErr    error
	listOpts   []db.IssueListOptions

	updateResult *db.IssueRecord
	updateErr    error
	updateCalls  []issues.UpdateParams

	deleteErr   error
	deleteUUIDs []string

	searchResult    []issues.Match
	searchErr       error
	searchQuery     string
	searchThreshold float64
	searchLimit     int
}

func (f *fakeIssueService) Create(_ context.Context, _ int64, params issues.CreateParams) (*issues.CreateResult, error) {
	f.createCalls = append(f.createCalls, params)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResult, nil
}

func (f *fakeIssueService) Get(_ context.Context, _ int64, _ string) (*db.IssueRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getResult, nil
}

func (f *fakeIssueService) List(_ context.Context, _ int64, opts db.IssueListOptions) ([]db.IssueRecord, error) {
	f.listOpts = append(f.listOpts, opts)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listResult, nil
}

func (f *fakeIssueService) Update(_ context.Context, _ int64, _ string, params issues.UpdateParams) (*db.IssueRecord, error) {
	f.updateCalls = append(f.updateCalls, params)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.updateResult, nil
}

func (f *fakeIssueService) Delete(_ context.Context, _ int64, issueUUID string) error {
	f.deleteUUIDs = append(f.deleteUUIDs, issueUUID)
	return f.deleteErr
}

func (f *fakeIssueService) Search(_ context.Context, _ int64, query string, threshold float64, limit int) ([]issues.Match, error) {
	f.searchQuery = query
	f.searchThreshold = threshold
	f.searchLimit = limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResult, nil
}

func newIssueServer(svc *fakeIssueService) *Server {
	return &Server{
		logger: zerolog.Nop(),
		opts:   Options{SessionCookie: "faultdex_session"},
		issues: svc,
	}
}

func authedJSONContext(
	t *testing.T,
	method string,
	path string,
	body string,
) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	_, c, rec := newJSONContext(method, path, body)
	c.Set("auth.principal", authPrincipal{UserID: 7, Username: "admin"})
	return c, rec
}

func sampleIssue(uuid string) db.IssueRecord {
	return db.IssueRecord{
		IssueID:      1,
		IssueUUID:    uuid,
		UserID:       7,
		ErrorType:    "TypeError",
		ErrorMessage: "x is not a function",
		Severity:     "medium",
		Status:       "open",
		Occurrences:  1,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHandleCreateIssue_NewIssueRespondsCreated(t *testing.T) {
	t.Parallel()

	issue := sampleIssue("aaaaaaaa-0000-4000-8000-000000000001")
	svc := &fakeIssueService{
		createResult: &issues.CreateResult{
			Issue:       &issue,
			IsDuplicate: false,
			Related:     []issues.Match{},
		},
	}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodPost, "/api/v1/issues",
		`{"error_type":"TypeError","error_message":"x is not a function","severity":"medium"}`)
	if err := server.handleCreateIssue(c); err != nil {
		t.Fatalf("handleCreateIssue returned error: %v", err)
	}

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusCreated)
	}
	if len(svc.createCalls) != 1 {
		t.Fatalf("expected one create call, got %d", len(svc.createCalls))
	}
	if svc.createCalls[0].ErrorType != "TypeError" {
		t.Fatalf("unexpected error_type passed through: %q", svc.createCalls[0].ErrorType)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"is_duplicate":false`) {
		t.Fatalf("expected is_duplicate=false in response, got %s", body)
	}
}

func TestHandleCreateIssue_DuplicateRespondsOK(t *testing.T) {
	t.Parallel()

	issue := sampleIssue("aaaaaaaa-0000-4000-8000-000000000001")
	issue.Occurrences = 3
	svc := &fakeIssueService{
		createResult: &issues.CreateResult{
			Issue:       &issue,
			IsDuplicate: true,
			Related:     []issues.Match{},
		},
	}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodPost, "/api/v1/issues",
		`{"error_type":"TypeError","error_message":"x is not a function"}`)
	if err := server.handleCreateIssue(c); err != nil {
		t.Fatalf("handleCreateIssue returned error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"is_duplicate":true`) {
		t.Fatalf("expected is_duplicate=true in response, got %s", body)
	}
}

func TestHandleCreateIssue_RejectsBlankSubmission(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodPost, "/api/v1/issues",
		`{"error_type":"   ","error_message":""}`)
	if err := server.handleCreateIssue(c); err != nil {
		t.Fatalf("handleCreateIssue returned error: %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
	if len(svc.createCalls) != 0 {
		t.Fatalf("did not expect service call for blank submission, got %d", len(svc.createCalls))
	}
}

func TestHandleCreateIssue_RejectsMalformedBody(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodPost, "/api/v1/issues", `{"error_type": not-json}`)
	if err := server.handleCreateIssue(c); err != nil {
		t.Fatalf("handleCreateIssue returned error: %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleListIssues_PassesFiltersAndDefaults(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{listResult: []db.IssueRecord{sampleIssue("aaaaaaaa-0000-4000-8000-000000000001")}}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodGet, "/api/v1/issues?status=OPEN&severity=High", "")
	if err := server.handleListIssues(c); err != nil {
		t.Fatalf("handleListIssues returned error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if len(svc.listOpts) != 1 {
		t.Fatalf("expected one list call, got %d", len(svc.listOpts))
	}
	opts := svc.listOpts[0]
	if opts.Status != "open" || opts.Severity != "high" {
		t.Fatalf("expected lowercased filters, got %+v", opts)
	}
	if opts.Limit != defaultPageSize || opts.Offset != 0 {
		t.Fatalf("unexpected paging defaults: %+v", opts)
	}
}

func TestHandleListIssues_RejectsOutOfRangeLimit(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodGet, "/api/v1/issues?limit=9999", "")
	if err := server.handleListIssues(c); err != nil {
		t.Fatalf("handleListIssues returned error: %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
	if len(svc.listOpts) != 0 {
		t.Fatalf("did not expect list call, got %d", len(svc.listOpts))
	}
}

func TestHandleSearchIssues_DefaultsAndPassThrough(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{
		searchResult: []issues.Match{
			{Issue: sampleIssue("aaaaaaaa-0000-4000-8000-000000000001"), Similarity: 0.91},
		},
	}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodGet, "/api/v1/issues/search?q=timeout+connecting", "")
	if err := server.handleSearchIssues(c); err != nil {
		t.Fatalf("handleSearchIssues returned error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if svc.searchQuery != "timeout connecting" {
		t.Fatalf("unexpected query: %q", svc.searchQuery)
	}
	if svc.searchThreshold != 0.5 {
		t.Fatalf("unexpected default threshold: %v", svc.searchThreshold)
	}
	if svc.searchLimit != 10 {
		t.Fatalf("unexpected default limit: %d", svc.searchLimit)
	}

	var envelope struct {
		Status string `json:"status"`
		Data   struct {
			Items []issues.Match `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Status != "success" {
		t.Fatalf("unexpected envelope status: %q", envelope.Status)
	}
	if len(envelope.Data.Items) != 1 || envelope.Data.Items[0].Similarity != 0.91 {
		t.Fatalf("unexpected search items: %+v", envelope.Data.Items)
	}
}

func TestHandleSearchIssues_RequiresQuery(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodGet, "/api/v1/issues/search", "")
	if err := server.handleSearchIssues(c); err != nil {
		t.Fatalf("handleSearchIssues returned error: %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleSearchIssues_RejectsBadThreshold(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodGet, "/api/v1/issues/search?q=x&threshold=1.5", "")
	if err := server.handleSearchIssues(c); err != nil {
		t.Fatalf("handleSearchIssues returned error: %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleGetIssue_NotFoundMapsTo404(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{getErr: db.ErrNoRows}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodGet, "/api/v1/issues/aaaaaaaa-0000-4000-8000-000000000001", "")
	c.SetParamNames("issue_id")
	c.SetParamValues("aaaaaaaa-0000-4000-8000-000000000001")

	if err := server.handleGetIssue(c); err != nil {
		t.Fatalf("handleGetIssue returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleGetIssue_RejectsNonUUID(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodGet, "/api/v1/issues/not-a-uuid", "")
	c.SetParamNames("issue_id")
	c.SetParamValues("not-a-uuid")

	if err := server.handleGetIssue(c); err != nil {
		t.Fatalf("handleGetIssue returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleUpdateIssue_InvalidFieldMapsTo400(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{updateErr: issues.ErrInvalid}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodPut, "/api/v1/issues/aaaaaaaa-0000-4000-8000-000000000001",
		`{"status":"archived"}`)
	c.SetParamNames("issue_id")
	c.SetParamValues("aaaaaaaa-0000-4000-8000-000000000001")

	if err := server.handleUpdateIssue(c); err != nil {
		t.Fatalf("handleUpdateIssue returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleDeleteIssue_Succeeds(t *testing.T) {
	t.Parallel()

	svc := &fakeIssueService{}
	server := newIssueServer(svc)

	c, rec := authedJSONContext(t, http.MethodDelete, "/api/v1/issues/aaaaaaaa-0000-4000-8000-000000000001", "")
	c.SetParamNames("issue_id")
	c.SetParamValues("aaaaaaaa-0000-4000-8000-000000000001")

	if err := server.handleDeleteIssue(c); err != nil {
		t.Fatalf("handleDeleteIssue returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if len(svc.deleteUUIDs) != 1 || svc.deleteUUIDs[0] != "aaaaaaaa-0000-4000-8000-000000000001" {
		t.Fatalf("unexpected delete calls: %#v", svc.deleteUUIDs)
	}
}
