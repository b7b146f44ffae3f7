package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/faultdex/faultdex/internal/db"
)

type fakeStore struct {
	nextID    int64
	issues    []db.IssueRecord
	solutions map[int64][]db.SolutionRecord
	comments  map[int64][]db.CommentRecord
	statuses  map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		solutions: map[int64][]db.SolutionRecord{},
		comments:  map[int64][]db.CommentRecord{},
		statuses:  map[int64]string{},
	}
}

func (f *fakeStore) ListIssuesForScan(_ context.Context, userID int64) ([]db.IssueRecord, error) {
	var out []db.IssueRecord
	for _, issue := range f.issues {
		if issue.UserID == userID {
			out = append(out, issue)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSolutionsForIssue(_ context.Context, issueID int64) ([]db.SolutionRecord, error) {
	return f.solutions[issueID], nil
}

func (f *fakeStore) ListCommentsForIssue(_ context.Context, issueID int64) ([]db.CommentRecord, error) {
	return f.comments[issueID], nil
}

func (f *fakeStore) InsertIssue(_ context.Context, params db.InsertIssueParams) (*db.IssueRecord, error) {
	f.nextID++
	record := db.IssueRecord{
		IssueID:      f.nextID,
		IssueUUID:    fmt.Sprintf("imported-%d", f.nextID),
		UserID:       params.UserID,
		ErrorType:    params.ErrorType,
		ErrorMessage: params.ErrorMessage,
		StackTrace:   params.StackTrace,
		Tags:         params.Tags,
		Severity:     params.Severity,
		Status:       "open",
		Occurrences:  1,
		CreatedAt:    params.OccurredAt,
	}
	f.issues = append(f.issues, record)
	return &record, nil
}

func (f *fakeStore) UpdateIssue(_ context.Context, issueID, _ int64, params db.IssueUpdateParams, _ time.Time) (*db.IssueRecord, error) {
	if params.Status != nil {
		f.statuses[issueID] = *params.Status
	}
	return &db.IssueRecord{IssueID: issueID}, nil
}

func (f *fakeStore) InsertSolution(_ context.Context, params db.InsertSolutionParams) (*db.SolutionRecord, error) {
	record := db.SolutionRecord{IssueID: params.IssueID, Title: params.Title, Description: params.Description, AIGenerated: params.AIGenerated}
	f.solutions[params.IssueID] = append(f.solutions[params.IssueID], record)
	return &record, nil
}

func (f *fakeStore) InsertComment(_ context.Context, issueID, userID int64, content string) (*db.CommentRecord, error) {
	record := db.CommentRecord{IssueID: issueID, UserID: userID, Content: content}
	f.comments[issueID] = append(f.comments[issueID], record)
	return &record, nil
}

func TestExportJSONBundlesSolutionsAndComments(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.issues = []db.IssueRecord{
		{IssueID: 1, IssueUUID: "u-1", UserID: 1, ErrorType: "E1", ErrorMessage: "m1"},
		{IssueID: 2, IssueUUID: "u-2", UserID: 1, ErrorType: "E2", ErrorMessage: "m2"},
		{IssueID: 3, IssueUUID: "u-3", UserID: 9, ErrorType: "other owner", ErrorMessage: "m"},
	}
	store.solutions[1] = []db.SolutionRecord{{Title: "fix", Description: "do the fix"}}
	store.comments[2] = []db.CommentRecord{{Content: "seen in prod"}}

	service := NewService(store, zerolog.Nop())
	envelope, err := service.ExportJSON(context.Background(), 1)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if envelope.Version != EnvelopeVersion {
		t.Fatalf("unexpected version %q", envelope.Version)
	}
	if envelope.TotalIssues != 2 || len(envelope.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", envelope.TotalIssues)
	}
	if len(envelope.Issues[0].Solutions) != 1 || envelope.Issues[0].Solutions[0].Title != "fix" {
		t.Fatalf("missing nested solution: %+v", envelope.Issues[0])
	}
	if len(envelope.Issues[1].Comments) != 1 {
		t.Fatalf("missing nested comment: %+v", envelope.Issues[1])
	}
	// Empty collections serialize as arrays, not null.
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), `"solutions":null`) || strings.Contains(string(raw), `"comments":null`) {
		t.Fatalf("nested collections must marshal as arrays: %s", raw)
	}
}

func TestExportCSVNewestFirst(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	lang := "python"
	store := newFakeStore()
	store.issues = []db.IssueRecord{
		{IssueID: 1, IssueUUID: "old", UserID: 1, ErrorType: "E1", ErrorMessage: "m1", Severity: "low", Status: "open", Occurrences: 1, CreatedAt: base},
		{IssueID: 2, IssueUUID: "new", UserID: 1, ErrorType: "E2", ErrorMessage: "m2", Language: &lang, Severity: "high", Status: "resolved", Occurrences: 4, CreatedAt: base.Add(time.Hour)},
	}

	service := NewService(store, zerolog.Nop())
	content, err := service.ExportCSV(context.Background(), 1)
	if err != nil {
		t.Fatalf("export csv: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "id,error_type,error_message,language,severity,status,created_at,occurrences" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "new,") || !strings.HasPrefix(lines[2], "old,") {
		t.Fatalf("rows not ordered newest first:\n%s", content)
	}
	if !strings.Contains(lines[1], "python,high,resolved,2025-05-01T13:00:00Z,4") {
		t.Fatalf("unexpected row %q", lines[1])
	}
}

func TestExportCSVEmpty(t *testing.T) {
	t.Parallel()

	service := NewService(newFakeStore(), zerolog.Nop())
	content, err := service.ExportCSV(context.Background(), 1)
	if err != nil {
		t.Fatalf("export csv: %v", err)
	}
	if content != "" {
		t.Fatalf("expected empty output, got %q", content)
	}
}

const validEnvelope = `{
  "version": "2.0",
  "exported_at": "2025-05-01T00:00:00Z",
  "total_issues": 2,
  "issues": [
    {
      "error_type": "TypeError",
      "error_message": "x is undefined",
      "tags": ["Frontend", "frontend", "bug"],
      "severity": "high",
      "status": "resolved",
      "solutions": [
        {"title": "guard the access", "description": "check for null first", "ai_generated": true}
      ],
      "comments": [
        {"content": "happens on the login page"}
      ]
    },
    {
      "error_type": "ValueError",
      "error_message": "bad input"
    }
  ]
}`

func TestImportJSONRoundTrip(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	service := NewService(store, zerolog.Nop())

	result, err := service.ImportJSON(context.Background(), 42, []byte(validEnvelope))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Imported != 2 || result.Skipped != 0 || result.Total != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(store.issues) != 2 {
		t.Fatalf("expected 2 inserted issues, got %d", len(store.issues))
	}

	first := store.issues[0]
	if first.UserID != 42 {
		t.Fatalf("imported issue must belong to the importer, got user %d", first.UserID)
	}
	if len(first.Tags) != 2 {
		t.Fatalf("tags must be normalized and deduplicated, got %v", first.Tags)
	}
	if first.Embedding != nil {
		t.Fatalf("imported issues must not carry an embedding")
	}
	if store.statuses[first.IssueID] != "resolved" {
		t.Fatalf("exported status must be restored, got %q", store.statuses[first.IssueID])
	}
	if len(store.solutions[first.IssueID]) != 1 || !store.solutions[first.IssueID][0].AIGenerated {
		t.Fatalf("missing imported solution")
	}
	if len(store.comments[first.IssueID]) != 1 {
		t.Fatalf("missing imported comment")
	}
}

func TestImportJSONRejectsWrongVersion(t *testing.T) {
	t.Parallel()

	service := NewService(newFakeStore(), zerolog.Nop())
	payload := `{"version": "1.0", "issues": []}`
	if _, err := service.ImportJSON(context.Background(), 1, []byte(payload)); err == nil {
		t.Fatalf("expected version 1.0 to be rejected")
	}
}

func TestImportJSONRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	service := NewService(newFakeStore(), zerolog.Nop())
	for _, payload := range []string{"", "not json", `{"version":"2.0","issues":[]} trailing`, `{"issues": []}`} {
		if _, err := service.ImportJSON(context.Background(), 1, []byte(payload)); err == nil {
			t.Fatalf("expected payload %q to be rejected", payload)
		}
	}
}

func TestImportJSONSkipsBlankIssue(t *testing.T) {
	t.Parallel()

	payload := `{
  "version": "2.0",
  "issues": [
    {"error_type": "", "error_message": ""},
    {"error_type": "OK", "error_message": "fine"}
  ]
}`
	store := newFakeStore()
	service := NewService(store, zerolog.Nop())

	result, err := service.ImportJSON(context.Background(), 1, []byte(payload))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Imported != 1 || result.Skipped != 1 || result.Total != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}
