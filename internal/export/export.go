// Package export round-trips a user's knowledge base through a
// versioned JSON envelope, plus a flat CSV of the core issue columns.
package export

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/faultdex/faultdex/internal/db"
	"github.com/faultdex/faultdex/internal/globaltime"
	"github.com/faultdex/faultdex/internal/issues"
)

// EnvelopeVersion tags the export format; imports reject anything else.
const EnvelopeVersion = "2.0"

//go:embed export_envelope.schema.json
var envelopeSchemaJSON string

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// IssueBundle is one exported issue together with its solutions and
// comments.
type IssueBundle struct {
	db.IssueRecord
	Solutions []db.SolutionRecord `json:"solutions"`
	Comments  []db.CommentRecord  `json:"comments"`
}

// Envelope is the top-level export document.
type Envelope struct {
	Version     string        `json:"version"`
	ExportedAt  time.Time     `json:"exported_at"`
	TotalIssues int           `json:"total_issues"`
	Issues      []IssueBundle `json:"issues"`
}

// ImportResult reports per-item outcomes of an import run.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// Store is the persistence surface exports and imports run against.
type Store interface {
	ListIssuesForScan(ctx context.Context, userID int64) ([]db.IssueRecord, error)
	ListSolutionsForIssue(ctx context.Context, issueID int64) ([]db.SolutionRecord, error)
	ListCommentsForIssue(ctx context.Context, issueID int64) ([]db.CommentRecord, error)
	InsertIssue(ctx context.Context, params db.InsertIssueParams) (*db.IssueRecord, error)
	UpdateIssue(ctx context.Context, issueID, userID int64, params db.IssueUpdateParams, now time.Time) (*db.IssueRecord, error)
	InsertSolution(ctx context.Context, params db.InsertSolutionParams) (*db.SolutionRecord, error)
	InsertComment(ctx context.Context, issueID, userID int64, content string) (*db.CommentRecord, error)
}

type Service struct {
	store  Store
	logger zerolog.Logger
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// ExportJSON collects every issue the user owns, with nested solutions
// and comments, into a versioned envelope.
func (s *Service) ExportJSON(ctx context.Context, userID int64) (*Envelope, error) {
	records, err := s.store.ListIssuesForScan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	bundles := make([]IssueBundle, 0, len(records))
	for _, record := range records {
		solutions, err := s.store.ListSolutionsForIssue(ctx, record.IssueID)
		if err != nil {
			return nil, fmt.Errorf("list solutions for issue %s: %w", record.IssueUUID, err)
		}
		comments, err := s.store.ListCommentsForIssue(ctx, record.IssueID)
		if err != nil {
			return nil, fmt.Errorf("list comments for issue %s: %w", record.IssueUUID, err)
		}
		if solutions == nil {
			solutions = []db.SolutionRecord{}
		}
		if comments == nil {
			comments = []db.CommentRecord{}
		}
		bundles = append(bundles, IssueBundle{IssueRecord: record, Solutions: solutions, Comments: comments})
	}

	s.logger.Info().Int64("user_id", userID).Int("issues", len(bundles)).Msg("exported issues to json")
	return &Envelope{
		Version:     EnvelopeVersion,
		ExportedAt:  globaltime.UTC(),
		TotalIssues: len(bundles),
		Issues:      bundles,
	}, nil
}

var csvHeader = []string{"id", "error_type", "error_message", "language", "severity", "status", "created_at", "occurrences"}

// ExportCSV renders the user's issues as CSV, newest first. An empty
// knowledge base yields an empty string.
func (s *Service) ExportCSV(ctx context.Context, userID int64) (string, error) {
	records, err := s.store.ListIssuesForScan(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list issues: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, record := range records {
		lang := ""
		if record.Language != nil {
			lang = *record.Language
		}
		row := []string{
			record.IssueUUID,
			record.ErrorType,
			record.ErrorMessage,
			lang,
			record.Severity,
			record.Status,
			record.CreatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(record.Occurrences),
		}
		if err := writer.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}

	s.logger.Info().Int64("user_id", userID).Int("issues", len(records)).Msg("exported issues to csv")
	return buf.String(), nil
}

type importedSolution struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	CodeFix     *string  `json:"code_fix"`
	Steps       []string `json:"steps"`
	Tags        []string `json:"tags"`
	AIGenerated bool     `json:"ai_generated"`
}

type importedComment struct {
	Content string `json:"content"`
}

type importedIssue struct {
	ErrorType    string  `json:"error_type"`
	ErrorMessage string  `json:"error_message"`
	StackTrace   *string `json:"stack_trace"`

	FilePath     *string `json:"file_path"`
	LineNumber   *int    `json:"line_number"`
	FunctionName *string `json:"function_name"`
	CodeSnippet  *string `json:"code_snippet"`

	Language     *string         `json:"language"`
	Framework    *string         `json:"framework"`
	Environment  *string         `json:"environment"`
	OS           *string         `json:"os"`
	Dependencies json.RawMessage `json:"dependencies"`

	Tags     []string `json:"tags"`
	Severity string   `json:"severity"`
	Status   string   `json:"status"`

	Solutions []importedSolution `json:"solutions"`
	Comments  []importedComment  `json:"comments"`
}

type importedEnvelope struct {
	Version string          `json:"version"`
	Issues  []importedIssue `json:"issues"`
}

// ImportJSON validates the envelope against the embedded schema and
// inserts its issues, solutions and comments under the importing user.
// Stored embeddings are never trusted from an export; imported issues
// start without one and are backfilled by the reembed pass. Individual
// bad items are skipped, not fatal.
func (s *Service) ImportJSON(ctx context.Context, userID int64, payload []byte) (*ImportResult, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode export JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize export JSON: %w", err)
	}
	var envelope importedEnvelope
	if err := json.Unmarshal(normalized, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal export: %w", err)
	}
	if envelope.Version != EnvelopeVersion {
		return nil, fmt.Errorf("unsupported export version %q", envelope.Version)
	}

	result := &ImportResult{Total: len(envelope.Issues)}
	for i := range envelope.Issues {
		if err := s.importIssue(ctx, userID, &envelope.Issues[i]); err != nil {
			s.logger.Warn().Err(err).Int("index", i).Msg("skipped issue during import")
			result.Skipped++
			continue
		}
		result.Imported++
	}

	s.logger.Info().
		Int64("user_id", userID).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Msg("import complete")
	return result, nil
}

func (s *Service) importIssue(ctx context.Context, userID int64, item *importedIssue) error {
	if strings.TrimSpace(item.ErrorType) == "" && strings.TrimSpace(item.ErrorMessage) == "" {
		return fmt.Errorf("issue has neither error type nor message")
	}

	now := globaltime.UTC()
	created, err := s.store.InsertIssue(ctx, db.InsertIssueParams{
		UserID:       userID,
		ErrorType:    item.ErrorType,
		ErrorMessage: item.ErrorMessage,
		StackTrace:   item.StackTrace,

		FilePath:     item.FilePath,
		LineNumber:   item.LineNumber,
		FunctionName: item.FunctionName,
		CodeSnippet:  item.CodeSnippet,

		Language:     item.Language,
		Framework:    item.Framework,
		Environment:  item.Environment,
		OS:           item.OS,
		Dependencies: item.Dependencies,

		Tags:     issues.NormalizeTags(item.Tags),
		Severity: item.Severity,

		OccurredAt: now,
	})
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}

	// New rows always start open; restore the exported status when it
	// differs and is recognized.
	if status := strings.TrimSpace(item.Status); status != "" && status != created.Status {
		if status == "resolved" || status == "recurring" {
			if _, err := s.store.UpdateIssue(ctx, created.IssueID, userID, db.IssueUpdateParams{Status: &status}, now); err != nil {
				return fmt.Errorf("restore status: %w", err)
			}
		}
	}

	for j := range item.Solutions {
		solution := &item.Solutions[j]
		_, err := s.store.InsertSolution(ctx, db.InsertSolutionParams{
			IssueID:     created.IssueID,
			CreatedBy:   userID,
			Title:       solution.Title,
			Description: solution.Description,
			CodeFix:     solution.CodeFix,
			Steps:       solution.Steps,
			Tags:        solution.Tags,
			AIGenerated: solution.AIGenerated,
		})
		if err != nil {
			return fmt.Errorf("insert solution %d: %w", j, err)
		}
	}

	for j := range item.Comments {
		if _, err := s.store.InsertComment(ctx, created.IssueID, userID, item.Comments[j].Content); err != nil {
			return fmt.Errorf("insert comment %d: %w", j, err)
		}
	}
	return nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("export_envelope.schema.json", strings.NewReader(envelopeSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("export_envelope.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}
