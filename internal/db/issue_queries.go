package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// IssueRecord is the scan target for kb.issues rows. Embedding carries
// the pgvector text serialization so the fallback scorer can consume it
// without a round-trip through a typed vector.
type IssueRecord struct {
	IssueID      int64   `json:"-"`
	IssueUUID    string  `json:"id"`
	UserID       int64   `json:"user_id"`
	ErrorType    string  `json:"error_type"`
	ErrorMessage string  `json:"error_message"`
	StackTrace   *string `json:"stack_trace,omitempty"`

	FilePath     *string `json:"file_path,omitempty"`
	LineNumber   *int    `json:"line_number,omitempty"`
	FunctionName *string `json:"function_name,omitempty"`
	CodeSnippet  *string `json:"code_snippet,omitempty"`

	Language     *string         `json:"language,omitempty"`
	Framework    *string         `json:"framework,omitempty"`
	Environment  *string         `json:"environment,omitempty"`
	OS           *string         `json:"os,omitempty"`
	Dependencies json.RawMessage `json:"dependencies,omitempty"`

	Tags     []string `json:"tags"`
	Severity string   `json:"severity"`
	Status   string   `json:"status"`

	Embedding     *string `json:"-"`
	EmbeddingText *string `json:"embedding_text,omitempty"`

	Occurrences     int       `json:"occurrences"`
	FirstOccurredAt time.Time `json:"first_occurred_at"`
	LastOccurredAt  time.Time `json:"last_occurred_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IssueVectorMatch is one accelerated-search row: the issue plus its
// cosine distance to the query vector.
type IssueVectorMatch struct {
	Issue    IssueRecord
	Distance float64
}

// InsertIssueParams carries everything needed to create an issue row.
type InsertIssueParams struct {
	UserID       int64
	ErrorType    string
	ErrorMessage string
	StackTrace   *string

	FilePath     *string
	LineNumber   *int
	FunctionName *string
	CodeSnippet  *string

	Language     *string
	Framework    *string
	Environment  *string
	OS           *string
	Dependencies json.RawMessage

	Tags     []string
	Severity string

	Embedding     []float32
	EmbeddingText string

	OccurredAt time.Time
}

// IssueListOptions controls owner-scoped listing.
type IssueListOptions struct {
	Status   string
	Severity string
	Limit    int
	Offset   int
}

// IssueUpdateParams holds partial updates; nil fields are untouched.
// Embedding/EmbeddingText are set together when Reembedded is true.
type IssueUpdateParams struct {
	ErrorType    *string
	ErrorMessage *string
	StackTrace   *string
	Tags         []string
	Severity     *string
	Status       *string

	Reembedded    bool
	Embedding     []float32
	EmbeddingText string
}

const issueColumns = `
	issue_id,
	issue_uuid::text,
	user_id,
	error_type,
	error_message,
	stack_trace,
	file_path,
	line_number,
	function_name,
	code_snippet,
	language,
	framework,
	environment,
	os,
	dependencies,
	tags,
	severity,
	status,
	embedding::text,
	embedding_text,
	occurrences,
	first_occurred_at,
	last_occurred_at,
	created_at,
	updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssueRow(scanner rowScanner) (*IssueRecord, error) {
	var (
		row          IssueRecord
		dependencies []byte
		tags         []byte
	)
	if err := scanner.Scan(
		&row.IssueID,
		&row.IssueUUID,
		&row.UserID,
		&row.ErrorType,
		&row.ErrorMessage,
		&row.StackTrace,
		&row.FilePath,
		&row.LineNumber,
		&row.FunctionName,
		&row.CodeSnippet,
		&row.Language,
		&row.Framework,
		&row.Environment,
		&row.OS,
		&dependencies,
		&tags,
		&row.Severity,
		&row.Status,
		&row.Embedding,
		&row.EmbeddingText,
		&row.Occurrences,
		&row.FirstOccurredAt,
		&row.LastOccurredAt,
		&row.CreatedAt,
		&row.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(dependencies) > 0 {
		row.Dependencies = append(json.RawMessage(nil), dependencies...)
	}
	row.Tags = decodeTagList(tags)
	return &row, nil
}

func decodeTagList(raw []byte) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

func encodeTagList(tags []string) json.RawMessage {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return encoded
}

func (p *Pool) InsertIssue(ctx context.Context, params InsertIssueParams) (*IssueRecord, error) {
	occurredAt := params.OccurredAt.UTC()
	severity := strings.TrimSpace(params.Severity)
	if severity == "" {
		severity = "medium"
	}

	var embedding any
	if len(params.Embedding) > 0 {
		vec := pgvector.NewVector(params.Embedding)
		embedding = vec
	}

	q := `
INSERT INTO kb.issues (
	user_id,
	error_type,
	error_message,
	stack_trace,
	file_path,
	line_number,
	function_name,
	code_snippet,
	language,
	framework,
	environment,
	os,
	dependencies,
	tags,
	severity,
	status,
	embedding,
	embedding_text,
	occurrences,
	first_occurred_at,
	last_occurred_at,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14::jsonb, $15, 'open', $16, $17, 1, $18, $18, $18, $18)
RETURNING` + issueColumns

	row, err := scanIssueRow(p.QueryRow(
		ctx,
		q,
		params.UserID,
		strings.TrimSpace(params.ErrorType),
		strings.TrimSpace(params.ErrorMessage),
		params.StackTrace,
		params.FilePath,
		params.LineNumber,
		params.FunctionName,
		params.CodeSnippet,
		params.Language,
		params.Framework,
		params.Environment,
		params.OS,
		nullableJSON(params.Dependencies),
		encodeTagList(params.Tags),
		severity,
		embedding,
		nullableString(params.EmbeddingText),
		occurredAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert issue: %w", err)
	}
	return row, nil
}

func (p *Pool) GetIssueByUUID(ctx context.Context, issueUUID string, userID int64) (*IssueRecord, error) {
	q := `
SELECT` + issueColumns + `
FROM kb.issues
WHERE issue_uuid = $1::uuid
  AND user_id = $2
LIMIT 1
`

	row, err := scanIssueRow(p.QueryRow(ctx, q, strings.TrimSpace(issueUUID), userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query issue by uuid: %w", err)
	}
	return row, nil
}

func (p *Pool) ListIssues(ctx context.Context, userID int64, opts IssueListOptions) ([]IssueRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	q := `
SELECT` + issueColumns + `
FROM kb.issues
WHERE user_id = $1
  AND ($2 = '' OR status = $2)
  AND ($3 = '' OR severity = $3)
ORDER BY created_at DESC, issue_id DESC
LIMIT $4 OFFSET $5
`

	rows, err := p.Query(ctx, q, userID, strings.TrimSpace(opts.Status), strings.TrimSpace(opts.Severity), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	items := make([]IssueRecord, 0, limit)
	for rows.Next() {
		row, err := scanIssueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue row: %w", err)
		}
		items = append(items, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue rows: %w", err)
	}
	return items, nil
}

// ListIssuesForScan returns every issue a user owns, for the exhaustive
// fallback similarity scan. Scope size is one user's issues, so no
// pagination.
func (p *Pool) ListIssuesForScan(ctx context.Context, userID int64) ([]IssueRecord, error) {
	q := `
SELECT` + issueColumns + `
FROM kb.issues
WHERE user_id = $1
ORDER BY created_at DESC, issue_id DESC
`

	rows, err := p.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query issues for scan: %w", err)
	}
	defer rows.Close()

	var items []IssueRecord
	for rows.Next() {
		row, err := scanIssueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue row: %w", err)
		}
		items = append(items, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue rows: %w", err)
	}
	return items, nil
}

// SearchIssueVectors runs the accelerated nearest-neighbor query using
// the pgvector cosine distance operator, owner-partitioned.
func (p *Pool) SearchIssueVectors(ctx context.Context, userID int64, embedding []float32, limit int) ([]IssueVectorMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	q := `
SELECT` + issueColumns + `,
	(embedding <=> $2)::double precision AS distance
FROM kb.issues
WHERE user_id = $1
  AND embedding IS NOT NULL
ORDER BY embedding <=> $2 ASC
LIMIT $3
`

	rows, err := p.Query(ctx, q, userID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query issue vectors: %w", err)
	}
	defer rows.Close()

	matches := make([]IssueVectorMatch, 0, limit)
	for rows.Next() {
		var (
			row          IssueRecord
			dependencies []byte
			tags         []byte
			distance     float64
		)
		if err := rows.Scan(
			&row.IssueID,
			&row.IssueUUID,
			&row.UserID,
			&row.ErrorType,
			&row.ErrorMessage,
			&row.StackTrace,
			&row.FilePath,
			&row.LineNumber,
			&row.FunctionName,
			&row.CodeSnippet,
			&row.Language,
			&row.Framework,
			&row.Environment,
			&row.OS,
			&dependencies,
			&tags,
			&row.Severity,
			&row.Status,
			&row.Embedding,
			&row.EmbeddingText,
			&row.Occurrences,
			&row.FirstOccurredAt,
			&row.LastOccurredAt,
			&row.CreatedAt,
			&row.UpdatedAt,
			&distance,
		); err != nil {
			return nil, fmt.Errorf("scan issue vector row: %w", err)
		}
		if len(dependencies) > 0 {
			row.Dependencies = append(json.RawMessage(nil), dependencies...)
		}
		row.Tags = decodeTagList(tags)
		matches = append(matches, IssueVectorMatch{Issue: row, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue vector rows: %w", err)
	}
	return matches, nil
}

// IncrementIssueOccurrence merges a duplicate submission into an
// existing issue: occurrences+1 and a fresh last_occurred_at.
func (p *Pool) IncrementIssueOccurrence(ctx context.Context, issueID, userID int64, occurredAt time.Time) (*IssueRecord, error) {
	q := `
UPDATE kb.issues
SET
	occurrences = occurrences + 1,
	last_occurred_at = $3,
	updated_at = $3
WHERE issue_id = $1
  AND user_id = $2
RETURNING` + issueColumns

	row, err := scanIssueRow(p.QueryRow(ctx, q, issueID, userID, occurredAt.UTC()))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("increment issue occurrence: %w", err)
	}
	return row, nil
}

func (p *Pool) UpdateIssue(ctx context.Context, issueID, userID int64, params IssueUpdateParams, now time.Time) (*IssueRecord, error) {
	setClauses := make([]string, 0, 8)
	args := []any{issueID, userID}

	addClause := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.ErrorType != nil {
		addClause("error_type", strings.TrimSpace(*params.ErrorType))
	}
	if params.ErrorMessage != nil {
		addClause("error_message", strings.TrimSpace(*params.ErrorMessage))
	}
	if params.StackTrace != nil {
		addClause("stack_trace", *params.StackTrace)
	}
	if params.Tags != nil {
		args = append(args, encodeTagList(params.Tags))
		setClauses = append(setClauses, fmt.Sprintf("tags = $%d::jsonb", len(args)))
	}
	if params.Severity != nil {
		addClause("severity", strings.TrimSpace(*params.Severity))
	}
	if params.Status != nil {
		addClause("status", strings.TrimSpace(*params.Status))
	}
	if params.Reembedded {
		var embedding any
		if len(params.Embedding) > 0 {
			embedding = pgvector.NewVector(params.Embedding)
		}
		addClause("embedding", embedding)
		addClause("embedding_text", nullableString(params.EmbeddingText))
	}

	if len(setClauses) == 0 {
		return p.getIssueByID(ctx, issueID, userID)
	}

	args = append(args, now.UTC())
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", len(args)))

	q := `
UPDATE kb.issues
SET ` + strings.Join(setClauses, ",\n\t") + `
WHERE issue_id = $1
  AND user_id = $2
RETURNING` + issueColumns

	row, err := scanIssueRow(p.QueryRow(ctx, q, args...))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("update issue: %w", err)
	}
	return row, nil
}

func (p *Pool) getIssueByID(ctx context.Context, issueID, userID int64) (*IssueRecord, error) {
	q := `
SELECT` + issueColumns + `
FROM kb.issues
WHERE issue_id = $1
  AND user_id = $2
LIMIT 1
`

	row, err := scanIssueRow(p.QueryRow(ctx, q, issueID, userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query issue by id: %w", err)
	}
	return row, nil
}

func (p *Pool) DeleteIssue(ctx context.Context, issueID, userID int64) error {
	const q = `
DELETE FROM kb.issues
WHERE issue_id = $1
  AND user_id = $2
`

	tag, err := p.Exec(ctx, q, issueID, userID)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// ListIssuesMissingEmbedding feeds the reembed command: issues whose
// embedding was degraded to NULL or never generated.
func (p *Pool) ListIssuesMissingEmbedding(ctx context.Context, limit int) ([]IssueRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
SELECT` + issueColumns + `
FROM kb.issues
WHERE embedding IS NULL
ORDER BY issue_id ASC
LIMIT $1
`

	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query issues missing embedding: %w", err)
	}
	defer rows.Close()

	items := make([]IssueRecord, 0, limit)
	for rows.Next() {
		row, err := scanIssueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue row: %w", err)
		}
		items = append(items, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue rows: %w", err)
	}
	return items, nil
}

func (p *Pool) SetIssueEmbedding(ctx context.Context, issueID int64, embedding []float32, embeddingText string, now time.Time) error {
	const q = `
UPDATE kb.issues
SET
	embedding = $2,
	embedding_text = $3,
	updated_at = $4
WHERE issue_id = $1
`

	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}

	tag, err := p.Exec(ctx, q, issueID, vec, nullableString(embeddingText), now.UTC())
	if err != nil {
		return fmt.Errorf("set issue embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func nullableString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func nullableJSON(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return []byte(value)
}
