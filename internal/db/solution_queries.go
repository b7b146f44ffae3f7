package db

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// SolutionRecord is the scan target for kb.solutions rows.
type SolutionRecord struct {
	SolutionID   int64    `json:"-"`
	SolutionUUID string   `json:"id"`
	IssueID      int64    `json:"-"`
	IssueUUID    string   `json:"issue_id"`
	CreatedBy    int64    `json:"created_by"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	CodeFix      *string  `json:"code_fix,omitempty"`
	Steps        []string `json:"steps"`
	Tags         []string `json:"tags"`

	EffectivenessScore float64 `json:"effectiveness_score"`
	TimesUsed          int     `json:"times_used"`
	SuccessCount       int     `json:"success_count"`
	FailureCount       int     `json:"failure_count"`

	AIGenerated bool       `json:"ai_generated"`
	Verified    bool       `json:"verified"`
	VerifiedBy  *int64     `json:"verified_by,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InsertSolutionParams carries a new solution's fields.
type InsertSolutionParams struct {
	IssueID     int64
	CreatedBy   int64
	Title       string
	Description string
	CodeFix     *string
	Steps       []string
	Tags        []string
	AIGenerated bool
}

// SolutionUpdateParams holds partial updates; nil fields are untouched.
type SolutionUpdateParams struct {
	Title       *string
	Description *string
	CodeFix     *string
	Steps       []string
	Tags        []string
}

const solutionColumns = `
	s.solution_id,
	s.solution_uuid::text,
	s.issue_id,
	i.issue_uuid::text,
	s.created_by,
	s.title,
	s.description,
	s.code_fix,
	s.steps,
	s.tags,
	s.effectiveness_score,
	s.times_used,
	s.success_count,
	s.failure_count,
	s.ai_generated,
	s.verified,
	s.verified_by,
	s.verified_at,
	s.created_at,
	s.updated_at`

func solutionColumnsFor(alias string) string {
	return strings.ReplaceAll(solutionColumns, "s.", alias+".")
}

func scanSolutionRow(scanner rowScanner) (*SolutionRecord, error) {
	var (
		row   SolutionRecord
		steps []byte
		tags  []byte
	)
	if err := scanner.Scan(
		&row.SolutionID,
		&row.SolutionUUID,
		&row.IssueID,
		&row.IssueUUID,
		&row.CreatedBy,
		&row.Title,
		&row.Description,
		&row.CodeFix,
		&steps,
		&tags,
		&row.EffectivenessScore,
		&row.TimesUsed,
		&row.SuccessCount,
		&row.FailureCount,
		&row.AIGenerated,
		&row.Verified,
		&row.VerifiedBy,
		&row.VerifiedAt,
		&row.CreatedAt,
		&row.UpdatedAt,
	); err != nil {
		return nil, err
	}

	row.Steps = decodeTagList(steps)
	row.Tags = decodeTagList(tags)
	return &row, nil
}

func (p *Pool) InsertSolution(ctx context.Context, params InsertSolutionParams) (*SolutionRecord, error) {
	q := `
WITH inserted AS (
	INSERT INTO kb.solutions (
		issue_id,
		created_by,
		title,
		description,
		code_fix,
		steps,
		tags,
		ai_generated
	)
	VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)
	RETURNING *
)
SELECT` + solutionColumnsFor("inserted") + `
FROM inserted
JOIN kb.issues i ON i.issue_id = inserted.issue_id
`

	row, err := scanSolutionRow(p.QueryRow(
		ctx,
		q,
		params.IssueID,
		params.CreatedBy,
		strings.TrimSpace(params.Title),
		strings.TrimSpace(params.Description),
		params.CodeFix,
		encodeTagList(params.Steps),
		encodeTagList(params.Tags),
		params.AIGenerated,
	))
	if err != nil {
		return nil, fmt.Errorf("insert solution: %w", err)
	}
	return row, nil
}

// ListSolutionsForIssue orders by effectiveness so the most proven fix
// surfaces first.
func (p *Pool) ListSolutionsForIssue(ctx context.Context, issueID int64) ([]SolutionRecord, error) {
	q := `
SELECT` + solutionColumns + `
FROM kb.solutions s
JOIN kb.issues i ON i.issue_id = s.issue_id
WHERE s.issue_id = $1
ORDER BY s.effectiveness_score DESC, s.created_at DESC
`

	rows, err := p.Query(ctx, q, issueID)
	if err != nil {
		return nil, fmt.Errorf("query solutions: %w", err)
	}
	defer rows.Close()

	var items []SolutionRecord
	for rows.Next() {
		row, err := scanSolutionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan solution row: %w", err)
		}
		items = append(items, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate solution rows: %w", err)
	}
	return items, nil
}

func (p *Pool) GetSolutionByUUID(ctx context.Context, solutionUUID string) (*SolutionRecord, error) {
	q := `
SELECT` + solutionColumns + `
FROM kb.solutions s
JOIN kb.issues i ON i.issue_id = s.issue_id
WHERE s.solution_uuid = $1::uuid
LIMIT 1
`

	row, err := scanSolutionRow(p.QueryRow(ctx, q, strings.TrimSpace(solutionUUID)))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query solution by uuid: %w", err)
	}
	return row, nil
}

func (p *Pool) UpdateSolution(ctx context.Context, solutionID, createdBy int64, params SolutionUpdateParams, now time.Time) (*SolutionRecord, error) {
	setClauses := make([]string, 0, 6)
	args := []any{solutionID, createdBy}

	addClause := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Title != nil {
		addClause("title", strings.TrimSpace(*params.Title))
	}
	if params.Description != nil {
		addClause("description", strings.TrimSpace(*params.Description))
	}
	if params.CodeFix != nil {
		addClause("code_fix", *params.CodeFix)
	}
	if params.Steps != nil {
		args = append(args, encodeTagList(params.Steps))
		setClauses = append(setClauses, fmt.Sprintf("steps = $%d::jsonb", len(args)))
	}
	if params.Tags != nil {
		args = append(args, encodeTagList(params.Tags))
		setClauses = append(setClauses, fmt.Sprintf("tags = $%d::jsonb", len(args)))
	}

	if len(setClauses) == 0 {
		return nil, fmt.Errorf("no solution fields to update")
	}

	args = append(args, now.UTC())
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", len(args)))

	q := `
WITH updated AS (
	UPDATE kb.solutions
	SET ` + strings.Join(setClauses, ",\n\t") + `
	WHERE solution_id = $1
	  AND created_by = $2
	RETURNING *
)
SELECT` + solutionColumnsFor("updated") + `
FROM updated
JOIN kb.issues i ON i.issue_id = updated.issue_id
`

	row, err := scanSolutionRow(p.QueryRow(ctx, q, args...))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("update solution: %w", err)
	}
	return row, nil
}

func (p *Pool) DeleteSolution(ctx context.Context, solutionID, createdBy int64) error {
	const q = `
DELETE FROM kb.solutions
WHERE solution_id = $1
  AND created_by = $2
`

	tag, err := p.Exec(ctx, q, solutionID, createdBy)
	if err != nil {
		return fmt.Errorf("delete solution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// RecordSolutionFeedback upserts one user's helpful/unhelpful vote and
// refreshes the solution's usage counters and effectiveness score
// (success_count / times_used, rounded to two decimals).
func (p *Pool) RecordSolutionFeedback(ctx context.Context, solutionID, userID int64, wasHelpful bool, comment *string, now time.Time) error {
	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("begin feedback tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsertQ = `
INSERT INTO kb.solution_feedback (solution_id, user_id, was_helpful, comment, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (solution_id, user_id)
DO UPDATE SET
	was_helpful = EXCLUDED.was_helpful,
	comment = EXCLUDED.comment,
	created_at = EXCLUDED.created_at
`

	if _, err := tx.Exec(ctx, upsertQ, solutionID, userID, wasHelpful, comment, now.UTC()); err != nil {
		return fmt.Errorf("upsert solution feedback: %w", err)
	}

	const statsQ = `
SELECT times_used, success_count, failure_count
FROM kb.solutions
WHERE solution_id = $1
FOR UPDATE
`

	var timesUsed, successCount, failureCount int
	if err := tx.QueryRow(ctx, statsQ, solutionID).Scan(&timesUsed, &successCount, &failureCount); err != nil {
		if IsNoRows(err) {
			return ErrNoRows
		}
		return fmt.Errorf("query solution stats: %w", err)
	}

	timesUsed++
	if wasHelpful {
		successCount++
	} else {
		failureCount++
	}

	effectiveness := 0.0
	if timesUsed > 0 {
		effectiveness = math.Round(float64(successCount)/float64(timesUsed)*100) / 100
	}

	const updateQ = `
UPDATE kb.solutions
SET
	times_used = $2,
	success_count = $3,
	failure_count = $4,
	effectiveness_score = $5,
	updated_at = $6
WHERE solution_id = $1
`

	if _, err := tx.Exec(ctx, updateQ, solutionID, timesUsed, successCount, failureCount, effectiveness, now.UTC()); err != nil {
		return fmt.Errorf("update solution stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit feedback tx: %w", err)
	}
	return nil
}

func (p *Pool) VerifySolution(ctx context.Context, solutionID, verifiedBy int64, now time.Time) (*SolutionRecord, error) {
	q := `
WITH updated AS (
	UPDATE kb.solutions
	SET
		verified = TRUE,
		verified_by = $2,
		verified_at = $3,
		updated_at = $3
	WHERE solution_id = $1
	RETURNING *
)
SELECT` + solutionColumnsFor("updated") + `
FROM updated
JOIN kb.issues i ON i.issue_id = updated.issue_id
`

	row, err := scanSolutionRow(p.QueryRow(ctx, q, solutionID, verifiedBy, now.UTC()))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("verify solution: %w", err)
	}
	return row, nil
}

// CountSolutionsForUser counts solutions attached to a user's issues,
// for the analytics dashboard.
func (p *Pool) CountSolutionsForUser(ctx context.Context, userID int64) (int64, error) {
	const q = `
SELECT COUNT(*)
FROM kb.solutions s
JOIN kb.issues i ON i.issue_id = s.issue_id
WHERE i.user_id = $1
`

	var count int64
	if err := p.QueryRow(ctx, q, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count solutions: %w", err)
	}
	return count, nil
}
