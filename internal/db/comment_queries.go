package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CommentRecord is the scan target for kb.comments rows.
type CommentRecord struct {
	CommentID   int64     `json:"-"`
	CommentUUID string    `json:"id"`
	IssueID     int64     `json:"-"`
	IssueUUID   string    `json:"issue_id"`
	UserID      int64     `json:"user_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const commentColumns = `
	c.comment_id,
	c.comment_uuid::text,
	c.issue_id,
	i.issue_uuid::text,
	c.user_id,
	c.content,
	c.created_at,
	c.updated_at`

func commentColumnsFor(alias string) string {
	return strings.ReplaceAll(commentColumns, "c.", alias+".")
}

func scanCommentRow(scanner rowScanner) (*CommentRecord, error) {
	var row CommentRecord
	if err := scanner.Scan(
		&row.CommentID,
		&row.CommentUUID,
		&row.IssueID,
		&row.IssueUUID,
		&row.UserID,
		&row.Content,
		&row.CreatedAt,
		&row.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &row, nil
}

func (p *Pool) InsertComment(ctx context.Context, issueID, userID int64, content string) (*CommentRecord, error) {
	q := `
WITH inserted AS (
	INSERT INTO kb.comments (issue_id, user_id, content)
	VALUES ($1, $2, $3)
	RETURNING *
)
SELECT` + commentColumnsFor("inserted") + `
FROM inserted
JOIN kb.issues i ON i.issue_id = inserted.issue_id
`

	row, err := scanCommentRow(p.QueryRow(ctx, q, issueID, userID, strings.TrimSpace(content)))
	if err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	return row, nil
}

func (p *Pool) ListCommentsForIssue(ctx context.Context, issueID int64) ([]CommentRecord, error) {
	q := `
SELECT` + commentColumns + `
FROM kb.comments c
JOIN kb.issues i ON i.issue_id = c.issue_id
WHERE c.issue_id = $1
ORDER BY c.created_at ASC, c.comment_id ASC
`

	rows, err := p.Query(ctx, q, issueID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	var items []CommentRecord
	for rows.Next() {
		row, err := scanCommentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment row: %w", err)
		}
		items = append(items, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment rows: %w", err)
	}
	return items, nil
}

func (p *Pool) GetCommentByUUID(ctx context.Context, commentUUID string) (*CommentRecord, error) {
	q := `
SELECT` + commentColumns + `
FROM kb.comments c
JOIN kb.issues i ON i.issue_id = c.issue_id
WHERE c.comment_uuid = $1::uuid
LIMIT 1
`

	row, err := scanCommentRow(p.QueryRow(ctx, q, strings.TrimSpace(commentUUID)))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query comment by uuid: %w", err)
	}
	return row, nil
}

func (p *Pool) UpdateComment(ctx context.Context, commentID, userID int64, content string, now time.Time) (*CommentRecord, error) {
	q := `
WITH updated AS (
	UPDATE kb.comments
	SET
		content = $3,
		updated_at = $4
	WHERE comment_id = $1
	  AND user_id = $2
	RETURNING *
)
SELECT` + commentColumnsFor("updated") + `
FROM updated
JOIN kb.issues i ON i.issue_id = updated.issue_id
`

	row, err := scanCommentRow(p.QueryRow(ctx, q, commentID, userID, strings.TrimSpace(content), now.UTC()))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("update comment: %w", err)
	}
	return row, nil
}

func (p *Pool) DeleteComment(ctx context.Context, commentID, userID int64) error {
	const q = `
DELETE FROM kb.comments
WHERE comment_id = $1
  AND user_id = $2
`

	tag, err := p.Exec(ctx, q, commentID, userID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}
