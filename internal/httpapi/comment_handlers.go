package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/faultdex/faultdex/internal/db"
	"github.com/faultdex/faultdex/internal/globaltime"
)

const maxCommentLength = 10_000

type commentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleCreateComment(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	issue, err := s.ownedIssue(c, principal.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Issue not found")
		}
		s.logger.Error().Err(err).Msg("load issue for comment failed")
		return internalError(c, "Failed to create comment")
	}

	var req commentRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return failValidation(c, map[string]string{"content": "is required"})
	}
	if len(content) > maxCommentLength {
		return failValidation(c, map[string]string{"content": "is too long"})
	}

	comment, err := s.store().InsertComment(c.Request().Context(), issue.IssueID, principal.UserID, content)
	if err != nil {
		s.logger.Error().Err(err).Str("issue_uuid", issue.IssueUUID).Msg("insert comment failed")
		return internalError(c, "Failed to create comment")
	}
	return successWithStatus(c, http.StatusCreated, comment)
}

func (s *Server) handleListComments(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	issue, err := s.ownedIssue(c, principal.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Issue not found")
		}
		s.logger.Error().Err(err).Msg("load issue for comments failed")
		return internalError(c, "Failed to list comments")
	}

	comments, err := s.store().ListCommentsForIssue(c.Request().Context(), issue.IssueID)
	if err != nil {
		s.logger.Error().Err(err).Str("issue_uuid", issue.IssueUUID).Msg("list comments failed")
		return internalError(c, "Failed to list comments")
	}
	if comments == nil {
		comments = []db.CommentRecord{}
	}
	return success(c, map[string]any{"items": comments})
}

func (s *Server) ownedComment(c echo.Context, userID int64) (*db.CommentRecord, error) {
	commentUUID := strings.TrimSpace(c.Param("comment_id"))
	if !isUUID(commentUUID) {
		return nil, db.ErrNoRows
	}
	comment, err := s.store().GetCommentByUUID(c.Request().Context(), commentUUID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store().GetIssueByUUID(c.Request().Context(), comment.IssueUUID, userID); err != nil {
		return nil, err
	}
	return comment, nil
}

func (s *Server) handleUpdateComment(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	comment, err := s.ownedComment(c, principal.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Comment not found")
		}
		s.logger.Error().Err(err).Msg("load comment failed")
		return internalError(c, "Failed to update comment")
	}

	var req commentRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return failValidation(c, map[string]string{"content": "is required"})
	}

	updated, err := s.store().UpdateComment(c.Request().Context(), comment.CommentID, principal.UserID, content, globaltime.UTC())
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return fail(c, http.StatusForbidden, "Only the author can edit a comment", nil)
		}
		s.logger.Error().Err(err).Str("comment_uuid", comment.CommentUUID).Msg("update comment failed")
		return internalError(c, "Failed to update comment")
	}
	return success(c, updated)
}

func (s *Server) handleDeleteComment(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	comment, err := s.ownedComment(c, principal.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Comment not found")
		}
		s.logger.Error().Err(err).Msg("load comment failed")
		return internalError(c, "Failed to delete comment")
	}

	if err := s.store().DeleteComment(c.Request().Context(), comment.CommentID, principal.UserID); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return fail(c, http.StatusForbidden, "Only the author can delete a comment", nil)
		}
		s.logger.Error().Err(err).Str("comment_uuid", comment.CommentUUID).Msg("delete comment failed")
		return internalError(c, "Failed to delete comment")
	}
	return success(c, map[string]any{"deleted": true})
}
