package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/faultdex/faultdex/internal/db"
	"github.com/faultdex/faultdex/internal/globaltime"
)

type solutionRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	CodeFix     *string  `json:"code_fix"`
	Steps       []string `json:"steps"`
	Tags        []string `json:"tags"`
	AIGenerated bool     `json:"ai_generated"`
}

type solutionUpdateRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	CodeFix     *string  `json:"code_fix"`
	Steps       []string `json:"steps"`
	Tags        []string `json:"tags"`
}

type feedbackRequest struct {
	WasHelpful *bool   `json:"was_helpful"`
	Comment    *string `json:"comment"`
}

// ownedIssue resolves an issue path param against the caller, so
// solution and comment routes cannot reach across owners.
func (s *Server) ownedIssue(c echo.Context, userID int64) (*db.IssueRecord, error) {
	issueUUID := strings.TrimSpace(c.Param("issue_id"))
	if !isUUID(issueUUID) {
		return nil, db.ErrNoRows
	}
	return s.store().GetIssueByUUID(c.Request().Context(), issueUUID, userID)
}

func (s *Server) handleCreateSolution(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	issue, err := s.ownedIssue(c, principal.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Issue not found")
		}
		s.logger.Error().Err(err).Msg("load issue for solution failed")
		return internalError(c, "Failed to create solution")
	}

	var req solutionRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if strings.TrimSpace(req.Title) == "" {
		return failValidation(c, map[string]string{"title": "is required"})
	}

	solution, err := s.store().InsertSolution(c.Request().Context(), db.InsertSolutionParams{
		IssueID:     issue.IssueID,
		CreatedBy:   principal.UserID,
		Title:       req.Title,
		Description: req.Description,
		CodeFix:     req.CodeFix,
		Steps:       req.Steps,
		Tags:        req.Tags,
		AIGenerated: req.AIGenerated,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("issue_uuid", issue.IssueUUID).Msg("insert solution failed")
		return internalError(c, "Failed to create solution")
	}
	return successWithStatus(c, http.StatusCreated, solution)
}

func (s *Server) handleListSolutions(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	issue, err := s.ownedIssue(c, principal.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Issue not found")
		}
		s.logger.Error().Err(err).Msg("load issue for solutions failed")
		return internalError(c, "Failed to list solutions")
	}

	solutions, err := s.store().ListSolutionsForIssue(c.Request().Context(), issue.IssueID)
	if err != nil {
		s.logger.Error().Err(err).Str("issue_uuid", issue.IssueUUID).Msg("list solutions failed")
		return internalError(c, "Failed to list solutions")
	}
	if solutions == nil {
		solutions = []db.SolutionRecord{}
	}
	return success(c, map[string]any{"items": solutions})
}

// ownedSolution resolves a solution path param and checks the parent
// issue belongs to the caller.
func (s *Server) ownedSolution(c echo.Context, userID int64) (*db.SolutionRecord, error) {
	solutionUUID := strings.TrimSpace(c.Param("solution_id"))
	if !isUUID(solutionUUID) {
		return nil, db.ErrNoRows
	}
	solution, err := s.store().GetSolutionByUUID(c.Request().Context(), solutionUUID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store().GetIssueByUUID(c.Request().Context(), solution.IssueUUID, userID); err != nil {
		return nil, err
	}
	return solution, nil
}

func (s *Server) handleUpdateSolution(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	solution, err := s.ownedSolution(c, principal.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Solution not found")
		}
		s.logger.Error().Err(err).Msg("load solution failed")
		return internalError(c, "Failed to update solution")
	}

	var req solutionUpdateRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return failValidation(c, map[string]string{"title": "must not be empty"})
	}

	updated, err := s.store().UpdateSolution(c.Request().Context(), solution.SolutionID, principal.UserID, db.SolutionUpdateParams{
		Title:       req.Title,
		Description: req.Description,
		CodeFix:     req.CodeFix,
		Steps:       req.Steps,
		Tags:        req.Tags,
	}, globaltime.UTC())
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return fail(c, http.StatusForbidden, "Only the author can edit a solution", nil)
		}
		s.logger.Error().Err(err).Str("solution_uuid", solution.SolutionUUID).Msg("update solution failed")
		return internalError(c, "Failed to update solution")
	}
	return success(c, updated)
}

func (s *Server) handleDeleteSolution(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	solution, err := s.ownedSolution(c, principal.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Solution not found")
		}
		s.logger.Error().Err(err).Msg("load solution failed")
		return internalError(c, "Failed to delete solution")
	}

	if err := s.store().DeleteSolution(c.Request().Context(), solution.SolutionID, principal.UserID); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return fail(c, http.StatusForbidden, "Only the author can delete a solution", nil)
		}
		s.logger.Error().Err(err).Str("solution_uuid", solution.SolutionUUID).Msg("delete solution failed")
		return internalError(c, "Failed to delete solution")
	}
	return success(c, map[string]any{"deleted": true})
}

func (s *Server) handleSolutionFeedback(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	solution, err := s.ownedSolution(c, principal.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Solution not found")
		}
		s.logger.Error().Err(err).Msg("load solution failed")
		return internalError(c, "Failed to record feedback")
	}

	var req feedbackRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if req.WasHelpful == nil {
		return failValidation(c, map[string]string{"was_helpful": "is required"})
	}

	if err := s.store().RecordSolutionFeedback(c.Request().Context(), solution.SolutionID, principal.UserID, *req.WasHelpful, req.Comment, globaltime.UTC()); err != nil {
		s.logger.Error().Err(err).Str("solution_uuid", solution.SolutionUUID).Msg("record feedback failed")
		return internalError(c, "Failed to record feedback")
	}

	refreshed, err := s.store().GetSolutionByUUID(c.Request().Context(), solution.SolutionUUID)
	if err != nil {
		s.logger.Error().Err(err).Str("solution_uuid", solution.SolutionUUID).Msg("reload solution failed")
		return internalError(c, "Failed to record feedback")
	}
	return success(c, refreshed)
}

func (s *Server) handleVerifySolution(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	solution, err := s.ownedSolution(c, principal.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Solution not found")
		}
		s.logger.Error().Err(err).Msg("load solution failed")
		return internalError(c, "Failed to verify solution")
	}

	verified, err := s.store().VerifySolution(c.Request().Context(), solution.SolutionID, principal.UserID, globaltime.UTC())
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Solution not found")
		}
		s.logger.Error().Err(err).Str("solution_uuid", solution.SolutionUUID).Msg("verify solution failed")
		return internalError(c, "Failed to verify solution")
	}
	return success(c, verified)
}
