package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/faultdex/faultdex/internal/db"
	"github.com/faultdex/faultdex/internal/suggest"
)

func (s *Server) handleSuggest(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	suggestion, _, err := s.generateSuggestion(c, principal.UserID)
	if err != nil {
		return s.suggestFailure(c, err)
	}
	return success(c, map[string]any{"suggestion": suggestion})
}

// handleSuggestAndSave generates a suggestion and stores it as an
// AI-authored solution on the issue in one call.
func (s *Server) handleSuggestAndSave(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	suggestion, issue, err := s.generateSuggestion(c, principal.UserID)
	if err != nil {
		return s.suggestFailure(c, err)
	}

	solution, err := s.store().InsertSolution(c.Request().Context(), db.InsertSolutionParams{
		IssueID:     issue.IssueID,
		CreatedBy:   principal.UserID,
		Title:       suggestion.Title,
		Description: suggestion.Description,
		AIGenerated: true,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("issue_uuid", issue.IssueUUID).Msg("save ai solution failed")
		return internalError(c, "Failed to save suggestion")
	}
	return successWithStatus(c, http.StatusCreated, map[string]any{
		"suggestion": suggestion,
		"solution":   solution,
	})
}

var errSuggestUpstream = errors.New("ai service unavailable")

func (s *Server) generateSuggestion(c echo.Context, userID int64) (*suggest.Suggestion, *db.IssueRecord, error) {
	if s.suggester == nil || !s.suggester.Enabled() {
		return nil, nil, suggest.ErrDisabled
	}

	issue, err := s.ownedIssue(c, userID)
	if err != nil {
		return nil, nil, err
	}

	suggestion, err := s.suggester.Suggest(c.Request().Context(), issue)
	if err != nil {
		if errors.Is(err, suggest.ErrDisabled) {
			return nil, nil, err
		}
		s.logger.Error().Err(err).Str("issue_uuid", issue.IssueUUID).Msg("generate suggestion failed")
		return nil, nil, errSuggestUpstream
	}
	return suggestion, issue, nil
}

func (s *Server) suggestFailure(c echo.Context, err error) error {
	switch {
	case errors.Is(err, suggest.ErrDisabled):
		return fail(c, http.StatusServiceUnavailable, "AI suggestions are not configured", nil)
	case errors.Is(err, errSuggestUpstream):
		return fail(c, http.StatusServiceUnavailable, "AI service unavailable", nil)
	case errors.Is(err, db.ErrNoRows):
		return failNotFound(c, "Issue not found")
	default:
		s.logger.Error().Err(err).Msg("load issue for suggestion failed")
		return internalError(c, "Failed to generate suggestion")
	}
}
