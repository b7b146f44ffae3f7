package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/faultdex/faultdex/internal/db"
	"github.com/faultdex/faultdex/internal/issues"
)

type issueRequest struct {
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
}

type issueUpdateRequest struct {
	ErrorType    *string  `json:"error_type"`
	ErrorMessage *string  `json:"error_message"`
	StackTrace   *string  `json:"stack_trace"`
	Tags         []string `json:"tags"`
	Severity     *string  `json:"severity"`
	Status       *string  `json:"status"`
}

func (s *Server) handleCreateIssue(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	var req issueRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if strings.TrimSpace(req.ErrorType) == "" && strings.TrimSpace(req.ErrorMessage) == "" {
		return failValidation(c, map[string]string{
			"error_type":    "one of error_type or error_message is required",
			"error_message": "one of error_type or error_message is required",
		})
	}

	result, err := s.issues.Create(c.Request().Context(), principal.UserID, issues.CreateParams{
		ErrorType:    req.ErrorType,
		ErrorMessage: req.ErrorMessage,
		StackTrace:   req.StackTrace,

		FilePath:     req.FilePath,
		LineNumber:   req.LineNumber,
		FunctionName: req.FunctionName,
		CodeSnippet:  req.CodeSnippet,

		Language:     req.Language,
		Framework:    req.Framework,
		Environment:  req.Environment,
		OS:           req.OS,
		Dependencies: req.Dependencies,

		Tags:     req.Tags,
		Severity: req.Severity,
	})
	if err != nil {
		if errors.Is(err, issues.ErrInvalid) {
			return failValidation(c, map[string]string{"body": err.Error()})
		}
		s.logger.Error().Err(err).Int64("user_id", principal.UserID).Msg("create issue failed")
		return internalError(c, "Failed to create issue")
	}

	status := http.StatusCreated
	if result.IsDuplicate {
		// Merged into an existing issue, nothing new was created.
		status = http.StatusOK
	}
	return successWithStatus(c, status, result)
}

func (s *Server) handleListIssues(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	offset, err := parsePositiveInt(c.QueryParam("offset"), 0, 0, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"offset": err.Error()})
	}

	opts := db.IssueListOptions{
		Status:   strings.TrimSpace(strings.ToLower(c.QueryParam("status"))),
		Severity: strings.TrimSpace(strings.ToLower(c.QueryParam("severity"))),
		Limit:    limit,
		Offset:   offset,
	}

	records, err := s.issues.List(c.Request().Context(), principal.UserID, opts)
	if err != nil {
		if errors.Is(err, issues.ErrInvalid) {
			return failValidation(c, map[string]string{"filter": err.Error()})
		}
		s.logger.Error().Err(err).Int64("user_id", principal.UserID).Msg("list issues failed")
		return internalError(c, "Failed to list issues")
	}
	if records == nil {
		records = []db.IssueRecord{}
	}

	return success(c, map[string]any{
		"items":  records,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleSearchIssues(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return failValidation(c, map[string]string{"q": "is required"})
	}

	threshold, err := parseThreshold(c.QueryParam("threshold"), 0.5)
	if err != nil {
		return failValidation(c, map[string]string{"threshold": err.Error()})
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), 10, 1, 50)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	matches, err := s.issues.Search(c.Request().Context(), principal.UserID, query, threshold, limit)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", principal.UserID).Msg("search issues failed")
		return internalError(c, "Failed to search issues")
	}
	if matches == nil {
		matches = []issues.Match{}
	}

	return success(c, map[string]any{
		"items":     matches,
		"query":     query,
		"threshold": threshold,
		"limit":     limit,
	})
}

func (s *Server) handleGetIssue(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	issueUUID := strings.TrimSpace(c.Param("issue_id"))
	if !isUUID(issueUUID) {
		return failValidation(c, map[string]string{"issue_id": "must be a UUID"})
	}

	record, err := s.issues.Get(c.Request().Context(), principal.UserID, issueUUID)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Issue not found")
		}
		s.logger.Error().Err(err).Str("issue_uuid", issueUUID).Msg("get issue failed")
		return internalError(c, "Failed to load issue")
	}
	return success(c, record)
}

func (s *Server) handleUpdateIssue(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	issueUUID := strings.TrimSpace(c.Param("issue_id"))
	if !isUUID(issueUUID) {
		return failValidation(c, map[string]string{"issue_id": "must be a UUID"})
	}

	var req issueUpdateRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	record, err := s.issues.Update(c.Request().Context(), principal.UserID, issueUUID, issues.UpdateParams{
		ErrorType:    req.ErrorType,
		ErrorMessage: req.ErrorMessage,
		StackTrace:   req.StackTrace,
		Tags:         req.Tags,
		Severity:     req.Severity,
		Status:       req.Status,
	})
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Issue not found")
		}
		if errors.Is(err, issues.ErrInvalid) {
			return failValidation(c, map[string]string{"body": err.Error()})
		}
		s.logger.Error().Err(err).Str("issue_uuid", issueUUID).Msg("update issue failed")
		return internalError(c, "Failed to update issue")
	}
	return success(c, record)
}

func (s *Server) handleDeleteIssue(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	issueUUID := strings.TrimSpace(c.Param("issue_id"))
	if !isUUID(issueUUID) {
		return failValidation(c, map[string]string{"issue_id": "must be a UUID"})
	}

	if err := s.issues.Delete(c.Request().Context(), principal.UserID, issueUUID); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Issue not found")
		}
		s.logger.Error().Err(err).Str("issue_uuid", issueUUID).Msg("delete issue failed")
		return internalError(c, "Failed to delete issue")
	}
	return success(c, map[string]any{"deleted": true})
}
