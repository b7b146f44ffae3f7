package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

const maxImportBytes = 32 << 20

func (s *Server) handleExportJSON(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	envelope, err := s.exporter.ExportJSON(c.Request().Context(), principal.UserID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", principal.UserID).Msg("export json failed")
		return internalError(c, "Failed to export issues")
	}

	payload, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal export failed")
		return internalError(c, "Failed to export issues")
	}

	c.Response().Header().Set("Content-Disposition", `attachment; filename=faultdex_export.json`)
	return c.Blob(http.StatusOK, "application/json", payload)
}

func (s *Server) handleExportCSV(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	content, err := s.exporter.ExportCSV(c.Request().Context(), principal.UserID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", principal.UserID).Msg("export csv failed")
		return internalError(c, "Failed to export issues")
	}
	if content == "" {
		return failNotFound(c, "No issues to export")
	}

	c.Response().Header().Set("Content-Disposition", `attachment; filename=faultdex_export.csv`)
	return c.Blob(http.StatusOK, "text/csv", []byte(content))
}

// handleImport accepts either a multipart upload under the "file"
// field or a raw JSON body.
func (s *Server) handleImport(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	payload, err := readImportPayload(c)
	if err != nil {
		return failValidation(c, map[string]string{"file": err.Error()})
	}

	result, err := s.exporter.ImportJSON(c.Request().Context(), principal.UserID, payload)
	if err != nil {
		// Validation problems are the caller's, not ours.
		return failValidation(c, map[string]string{"file": err.Error()})
	}
	return success(c, result)
}

func readImportPayload(c echo.Context) ([]byte, error) {
	if file, err := c.FormFile("file"); err == nil && file != nil {
		src, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return io.ReadAll(io.LimitReader(src, maxImportBytes))
	}

	body := c.Request().Body
	if body == nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "request body is required")
	}
	return io.ReadAll(io.LimitReader(body, maxImportBytes))
}
