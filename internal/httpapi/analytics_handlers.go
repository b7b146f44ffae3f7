package httpapi

import (
	"github.com/labstack/echo/v4"

	"github.com/faultdex/faultdex/internal/db"
	"github.com/faultdex/faultdex/internal/globaltime"
)

func (s *Server) handleDashboard(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	stats, err := s.store().QueryDashboardStats(c.Request().Context(), principal.UserID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", principal.UserID).Msg("query dashboard stats failed")
		return internalError(c, "Failed to load dashboard stats")
	}
	return success(c, stats)
}

func (s *Server) handleTrends(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	days, err := parsePositiveInt(c.QueryParam("days"), 30, 1, 365)
	if err != nil {
		return failValidation(c, map[string]string{"days": err.Error()})
	}

	buckets, err := s.store().QueryErrorTrends(c.Request().Context(), principal.UserID, days, globaltime.UTC())
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", principal.UserID).Msg("query error trends failed")
		return internalError(c, "Failed to load error trends")
	}
	if buckets == nil {
		buckets = []db.TrendBucket{}
	}
	return success(c, map[string]any{
		"items": buckets,
		"days":  days,
	})
}

func (s *Server) handleLanguages(c echo.Context) error {
	principal, ok := principalFromContext(c)
	if !ok {
		return unauthorizedResponse(c)
	}

	counts, err := s.store().QueryLanguageDistribution(c.Request().Context(), principal.UserID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", principal.UserID).Msg("query language distribution failed")
		return internalError(c, "Failed to load language distribution")
	}
	if counts == nil {
		counts = []db.LanguageCount{}
	}
	return success(c, map[string]any{"items": counts})
}
