// Package httpapi exposes the knowledge base over a JSON API: session
// auth, issue CRUD with semantic dedup and search, solutions with
// feedback, comments, analytics, export/import and AI suggestions.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/faultdex/faultdex/internal/db"
	"github.com/faultdex/faultdex/internal/export"
	"github.com/faultdex/faultdex/internal/globaltime"
	"github.com/faultdex/faultdex/internal/issues"
	"github.com/faultdex/faultdex/internal/suggest"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	SessionCookie string
	SessionSecure bool
	SessionTTL    time.Duration

	CORSOrigins []string
}

type issueService interface {
	Create(ctx context.Context, userID int64, params issues.CreateParams) (*issues.CreateResult, error)
	Get(ctx context.Context, userID int64, issueUUID string) (*db.IssueRecord, error)
	List(ctx context.Context, userID int64, opts db.IssueListOptions) ([]db.IssueRecord, error)
	Update(ctx context.Context, userID int64, issueUUID string, params issues.UpdateParams) (*db.IssueRecord, error)
	Delete(ctx context.Context, userID int64, issueUUID string) error
	Search(ctx context.Context, userID int64, query string, threshold float64, limit int) ([]issues.Match, error)
}

type exportService interface {
	ExportJSON(ctx context.Context, userID int64) (*export.Envelope, error)
	ExportCSV(ctx context.Context, userID int64) (string, error)
	ImportJSON(ctx context.Context, userID int64, payload []byte) (*export.ImportResult, error)
}

type suggestService interface {
	Enabled() bool
	Suggest(ctx context.Context, issue *db.IssueRecord) (*suggest.Suggestion, error)
}

// dataStore covers the solution, comment and analytics queries the
// handlers run directly. *db.Pool satisfies it; tests substitute fakes.
type dataStore interface {
	GetIssueByUUID(ctx context.Context, issueUUID string, userID int64) (*db.IssueRecord, error)

	InsertSolution(ctx context.Context, params db.InsertSolutionParams) (*db.SolutionRecord, error)
	ListSolutionsForIssue(ctx context.Context, issueID int64) ([]db.SolutionRecord, error)
	GetSolutionByUUID(ctx context.Context, solutionUUID string) (*db.SolutionRecord, error)
	UpdateSolution(ctx context.Context, solutionID, createdBy int64, params db.SolutionUpdateParams, now time.Time) (*db.SolutionRecord, error)
	DeleteSolution(ctx context.Context, solutionID, createdBy int64) error
	RecordSolutionFeedback(ctx context.Context, solutionID, userID int64, wasHelpful bool, comment *string, now time.Time) error
	VerifySolution(ctx context.Context, solutionID, verifiedBy int64, now time.Time) (*db.SolutionRecord, error)

	InsertComment(ctx context.Context, issueID, userID int64, content string) (*db.CommentRecord, error)
	ListCommentsForIssue(ctx context.Context, issueID int64) ([]db.CommentRecord, error)
	GetCommentByUUID(ctx context.Context, commentUUID string) (*db.CommentRecord, error)
	UpdateComment(ctx context.Context, commentID, userID int64, content string, now time.Time) (*db.CommentRecord, error)
	DeleteComment(ctx context.Context, commentID, userID int64) error

	QueryDashboardStats(ctx context.Context, userID int64) (*db.DashboardStats, error)
	QueryErrorTrends(ctx context.Context, userID int64, days int, now time.Time) ([]db.TrendBucket, error)
	QueryLanguageDistribution(ctx context.Context, userID int64) ([]db.LanguageCount, error)
}

type Server struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options

	issues    issueService
	exporter  exportService
	suggester suggestService

	// Test seams; nil falls through to pool.
	authStore authStore
	dataStore dataStore
}

func NewServer(pool *db.Pool, issueSvc issueService, exporter exportService, suggester suggestService, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	cookie := strings.TrimSpace(opts.SessionCookie)
	if cookie == "" {
		cookie = "faultdex_session"
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Server{
		pool:      pool,
		logger:    logger,
		issues:    issueSvc,
		exporter:  exporter,
		suggester: suggester,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			SessionCookie:   cookie,
			SessionSecure:   opts.SessionSecure,
			SessionTTL:      ttl,
			CORSOrigins:     origins,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("api server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     s.opts.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)

	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/logout", s.handleLogout)

	authed := api.Group("", s.requireAuth())
	authed.GET("/auth/me", s.handleMe)
	authed.POST("/auth/change-password", s.handleChangePassword)
	authed.GET("/auth/settings", s.handleGetSettings)
	authed.PUT("/auth/settings", s.handleUpdateSettings)

	authed.POST("/issues", s.handleCreateIssue)
	authed.GET("/issues", s.handleListIssues)
	authed.GET("/issues/search", s.handleSearchIssues)
	authed.GET("/issues/:issue_id", s.handleGetIssue)
	authed.PUT("/issues/:issue_id", s.handleUpdateIssue)
	authed.DELETE("/issues/:issue_id", s.handleDeleteIssue)

	authed.POST("/issues/:issue_id/solutions", s.handleCreateSolution)
	authed.GET("/issues/:issue_id/solutions", s.handleListSolutions)
	authed.PUT("/solutions/:solution_id", s.handleUpdateSolution)
	authed.DELETE("/solutions/:solution_id", s.handleDeleteSolution)
	authed.POST("/solutions/:solution_id/feedback", s.handleSolutionFeedback)
	authed.POST("/solutions/:solution_id/verify", s.handleVerifySolution)

	authed.POST("/issues/:issue_id/comments", s.handleCreateComment)
	authed.GET("/issues/:issue_id/comments", s.handleListComments)
	authed.PUT("/comments/:comment_id", s.handleUpdateComment)
	authed.DELETE("/comments/:comment_id", s.handleDeleteComment)

	authed.GET("/analytics/dashboard", s.handleDashboard)
	authed.GET("/analytics/trends", s.handleTrends)
	authed.GET("/analytics/languages", s.handleLanguages)

	authed.GET("/export/json", s.handleExportJSON)
	authed.GET("/export/csv", s.handleExportCSV)
	authed.POST("/export/import", s.handleImport)

	authed.POST("/issues/:issue_id/suggest", s.handleSuggest)
	authed.POST("/issues/:issue_id/suggest-and-save", s.handleSuggestAndSave)

	return e
}

func (s *Server) store() dataStore {
	if s.dataStore != nil {
		return s.dataStore
	}
	return s.pool
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "faultdex",
		"time":    globaltime.UTC(),
	})
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseThreshold(raw string, defaultValue float64) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("must be a number")
	}
	if value < 0 || value > 1 {
		return 0, fmt.Errorf("must be between 0 and 1")
	}
	return value, nil
}
