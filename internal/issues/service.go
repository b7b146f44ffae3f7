// Package issues implements issue submission with semantic
// deduplication: new reports are embedded, compared against the
// owner's prior issues, and either merged into a near-identical
// existing issue or created alongside a list of loosely related ones.
package issues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/faultdex/faultdex/internal/db"
	"github.com/faultdex/faultdex/internal/embedding"
	"github.com/faultdex/faultdex/internal/globaltime"
	"github.com/faultdex/faultdex/internal/language"
)

const (
	// DuplicateThreshold is the similarity above which a submission is
	// merged into an existing issue instead of creating a new one.
	DuplicateThreshold = 0.9

	// SuggestionThreshold is the lower bar for surfacing related prior
	// issues alongside a newly created one.
	SuggestionThreshold = 0.7

	suggestionLimit = 5
	maxTags         = 10
)

// ErrInvalid marks caller mistakes (bad severity, status, blank
// submission) so the transport layer can map them to 400s.
var ErrInvalid = errors.New("invalid argument")

var validSeverities = map[string]bool{
	"critical": true,
	"high":     true,
	"medium":   true,
	"low":      true,
}

var validStatuses = map[string]bool{
	"open":      true,
	"resolved":  true,
	"recurring": true,
}

// Store is the persistence surface the service needs. *db.Pool
// satisfies it; tests substitute fakes.
type Store interface {
	InsertIssue(ctx context.Context, params db.InsertIssueParams) (*db.IssueRecord, error)
	GetIssueByUUID(ctx context.Context, issueUUID string, userID int64) (*db.IssueRecord, error)
	ListIssues(ctx context.Context, userID int64, opts db.IssueListOptions) ([]db.IssueRecord, error)
	ListIssuesForScan(ctx context.Context, userID int64) ([]db.IssueRecord, error)
	SearchIssueVectors(ctx context.Context, userID int64, embedding []float32, limit int) ([]db.IssueVectorMatch, error)
	IncrementIssueOccurrence(ctx context.Context, issueID, userID int64, occurredAt time.Time) (*db.IssueRecord, error)
	UpdateIssue(ctx context.Context, issueID, userID int64, params db.IssueUpdateParams, now time.Time) (*db.IssueRecord, error)
	DeleteIssue(ctx context.Context, issueID, userID int64) error
}

// Embedder turns text into a fixed-dimension vector. Only a failed
// one-time warmup surfaces as an error; encode failures degrade to a
// zero vector inside the implementation.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float64, error)
}

// Scorer computes cosine similarity over vectors in either native or
// serialized form.
type Scorer interface {
	Score(a, b any) float64
}

type Service struct {
	store    Store
	embedder Embedder
	scorer   Scorer
	logger   zerolog.Logger

	duplicateThreshold  float64
	suggestionThreshold float64

	// ownerLocks serializes the search-then-write sequence per owner so
	// two near-simultaneous submissions of the same error cannot both
	// miss the duplicate check and insert twice.
	ownerMu    sync.Mutex
	ownerLocks map[int64]*sync.Mutex
}

// Options overrides the default thresholds; zero values keep them.
type Options struct {
	DuplicateThreshold  float64
	SuggestionThreshold float64
}

func NewService(store Store, embedder Embedder, scorer Scorer, opts Options, logger zerolog.Logger) *Service {
	duplicate := opts.DuplicateThreshold
	if duplicate <= 0 {
		duplicate = DuplicateThreshold
	}
	suggestion := opts.SuggestionThreshold
	if suggestion <= 0 {
		suggestion = SuggestionThreshold
	}
	return &Service{
		store:               store,
		embedder:            embedder,
		scorer:              scorer,
		logger:              logger,
		duplicateThreshold:  duplicate,
		suggestionThreshold: suggestion,
		ownerLocks:          map[int64]*sync.Mutex{},
	}
}

func (s *Service) lockOwner(userID int64) *sync.Mutex {
	s.ownerMu.Lock()
	mu, ok := s.ownerLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.ownerLocks[userID] = mu
	}
	s.ownerMu.Unlock()
	return mu
}

// CreateParams carries a new issue submission. Optional fields are nil
// when absent.
type CreateParams struct {
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
}

// Match is a similar issue with its similarity to the query, in [0,1]
// for all practical embedding outputs.
type Match struct {
	Issue      db.IssueRecord `json:"issue"`
	Similarity float64        `json:"similarity"`
}

// CreateResult reports what a submission resolved to: the stored issue
// (new or the duplicate it merged into) plus related prior issues.
type CreateResult struct {
	Issue       *db.IssueRecord `json:"issue"`
	IsDuplicate bool            `json:"is_duplicate"`
	Related     []Match         `json:"similar_issues"`
}

// Create embeds the submission, merges it into an existing issue when
// one scores at or above the duplicate threshold, and otherwise
// inserts it and collects related prior issues above the suggestion
// threshold.
func (s *Service) Create(ctx context.Context, userID int64, params CreateParams) (*CreateResult, error) {
	if strings.TrimSpace(params.ErrorType) == "" && strings.TrimSpace(params.ErrorMessage) == "" {
		return nil, fmt.Errorf("%w: issue needs an error type or message", ErrInvalid)
	}

	tags := NormalizeTags(params.Tags)
	severity := normalizeSeverity(params.Severity)
	lang := language.NormalizeOptional(params.Language)

	text := embedding.BuildText(embedding.TextFields{
		ErrorType:    params.ErrorType,
		ErrorMessage: params.ErrorMessage,
		StackTrace:   derefString(params.StackTrace),
		Tags:         tags,
		Language:     derefString(lang),
		Framework:    derefString(params.Framework),
	})

	vector, err := s.embedder.Generate(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("generate embedding: %w", err)
	}

	mu := s.lockOwner(userID)
	mu.Lock()
	defer mu.Unlock()

	duplicates, err := s.findSimilar(ctx, userID, vector, s.duplicateThreshold, 1, 0)
	if err != nil {
		return nil, err
	}
	now := globaltime.UTC()

	if len(duplicates) > 0 {
		existing := duplicates[0].Issue
		merged, err := s.store.IncrementIssueOccurrence(ctx, existing.IssueID, userID, now)
		if err != nil {
			return nil, fmt.Errorf("increment occurrence: %w", err)
		}
		s.logger.Info().
			Str("issue_uuid", merged.IssueUUID).
			Float64("similarity", duplicates[0].Similarity).
			Int("occurrences", merged.Occurrences).
			Msg("submission merged into existing issue")
		return &CreateResult{Issue: merged, IsDuplicate: true, Related: []Match{}}, nil
	}

	created, err := s.store.InsertIssue(ctx, db.InsertIssueParams{
		UserID:       userID,
		ErrorType:    params.ErrorType,
		ErrorMessage: params.ErrorMessage,
		StackTrace:   params.StackTrace,

		FilePath:     params.FilePath,
		LineNumber:   params.LineNumber,
		FunctionName: params.FunctionName,
		CodeSnippet:  params.CodeSnippet,

		Language:     lang,
		Framework:    params.Framework,
		Environment:  params.Environment,
		OS:           params.OS,
		Dependencies: params.Dependencies,

		Tags:     tags,
		Severity: severity,

		Embedding:     storableVector(vector),
		EmbeddingText: text,

		OccurredAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("insert issue: %w", err)
	}

	related, err := s.findSimilar(ctx, userID, vector, s.suggestionThreshold, suggestionLimit, created.IssueID)
	if err != nil {
		// The issue is already stored; suggestions are advisory.
		s.logger.Warn().Err(err).Str("issue_uuid", created.IssueUUID).Msg("related-issue search failed")
		related = []Match{}
	}
	return &CreateResult{Issue: created, IsDuplicate: false, Related: related}, nil
}

// Search embeds free-form query text and returns the owner's issues
// above threshold, most similar first.
func (s *Service) Search(ctx context.Context, userID int64, query string, threshold float64, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = suggestionLimit
	}
	vector, err := s.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("generate embedding: %w", err)
	}
	return s.findSimilar(ctx, userID, vector, threshold, limit, 0)
}

// UpdateParams holds a partial edit; nil fields are untouched. Tags nil
// means unchanged, an empty non-nil slice clears them.
type UpdateParams struct {
	ErrorType    *string
	ErrorMessage *string
	StackTrace   *string
	Tags         []string
	Severity     *string
	Status       *string
}

// Update applies a partial edit. Changes to any field that feeds the
// embedding text (error type, message, stack trace, tags) rebuild the
// text and regenerate the stored embedding; other edits leave both
// alone.
func (s *Service) Update(ctx context.Context, userID int64, issueUUID string, params UpdateParams) (*db.IssueRecord, error) {
	existing, err := s.store.GetIssueByUUID(ctx, issueUUID, userID)
	if err != nil {
		return nil, err
	}

	if params.Severity != nil && !validSeverities[*params.Severity] {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalid, *params.Severity)
	}
	if params.Status != nil && !validStatuses[*params.Status] {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, *params.Status)
	}

	var tags []string
	if params.Tags != nil {
		tags = NormalizeTags(params.Tags)
	}

	update := db.IssueUpdateParams{
		ErrorType:    params.ErrorType,
		ErrorMessage: params.ErrorMessage,
		StackTrace:   params.StackTrace,
		Tags:         tags,
		Severity:     params.Severity,
		Status:       params.Status,
	}

	if s.needsReembed(existing, params, tags) {
		merged := embedding.TextFields{
			ErrorType:    pick(params.ErrorType, existing.ErrorType),
			ErrorMessage: pick(params.ErrorMessage, existing.ErrorMessage),
			StackTrace:   pick(params.StackTrace, derefString(existing.StackTrace)),
			Tags:         existing.Tags,
			Language:     derefString(existing.Language),
			Framework:    derefString(existing.Framework),
		}
		if params.Tags != nil {
			merged.Tags = tags
		}
		text := embedding.BuildText(merged)
		vector, err := s.embedder.Generate(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("generate embedding: %w", err)
		}
		update.Reembedded = true
		update.Embedding = storableVector(vector)
		update.EmbeddingText = text
	}

	updated, err := s.store.UpdateIssue(ctx, existing.IssueID, userID, update, globaltime.UTC())
	if err != nil {
		return nil, fmt.Errorf("update issue: %w", err)
	}
	return updated, nil
}

func (s *Service) needsReembed(existing *db.IssueRecord, params UpdateParams, tags []string) bool {
	if params.ErrorType != nil && *params.ErrorType != existing.ErrorType {
		return true
	}
	if params.ErrorMessage != nil && *params.ErrorMessage != existing.ErrorMessage {
		return true
	}
	if params.StackTrace != nil && *params.StackTrace != derefString(existing.StackTrace) {
		return true
	}
	if params.Tags != nil && !equalTags(tags, existing.Tags) {
		return true
	}
	return false
}

func (s *Service) Get(ctx context.Context, userID int64, issueUUID string) (*db.IssueRecord, error) {
	return s.store.GetIssueByUUID(ctx, issueUUID, userID)
}

func (s *Service) List(ctx context.Context, userID int64, opts db.IssueListOptions) ([]db.IssueRecord, error) {
	if opts.Status != "" && !validStatuses[opts.Status] {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, opts.Status)
	}
	if opts.Severity != "" && !validSeverities[opts.Severity] {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalid, opts.Severity)
	}
	return s.store.ListIssues(ctx, userID, opts)
}

func (s *Service) Delete(ctx context.Context, userID int64, issueUUID string) error {
	existing, err := s.store.GetIssueByUUID(ctx, issueUUID, userID)
	if err != nil {
		return err
	}
	return s.store.DeleteIssue(ctx, existing.IssueID, userID)
}

// vectorStage is the outcome of the accelerated nearest-neighbor
// query: either a set of qualifying matches or an explicit
// unavailability with its reason, so the orchestrator branches on the
// tag instead of intercepting errors.
type vectorStage struct {
	matches     []Match
	unavailable bool
	reason      string
}

// findSimilar runs the two-tier search: accelerated index query first,
// exhaustive in-process scan when that stage is unavailable or finds
// nothing qualifying. Both stages enforce the same threshold, limit
// and exclusion.
func (s *Service) findSimilar(ctx context.Context, userID int64, vector []float64, threshold float64, limit int, excludeID int64) ([]Match, error) {
	if embedding.IsZero(vector) {
		// Degraded zero vector: index distance is undefined (0/0)
		// against it, while the scan scorer defines it as 0.
		return s.scanSimilar(ctx, userID, vector, threshold, limit, excludeID)
	}
	stage := s.vectorSearch(ctx, userID, vector, threshold, limit, excludeID)
	if stage.unavailable {
		s.logger.Warn().
			Int64("user_id", userID).
			Str("reason", stage.reason).
			Msg("vector index unavailable, scanning exhaustively")
	} else if len(stage.matches) > 0 {
		return stage.matches, nil
	}
	return s.scanSimilar(ctx, userID, vector, threshold, limit, excludeID)
}

func (s *Service) vectorSearch(ctx context.Context, userID int64, vector []float64, threshold float64, limit int, excludeID int64) vectorStage {
	fetch := limit
	if excludeID > 0 {
		// The excluded issue is its own nearest neighbor; leave room.
		fetch++
	}
	rows, err := s.store.SearchIssueVectors(ctx, userID, embedding.ToFloat32(vector), fetch)
	if err != nil {
		return vectorStage{unavailable: true, reason: err.Error()}
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		if row.Issue.IssueID == excludeID {
			continue
		}
		similarity := 1 - row.Distance
		// Inverted gate so a NaN distance never qualifies.
		if !(similarity >= threshold) {
			continue
		}
		matches = append(matches, Match{Issue: row.Issue, Similarity: similarity})
		if len(matches) == limit {
			break
		}
	}
	return vectorStage{matches: matches}
}

func (s *Service) scanSimilar(ctx context.Context, userID int64, vector []float64, threshold float64, limit int, excludeID int64) ([]Match, error) {
	records, err := s.store.ListIssuesForScan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list issues for scan: %w", err)
	}

	matches := make([]Match, 0, len(records))
	for i := range records {
		record := &records[i]
		if record.IssueID == excludeID || record.Embedding == nil {
			continue
		}
		similarity := s.scorer.Score(vector, *record.Embedding)
		if similarity < threshold {
			continue
		}
		matches = append(matches, Match{Issue: *record, Similarity: similarity})
	}

	// Equal scores order newest first.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Issue.CreatedAt.After(matches[j].Issue.CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// NormalizeTags lowercases and trims tags, drops empties and repeats,
// and caps the list at ten entries, preserving first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, tag := range tags {
		cleaned := strings.ToLower(strings.TrimSpace(tag))
		if cleaned == "" || seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		out = append(out, cleaned)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func normalizeSeverity(severity string) string {
	cleaned := strings.ToLower(strings.TrimSpace(severity))
	if validSeverities[cleaned] {
		return cleaned
	}
	return "medium"
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// storableVector converts an embedding for persistence. Degraded zero
// vectors become nil so the column stays NULL and the reembed backfill
// can find the row later.
func storableVector(vector []float64) []float32 {
	if embedding.IsZero(vector) {
		return nil
	}
	return embedding.ToFloat32(vector)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func pick(override *string, current string) string {
	if override != nil {
		return *override
	}
	return current
}
