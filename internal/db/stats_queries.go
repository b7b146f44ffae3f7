package db

import (
	"context"
	"fmt"
	"time"
)

// DashboardStats is the analytics overview for one user.
type DashboardStats struct {
	TotalIssues     int64            `json:"total_issues"`
	OpenIssues      int64            `json:"open_issues"`
	ResolvedIssues  int64            `json:"resolved_issues"`
	RecurringIssues int64            `json:"recurring_issues"`
	ResolutionRate  float64          `json:"resolution_rate"`
	TotalSolutions  int64            `json:"total_solutions"`
	BySeverity      map[string]int64 `json:"issues_by_severity"`
	TopErrorTypes   []ErrorTypeCount `json:"top_error_types"`
}

type ErrorTypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// TrendBucket is one day of issue activity.
type TrendBucket struct {
	Date     string `json:"date"`
	Total    int64  `json:"total"`
	Resolved int64  `json:"resolved"`
	Open     int64  `json:"open"`
}

type LanguageCount struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}

func (p *Pool) QueryDashboardStats(ctx context.Context, userID int64) (*DashboardStats, error) {
	stats := &DashboardStats{
		BySeverity:    map[string]int64{"critical": 0, "high": 0, "medium": 0, "low": 0},
		TopErrorTypes: []ErrorTypeCount{},
	}

	const totalsQ = `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'open'),
	COUNT(*) FILTER (WHERE status = 'resolved'),
	COUNT(*) FILTER (WHERE status = 'recurring')
FROM kb.issues
WHERE user_id = $1
`

	if err := p.QueryRow(ctx, totalsQ, userID).Scan(
		&stats.TotalIssues,
		&stats.OpenIssues,
		&stats.ResolvedIssues,
		&stats.RecurringIssues,
	); err != nil {
		return nil, fmt.Errorf("query issue totals: %w", err)
	}

	if stats.TotalIssues > 0 {
		stats.ResolutionRate = float64(stats.ResolvedIssues) / float64(stats.TotalIssues)
	}

	const severityQ = `
SELECT severity, COUNT(*)
FROM kb.issues
WHERE user_id = $1
GROUP BY severity
`

	severityRows, err := p.Query(ctx, severityQ, userID)
	if err != nil {
		return nil, fmt.Errorf("query severity counts: %w", err)
	}
	defer severityRows.Close()

	for severityRows.Next() {
		var (
			severity string
			count    int64
		)
		if err := severityRows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("scan severity count: %w", err)
		}
		stats.BySeverity[severity] = count
	}
	if err := severityRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate severity counts: %w", err)
	}

	const errorTypesQ = `
SELECT error_type, COUNT(*)
FROM kb.issues
WHERE user_id = $1
GROUP BY error_type
ORDER BY COUNT(*) DESC, error_type ASC
LIMIT 10
`

	typeRows, err := p.Query(ctx, errorTypesQ, userID)
	if err != nil {
		return nil, fmt.Errorf("query top error types: %w", err)
	}
	defer typeRows.Close()

	for typeRows.Next() {
		var row ErrorTypeCount
		if err := typeRows.Scan(&row.Type, &row.Count); err != nil {
			return nil, fmt.Errorf("scan error type count: %w", err)
		}
		stats.TopErrorTypes = append(stats.TopErrorTypes, row)
	}
	if err := typeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error type counts: %w", err)
	}

	solutions, err := p.CountSolutionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats.TotalSolutions = solutions

	return stats, nil
}

// QueryErrorTrends returns one bucket per day over the window,
// zero-filled so the dashboard chart has no gaps.
func (p *Pool) QueryErrorTrends(ctx context.Context, userID int64, days int, now time.Time) ([]TrendBucket, error) {
	if days <= 0 {
		days = 7
	}

	end := now.UTC()
	start := end.AddDate(0, 0, -days)

	const q = `
SELECT
	to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'resolved'),
	COUNT(*) FILTER (WHERE status = 'open')
FROM kb.issues
WHERE user_id = $1
  AND created_at >= $2
GROUP BY day
ORDER BY day ASC
`

	rows, err := p.Query(ctx, q, userID, start)
	if err != nil {
		return nil, fmt.Errorf("query error trends: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]TrendBucket, days)
	for rows.Next() {
		var bucket TrendBucket
		if err := rows.Scan(&bucket.Date, &bucket.Total, &bucket.Resolved, &bucket.Open); err != nil {
			return nil, fmt.Errorf("scan trend bucket: %w", err)
		}
		byDay[bucket.Date] = bucket
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trend buckets: %w", err)
	}

	trend := make([]TrendBucket, 0, days)
	for i := 0; i < days; i++ {
		day := end.AddDate(0, 0, -(days - i - 1)).Format("2006-01-02")
		if bucket, exists := byDay[day]; exists {
			trend = append(trend, bucket)
			continue
		}
		trend = append(trend, TrendBucket{Date: day})
	}
	return trend, nil
}

func (p *Pool) QueryLanguageDistribution(ctx context.Context, userID int64) ([]LanguageCount, error) {
	const q = `
SELECT COALESCE(NULLIF(TRIM(language), ''), 'unknown'), COUNT(*)
FROM kb.issues
WHERE user_id = $1
GROUP BY 1
ORDER BY COUNT(*) DESC, 1 ASC
`

	rows, err := p.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query language distribution: %w", err)
	}
	defer rows.Close()

	var distribution []LanguageCount
	for rows.Next() {
		var row LanguageCount
		if err := rows.Scan(&row.Language, &row.Count); err != nil {
			return nil, fmt.Errorf("scan language count: %w", err)
		}
		distribution = append(distribution, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate language counts: %w", err)
	}
	return distribution, nil
}
