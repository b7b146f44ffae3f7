package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/faultdex/faultdex/internal/cli"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	userID := fs.Int64("user", 1, "User ID to report on")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}
	if *userID < 1 {
		fmt.Fprintln(os.Stderr, "--user must be >= 1")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, pool, _, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	stats, err := pool.QueryDashboardStats(ctx, *userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query dashboard stats: %v\n", err)
		return 1
	}
	languages, err := pool.QueryLanguageDistribution(ctx, *userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query language distribution: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		payload := map[string]any{
			"stats":     stats,
			"languages": languages,
		}
		if err := printJSON(payload); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	summaryRows := [][]string{
		{"total_issues", fmt.Sprintf("%d", stats.TotalIssues)},
		{"open_issues", fmt.Sprintf("%d", stats.OpenIssues)},
		{"resolved_issues", fmt.Sprintf("%d", stats.ResolvedIssues)},
		{"recurring_issues", fmt.Sprintf("%d", stats.RecurringIssues)},
		{"resolution_rate", fmt.Sprintf("%.1f%%", stats.ResolutionRate)},
		{"total_solutions", fmt.Sprintf("%d", stats.TotalSolutions)},
	}
	if err := writeTable([]string{"metric", "value"}, summaryRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render summary table: %v\n", err)
		return 1
	}

	fmt.Println()
	severityRows := make([][]string, 0, len(stats.BySeverity))
	for _, severity := range []string{"critical", "high", "medium", "low"} {
		severityRows = append(severityRows, []string{
			severity,
			fmt.Sprintf("%d", stats.BySeverity[severity]),
		})
	}
	if err := writeTable([]string{"severity", "issues"}, severityRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render severity table: %v\n", err)
		return 1
	}

	if len(stats.TopErrorTypes) > 0 {
		fmt.Println()
		typeRows := make([][]string, 0, len(stats.TopErrorTypes))
		for _, row := range stats.TopErrorTypes {
			typeRows = append(typeRows, []string{
				truncateForTable(row.Type, 48),
				fmt.Sprintf("%d", row.Count),
			})
		}
		if err := writeTable([]string{"error_type", "issues"}, typeRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render error type table: %v\n", err)
			return 1
		}
	}

	if len(languages) > 0 {
		fmt.Println()
		languageRows := make([][]string, 0, len(languages))
		for _, row := range languages {
			languageRows = append(languageRows, []string{
				row.Language,
				fmt.Sprintf("%d", row.Count),
			})
		}
		if err := writeTable([]string{"language", "issues"}, languageRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render language table: %v\n", err)
			return 1
		}
	}

	return 0
}
