package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/faultdex/faultdex/internal/cli"
	"github.com/faultdex/faultdex/internal/embedding"
	"github.com/faultdex/faultdex/internal/globaltime"
	"github.com/faultdex/faultdex/internal/logging"
)

// runReembed backfills embeddings for issues stored without one, in
// batches: imported issues and issues whose encode degraded to a zero
// vector at submission time.
func runReembed(args []string) int {
	fs := flag.NewFlagSet("reembed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	batchSize := fs.Int("batch-size", 50, "Issues per embedding batch")
	maxBatches := fs.Int("max-batches", 0, "Stop after this many batches (0 = run until done)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *batchSize < 1 || *batchSize > 500 {
		fmt.Fprintln(os.Stderr, "--batch-size must be between 1 and 500")
		return 2
	}

	ctx, cancel, pool, cfg, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	embedder := embedding.NewClient(embedding.Options{
		Endpoint:       cfg.EmbeddingEndpoint,
		ModelName:      cfg.EmbeddingModelName,
		RequestTimeout: cfg.EmbeddingRequestTimeout,
	}, logger)

	embedded := 0
	skipped := 0
	batches := 0
	for {
		if *maxBatches > 0 && batches >= *maxBatches {
			break
		}

		issues, err := pool.ListIssuesMissingEmbedding(ctx, *batchSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list issues missing embedding: %v\n", err)
			return 1
		}
		if len(issues) == 0 {
			break
		}
		batches++

		texts := make([]string, len(issues))
		for i, issue := range issues {
			text := ""
			if issue.EmbeddingText != nil {
				text = strings.TrimSpace(*issue.EmbeddingText)
			}
			if text == "" {
				fields := embedding.TextFields{
					ErrorType:    issue.ErrorType,
					ErrorMessage: issue.ErrorMessage,
					Tags:         issue.Tags,
				}
				if issue.StackTrace != nil {
					fields.StackTrace = *issue.StackTrace
				}
				if issue.Language != nil {
					fields.Language = *issue.Language
				}
				if issue.Framework != nil {
					fields.Framework = *issue.Framework
				}
				text = embedding.BuildText(fields)
			}
			texts[i] = text
		}

		vectors, err := embedder.GenerateBatch(ctx, texts)
		if err != nil {
			logger.Error().Err(err).Msg("embedding batch failed")
			fmt.Fprintf(os.Stderr, "Failed to generate embeddings: %v\n", err)
			return 1
		}

		now := globaltime.UTC()
		progressed := false
		for i, issue := range issues {
			if embedding.IsZero(vectors[i]) {
				// Encoder degraded this one; leave it NULL for a later run.
				skipped++
				continue
			}
			if err := pool.SetIssueEmbedding(ctx, issue.IssueID, embedding.ToFloat32(vectors[i]), texts[i], now); err != nil {
				logger.Error().Err(err).Int64("issue_id", issue.IssueID).Msg("store embedding failed")
				fmt.Fprintf(os.Stderr, "Failed to store embedding for issue %d: %v\n", issue.IssueID, err)
				return 1
			}
			embedded++
			progressed = true
		}

		if !progressed {
			// Every row in the batch degraded; stop instead of spinning
			// on the same NULL rows.
			break
		}
	}

	logger.Info().
		Int("embedded", embedded).
		Int("skipped", skipped).
		Int("batches", batches).
		Msg("reembed finished")
	fmt.Printf("ok: embedded %d issue(s), skipped %d in %d batch(es)\n", embedded, skipped, batches)
	return 0
}
