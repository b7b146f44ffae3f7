package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/faultdex/faultdex/internal/cli"
	"github.com/faultdex/faultdex/internal/export"
	"github.com/faultdex/faultdex/internal/logging"
)

const maxImportFileBytes = 32 << 20

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", time.Minute, "Command timeout")
	userID := fs.Int64("user", 1, "User ID whose issues to export")
	outPath := fs.String("out", "", "Output file (default stdout)")
	format := fs.String("format", outputFormatJSON, "Output format: json or csv")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *userID < 1 {
		fmt.Fprintln(os.Stderr, "--user must be >= 1")
		return 2
	}
	switch *format {
	case outputFormatJSON, "csv":
	default:
		fmt.Fprintln(os.Stderr, "--format must be json or csv")
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

	svc := export.NewService(pool, logger)

	var payload []byte
	if *format == "csv" {
		csvData, err := svc.ExportCSV(ctx, *userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to export CSV: %v\n", err)
			return 1
		}
		payload = []byte(csvData)
	} else {
		envelope, err := svc.ExportJSON(ctx, *userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to export JSON: %v\n", err)
			return 1
		}
		payload, err = json.MarshalIndent(envelope, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode export: %v\n", err)
			return 1
		}
		payload = append(payload, '\n')
	}

	if *outPath == "" {
		if _, err := os.Stdout.Write(payload); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write export: %v\n", err)
			return 1
		}
		return 0
	}

	if err := os.WriteFile(*outPath, payload, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *outPath, err)
		return 1
	}
	fmt.Printf("ok: wrote %d byte(s) to %s\n", len(payload), *outPath)
	return 0
}

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	userID := fs.Int64("user", 1, "User ID that will own the imported issues")
	inPath := fs.String("file", "", "JSON export file to import")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *userID < 1 {
		fmt.Fprintln(os.Stderr, "--user must be >= 1")
		return 2
	}
	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}

	info, err := os.Stat(*inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", *inPath, err)
		return 1
	}
	if info.Size() > maxImportFileBytes {
		fmt.Fprintf(os.Stderr, "%s exceeds the %d MB import limit\n", *inPath, maxImportFileBytes>>20)
		return 2
	}

	payload, err := os.ReadFile(*inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", *inPath, err)
		return 1
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

	svc := export.NewService(pool, logger)
	result, err := svc.ImportJSON(ctx, *userID, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}

	fmt.Printf("ok: imported %d of %d issue(s), skipped %d\n", result.Imported, result.Total, result.Skipped)
	if result.Imported > 0 {
		fmt.Println("hint: run \"faultdex reembed\" to generate embeddings for the imported issues")
	}
	return 0
}
