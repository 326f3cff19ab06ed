package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gstripling00/prompt-system/internal/ingestion/models"
	"github.com/gstripling00/prompt-system/internal/landing"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|gs://bucket/object>",
	Short: "Ingest one batch file synchronously and print the run report",
	Long: `Ingest one batch file and print its report.

A local file is first copied into the landing area under landing.prefix. A
gs:// reference must name an object in the configured landing bucket.

Examples:
  promptcatalog ingest ./prompts.csv
  promptcatalog ingest gs://prompt-landing/batches/2026-03.xlsx -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	ref, err := resolveBatch(ctx, a.landing, a.matcher, args[0], cfg.Ingestion.StorageTimeoutDuration())
	if err != nil {
		return err
	}
	report, procErr := a.ingestion.Process(ctx, ref)
	if report != nil {
		if err := writeOutput(cmd.OutOrStdout(), outputFormat, report); err != nil {
			return err
		}
	}
	if procErr != nil {
		return procErr
	}
	if report.Run.Status == models.RunStatusRejected {
		return fmt.Errorf("batch %s rejected", ref)
	}
	return nil
}

// resolveBatch turns a CLI target into the landed object to process.
func resolveBatch(ctx context.Context, store landing.Store, matcher landing.Matcher, target string, timeout time.Duration) (models.BatchRef, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if bucket, object, ok := parseGSURI(target); ok {
		if store.Bucket() != bucket {
			return models.BatchRef{}, fmt.Errorf("%s is not in the landing bucket %q", target, store.Bucket())
		}
		obj, err := store.Stat(ctx, object)
		if err != nil {
			return models.BatchRef{}, err
		}
		return models.BatchRef{Bucket: obj.Bucket, Name: obj.Name, Generation: obj.Generation}, nil
	}

	f, err := os.Open(target)
	if err != nil {
		return models.BatchRef{}, err
	}
	defer func() { _ = f.Close() }()

	name := matcher.Prefix + filepath.Base(target)
	if !matcher.Match(name) {
		return models.BatchRef{}, fmt.Errorf("%s does not match landing patterns %v", filepath.Base(target), matcher.Patterns)
	}
	obj, err := store.Put(ctx, name, f)
	if err != nil {
		return models.BatchRef{}, err
	}
	return models.BatchRef{Bucket: obj.Bucket, Name: obj.Name, Generation: obj.Generation}, nil
}

func parseGSURI(target string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(target, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}
