package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/reqflow/internal/model"
	"github.com/ppiankov/reqflow/internal/worker"
)

var (
	batchTask    string
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run a task over many documents in parallel",
	Long: `Batch runs one task over every document ID listed in a file (one per
line, # comments allowed). Documents run in parallel; each document's own
sections still go through the bounded map stage.

Each successful run writes <output-dir>/<document-id>-v<seq>.md and .json.

Example:
  reqflow batch docs.txt
  reqflow batch docs.txt --task testcases --concurrency 4 --output-dir ./reports`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVar(&batchTask, "task", "anomalies", "task to run (anomalies, testcases, fixes)")
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of documents in flight (default: concurrency.batch_workers)")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./reqflow-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", time.Hour, "total timeout for batch processing")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	task, err := model.ParseTask(batchTask)
	if err != nil {
		return err
	}
	workers := concurrency
	if workers <= 0 {
		workers = cfg.Concurrency.BatchWorkers
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "\n")
	fmt.Fprintf(stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(stderr, "  Task:         %s\n", task)
	fmt.Fprintf(stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(stderr, "\n")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	return withApp(cmd, true, func(_ context.Context, a *app) error {
		processor := worker.NewBatchProcessor(a.runner, task, workers, a.logger.Named("batch"))
		results, err := processor.ProcessFile(ctx, file)
		if err != nil {
			return fmt.Errorf("process file: %w", err)
		}

		successCount, failureCount := 0, 0
		for _, result := range results {
			if result.Error != nil {
				failureCount++
				fmt.Fprintf(stderr, "✗ %s: %v\n", result.DocumentID, result.Error)
				continue
			}

			v := *result.Version
			base := filepath.Join(outputDir, fmt.Sprintf("%s-v%d", sanitizeFilename(result.DocumentID), v.Seq))
			if err := writeReport(ctx, a, v, base+".json", "json"); err != nil {
				failureCount++
				fmt.Fprintf(stderr, "✗ %s: %v\n", result.DocumentID, err)
				continue
			}
			if err := writeReport(ctx, a, v, base+".md", "md"); err != nil {
				failureCount++
				fmt.Fprintf(stderr, "✗ %s: %v\n", result.DocumentID, err)
				continue
			}

			successCount++
			fmt.Fprintf(stderr, "✓ %s (seq %d, %d items, %s)\n", result.DocumentID, v.Seq, len(v.Payload.Items), result.Duration.Round(time.Millisecond))
		}

		fmt.Fprintf(stderr, "\n")
		fmt.Fprintf(stderr, "  Total:     %d documents\n", len(results))
		fmt.Fprintf(stderr, "  Success:   %d\n", successCount)
		fmt.Fprintf(stderr, "  Failures:  %d\n", failureCount)
		fmt.Fprintf(stderr, "\n")

		if failureCount > 0 && successCount == 0 {
			return fmt.Errorf("all %d documents failed", failureCount)
		}
		return nil
	})
}

func writeReport(ctx context.Context, a *app, v model.Version, path, format string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()
	return renderVersion(ctx, f, a, v, format)
}

// sanitizeFilename keeps letters, digits, dot, dash and underscore
func sanitizeFilename(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	if len(out) > 100 {
		out = out[:100]
	}
	return string(out)
}
