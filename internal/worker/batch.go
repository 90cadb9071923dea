package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/reqflow/internal/model"
)

// Runner runs one task over one document and returns the version it created
type Runner interface {
	Run(ctx context.Context, docID string, task model.Task) (model.Version, error)
}

// DocumentJob runs a task for a single document
type DocumentJob struct {
	DocumentID string
	Task       model.Task
	Runner     Runner
}

// Execute executes the document job
func (j *DocumentJob) Execute(ctx context.Context) Result {
	start := time.Now()
	v, err := j.Runner.Run(ctx, j.DocumentID, j.Task)
	res := &DocumentResult{
		DocumentID: j.DocumentID,
		Duration:   time.Since(start),
		Error:      err,
	}
	if err == nil {
		res.Version = &v
	}
	return res
}

// DocumentResult is the outcome of one document job
type DocumentResult struct {
	DocumentID string
	Version    *model.Version
	Duration   time.Duration
	Error      error
}

// GetError returns the error from the document result
func (r *DocumentResult) GetError() error {
	return r.Error
}

// BatchProcessor runs a task over many documents concurrently.
// Documents never share a version chain, so they can run in parallel.
type BatchProcessor struct {
	runner      Runner
	task        model.Task
	concurrency int
	logger      *zap.Logger
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(runner Runner, task model.Task, concurrency int, logger *zap.Logger) *BatchProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchProcessor{
		runner:      runner,
		task:        task,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ProcessDocuments runs the task over every document ID. Results are in
// the order of ids.
func (b *BatchProcessor) ProcessDocuments(ctx context.Context, ids []string) []*DocumentResult {
	if len(ids) == 0 {
		return []*DocumentResult{}
	}

	pool := NewPoolWithContext(ctx, b.concurrency)
	pool.Start()

	for _, id := range ids {
		pool.Submit(&DocumentJob{DocumentID: id, Task: b.task, Runner: b.runner})
	}

	results := pool.Wait()

	out := make([]*DocumentResult, len(ids))
	for i, result := range results {
		if result == nil {
			out[i] = &DocumentResult{DocumentID: ids[i], Error: fmt.Errorf("not run: %w", context.Canceled)}
			continue
		}
		out[i] = result.(*DocumentResult)
		if out[i].Error != nil {
			b.logger.Warn("document failed",
				zap.String("document", out[i].DocumentID),
				zap.Stringer("task", b.task),
				zap.Error(out[i].Error))
		}
	}

	return out
}

// ProcessFile reads document IDs from a file and processes them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*DocumentResult, error) {
	ids, err := ReadLines(filePath)
	if err != nil {
		return nil, fmt.Errorf("read document list: %w", err)
	}

	return b.ProcessDocuments(ctx, ids), nil
}

// ReadLines reads one entry per line, skipping blanks, # comments and duplicates
func ReadLines(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			lines = append(lines, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return lines, nil
}
