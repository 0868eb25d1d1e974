package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Converter turns one paper identifier into markdown
type Converter interface {
	Convert(ctx context.Context, id string, refresh bool) (string, error)
}

// ConvertJob converts a single identifier
type ConvertJob struct {
	Index     int
	ID        string
	Refresh   bool
	Converter Converter
}

// Execute executes the convert job
func (j *ConvertJob) Execute(ctx context.Context) Result {
	start := time.Now()
	markdown, err := j.Converter.Convert(ctx, j.ID, j.Refresh)
	return &ConvertResult{
		Index:    j.Index,
		ID:       j.ID,
		Markdown: markdown,
		Duration: time.Since(start),
		Error:    err,
	}
}

// ConvertResult represents the result of a convert job
type ConvertResult struct {
	Index    int
	ID       string
	Markdown string
	Duration time.Duration
	Error    error
}

// GetError returns the error from the convert result
func (r *ConvertResult) GetError() error {
	return r.Error
}

// BatchProcessor converts many identifiers concurrently
type BatchProcessor struct {
	converter   Converter
	concurrency int
	refresh     bool
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(converter Converter, concurrency int, refresh bool) *BatchProcessor {
	return &BatchProcessor{
		converter:   converter,
		concurrency: concurrency,
		refresh:     refresh,
	}
}

// ProcessIDs converts ids concurrently. Results come back in input order;
// ids never started because ctx was cancelled carry ctx's error.
func (b *BatchProcessor) ProcessIDs(ctx context.Context, ids []string) []*ConvertResult {
	if len(ids) == 0 {
		return []*ConvertResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, id := range ids {
		job := &ConvertJob{
			Index:     i,
			ID:        id,
			Refresh:   b.refresh,
			Converter: b.converter,
		}
		if !pool.Submit(job) {
			break
		}
	}

	results := pool.Wait()

	ordered := make([]*ConvertResult, len(ids))
	for _, result := range results {
		r := result.(*ConvertResult)
		ordered[r.Index] = r
	}
	for i, r := range ordered {
		if r != nil {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		ordered[i] = &ConvertResult{Index: i, ID: ids[i], Error: err}
	}

	return ordered
}

// ProcessFile reads ids from a file and converts them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*ConvertResult, error) {
	ids, err := ReadIDsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}

	return b.ProcessIDs(ctx, ids), nil
}

// ReadIDsFromFile reads identifiers from a file, one per line. Blank lines
// and lines starting with # are skipped, duplicates dropped.
func ReadIDsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var ids []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			ids = append(ids, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return ids, nil
}

// OutputPath returns where a converted id is written under dir. Path
// separators in old-style ids become underscores.
func OutputPath(dir, id string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(strings.TrimSpace(id))
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return filepath.Join(dir, name+".md")
}

// WriteResults writes every successful result to dir and returns the
// number of files written.
func WriteResults(dir string, results []*ConvertResult) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	written := 0
	for _, r := range results {
		if r == nil || r.Error != nil {
			continue
		}
		if err := os.WriteFile(OutputPath(dir, r.ID), []byte(r.Markdown), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", r.ID, err)
		}
		written++
	}
	return written, nil
}
