package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/markxiv/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	inputFile    string
	batchRefresh bool
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch [id...]",
	Short: "Convert many papers in parallel",
	Long: `Batch converts several papers concurrently:
- Read ids from arguments and/or a file (one per line, # comments allowed)
- Convert with a configurable number of workers
- Write one markdown file per paper into the output directory

External conversions stay bounded by convert.max_concurrency regardless of
the worker count.

Example:
  markxiv batch 1706.03762 2101.00001
  markxiv batch -f ids.txt --concurrency 8 --output-dir ./papers`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent workers")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./markxiv-papers", "output directory for markdown files")
	batchCmd.Flags().StringVarP(&inputFile, "file", "f", "", "file with one id per line")
	batchCmd.Flags().BoolVar(&batchRefresh, "refresh", false, "bypass caches and convert again")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ids := append([]string(nil), args...)
	if inputFile != "" {
		fromFile, err := worker.ReadIDsFromFile(inputFile)
		if err != nil {
			return fmt.Errorf("process file: %w", err)
		}
		ids = append(ids, fromFile...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no ids given: pass ids as arguments or use --file")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  markxiv Batch Conversion\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Papers:       %d\n", len(ids))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	processor := worker.NewBatchProcessor(a.coord, concurrency, batchRefresh)
	results := processor.ProcessIDs(ctx, ids)

	written, err := worker.WriteResults(outputDir, results)
	if err != nil {
		return err
	}

	failures := 0
	for _, r := range results {
		if r.Error != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.ID, r.Error)
			continue
		}
		fmt.Fprintf(os.Stderr, "✓ %s (%d bytes, %v)\n", r.ID, len(r.Markdown), r.Duration.Round(time.Millisecond))
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d papers\n", len(results))
	fmt.Fprintf(os.Stderr, "  Written:   %d\n", written)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failures)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if failures == len(results) {
		return fmt.Errorf("all %d conversions failed", failures)
	}
	return nil
}
