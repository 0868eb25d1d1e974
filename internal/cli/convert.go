package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	outFile        string
	refresh        bool
	convertTimeout time.Duration
)

var convertCmd = &cobra.Command{
	Use:   "convert <id>",
	Short: "Convert a single paper to markdown",
	Long: `Convert downloads one paper and prints its markdown.

The id may be given as 1706.03762, arXiv:1706.03762, /abs/1706.03762,
/pdf/1706.03762.pdf or an old-style id such as hep-th/9901001.

Example:
  markxiv convert 1706.03762
  markxiv convert 1706.03762 -o attention.md
  markxiv convert hep-th/9901001 --refresh`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVarP(&outFile, "output", "o", "", "write markdown to this file instead of stdout")
	convertCmd.Flags().BoolVar(&refresh, "refresh", false, "bypass caches and convert again")
	convertCmd.Flags().DurationVar(&convertTimeout, "timeout", 5*time.Minute, "overall timeout")
}

func runConvert(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), convertTimeout)
	defer cancel()

	if verbose {
		fmt.Fprintf(os.Stderr, "Converting: %s\n", args[0])
	}
	md, err := a.coord.Convert(ctx, args[0], refresh)
	if err != nil {
		return fmt.Errorf("convert %s: %w", args[0], err)
	}

	if outFile == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), md)
		return err
	}
	if err := os.WriteFile(outFile, []byte(md), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outFile, err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "✓ Wrote %s (%d bytes)\n", outFile, len(md))
	}
	return nil
}
