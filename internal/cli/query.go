package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	searchMax    int
	queryTimeout time.Duration
)

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search arXiv",
	Long: `Search arXiv across all fields and print the results as markdown.

Example:
  markxiv search attention is all you need
  markxiv search "graph neural networks" --max 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()

		md, err := a.coord.Search(ctx, strings.Join(args, " "), searchMax)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), md)
		return nil
	},
}

var metaCmd = &cobra.Command{
	Use:   "meta <id>",
	Short: "Print a paper's title, authors and abstract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()

		md, err := a.coord.Metadata(ctx, args[0])
		if err != nil {
			return fmt.Errorf("metadata fetch failed: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	},
}

var figuresCmd = &cobra.Command{
	Use:   "figures <id>",
	Short: "List figure image URLs from a paper's HTML rendering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()

		urls, err := a.coord.Figures(ctx, args[0])
		if err != nil {
			return fmt.Errorf("figure lookup failed: %w", err)
		}
		if len(urls) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No figures found (the paper may have no HTML rendering).")
			return nil
		}
		for _, u := range urls {
			fmt.Fprintln(cmd.OutOrStdout(), u)
		}
		return nil
	},
}

var existsCmd = &cobra.Command{
	Use:   "exists <id>",
	Short: "Check whether an id names a paper on arXiv",
	Long: `Exists checks an id without converting it. It exits non-zero when the
paper is unknown, so it can gate scripts:

  markxiv exists 1706.03762 && markxiv convert 1706.03762`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()

		ok, err := a.coord.Exists(ctx, args[0])
		if err != nil {
			return fmt.Errorf("lookup failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("%s: not found on arXiv", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s exists\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(metaCmd)
	rootCmd.AddCommand(figuresCmd)
	rootCmd.AddCommand(existsCmd)

	searchCmd.Flags().IntVar(&searchMax, "max", 5, "maximum number of results (1-20)")
	for _, c := range []*cobra.Command{searchCmd, metaCmd, figuresCmd, existsCmd} {
		c.Flags().DurationVar(&queryTimeout, "timeout", 30*time.Second, "request timeout")
	}
}
