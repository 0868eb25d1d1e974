package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/markxiv/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Serve converted papers over HTTP.

Routes:
  GET /abs/<id>              markdown for a paper (?refresh=1 bypasses caches)
  HEAD /abs/<id>             200 if the paper exists, 404 otherwise
  GET /pdf/<id>[.pdf]        same document, same cache entry
  GET /meta/<id>             title, authors and abstract
  GET /search?q=...&max=N    arXiv search
  GET /figures/<id>          figure image URLs (JSON)
  GET /health                liveness
  GET /metrics               prometheus metrics

Example:
  markxiv serve --addr :8080
  MARKXIV_CACHE_DISK_CAP_BYTES=1073741824 markxiv serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address")
	serveCmd.Flags().Int("max-concurrency", 0, "concurrent external conversions (0 = one per CPU)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("convert.max_concurrency", serveCmd.Flags().Lookup("max-concurrency"))
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(a.coord, a.cfg.Server, a.logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
