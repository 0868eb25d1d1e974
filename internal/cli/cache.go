package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/markxiv/internal/cache"
	"github.com/ppiankov/markxiv/internal/logging"
	"github.com/ppiankov/markxiv/internal/model"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the disk cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print file count and size of the disk cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		disk, err := openDiskCache(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = disk.Close() }()

		stats, err := disk.Stats()
		if err != nil {
			return fmt.Errorf("stat cache: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "  Directory:  %s\n", disk.Root())
		fmt.Fprintf(out, "  Files:      %d\n", stats.Files)
		fmt.Fprintf(out, "  Size:       %s\n", humanBytes(stats.Bytes))
		if cfg.Cache.DiskEnabled() {
			fmt.Fprintf(out, "  Cap:        %s\n", humanBytes(cfg.Cache.DiskCapBytes))
		} else {
			fmt.Fprintf(out, "  Cap:        disabled (cache.disk_cap_bytes is 0)\n")
		}
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evict the oldest files until the disk cache is under its cap",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		if !cfg.Cache.DiskEnabled() {
			return fmt.Errorf("disk cache is disabled: set cache.disk_cap_bytes or --disk-cap")
		}
		disk, err := openDiskCache(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = disk.Close() }()

		freed, err := disk.Sweep()
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Freed %s (now %s)\n", humanBytes(freed), humanBytes(disk.Size()))
		return nil
	},
}

// openDiskCache opens the cache root without a background sweeper
func openDiskCache(cfg *model.Config) (*cache.DiskCache, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	disk, err := cache.NewDiskCache(cache.DiskConfig{
		Root:     cfg.Cache.Dir,
		CapBytes: cfg.Cache.DiskCapBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open disk cache: %w", err)
	}
	return disk, nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
}
