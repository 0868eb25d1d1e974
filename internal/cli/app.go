package cli

import (
	"fmt"
	"os/exec"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/markxiv/internal/cache"
	"github.com/ppiankov/markxiv/internal/convert"
	"github.com/ppiankov/markxiv/internal/logging"
	"github.com/ppiankov/markxiv/internal/model"
	"github.com/ppiankov/markxiv/internal/service"
	"github.com/ppiankov/markxiv/internal/source"
	"github.com/ppiankov/markxiv/internal/worker"
)

// app is the fully wired process: caches, source client, pipeline and
// coordinator built from one Config.
type app struct {
	cfg    *model.Config
	logger *zap.Logger
	disk   *cache.DiskCache
	coord  *service.Coordinator
}

func newApp() (*app, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return buildApp(cfg)
}

func buildApp(cfg *model.Config) (*app, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var disk *cache.DiskCache
	var tier cache.Tier
	if cfg.Cache.DiskEnabled() {
		disk, err = cache.NewDiskCache(cache.DiskConfig{
			Root:          cfg.Cache.Dir,
			CapBytes:      cfg.Cache.DiskCapBytes,
			SweepInterval: cfg.Cache.SweepInterval,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open disk cache: %w", err)
		}
		tier = disk
		logger.Info("disk cache enabled",
			zap.String("dir", cfg.Cache.Dir),
			zap.Int64("cap_bytes", cfg.Cache.DiskCapBytes))
	}
	layered := cache.NewLayeredCache(cache.NewMemoryCache(cfg.Cache.MemoryCapacity), tier, logger)

	client := source.NewArxivClient(cfg.Source, logger)
	pipeline := convert.NewPipeline(
		toolchain(cfg.Convert, logger),
		worker.NewPermits(cfg.Convert.MaxConcurrency),
		cfg.Convert,
		logger,
	)

	return &app{
		cfg:    cfg,
		logger: logger,
		disk:   disk,
		coord:  service.NewCoordinator(layered, client, pipeline, logger),
	}, nil
}

// toolchain returns nil when neither converter is installed, which turns
// every conversion into a not_implemented failure.
func toolchain(cfg model.ConvertConfig, logger *zap.Logger) convert.Toolchain {
	tools := convert.NewExecToolchain(cfg.TarPath, cfg.PandocPath, cfg.PdftotextPath)
	_, pandocErr := exec.LookPath(tools.PandocPath)
	_, pdfErr := exec.LookPath(tools.PdftotextPath)
	switch {
	case pandocErr != nil && pdfErr != nil:
		logger.Warn("neither pandoc nor pdftotext found, conversions are disabled",
			zap.String("pandoc", tools.PandocPath),
			zap.String("pdftotext", tools.PdftotextPath))
		return nil
	case pandocErr != nil:
		logger.Warn("pandoc not found, only PDF text extraction will work", zap.String("pandoc", tools.PandocPath))
	case pdfErr != nil:
		logger.Warn("pdftotext not found, PDF fallback will fail", zap.String("pdftotext", tools.PdftotextPath))
	}
	return tools
}

func (a *app) Close() {
	if a.disk != nil {
		if err := a.disk.Close(); err != nil {
			a.logger.Warn("close disk cache", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
