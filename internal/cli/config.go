package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/markxiv/internal/model"
)

// setDefaults registers every configuration key so env variables and
// Unmarshal see them even when no config file exists.
func setDefaults(v *viper.Viper) {
	d := model.DefaultConfig()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.index_path", d.Server.IndexPath)

	v.SetDefault("cache.memory_capacity", d.Cache.MemoryCapacity)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.disk_cap_bytes", d.Cache.DiskCapBytes)
	v.SetDefault("cache.sweep_interval", d.Cache.SweepInterval)

	v.SetDefault("convert.max_concurrency", d.Convert.MaxConcurrency)
	v.SetDefault("convert.latex_timeout", d.Convert.LatexTimeout)
	v.SetDefault("convert.pdf_timeout", d.Convert.PDFTimeout)
	v.SetDefault("convert.pandoc_path", d.Convert.PandocPath)
	v.SetDefault("convert.pdftotext_path", d.Convert.PdftotextPath)
	v.SetDefault("convert.tar_path", d.Convert.TarPath)
	v.SetDefault("convert.work_dir", d.Convert.WorkDir)

	v.SetDefault("source.base_url", d.Source.BaseURL)
	v.SetDefault("source.api_url", d.Source.APIURL)
	v.SetDefault("source.user_agent", d.Source.UserAgent)
	v.SetDefault("source.timeout", d.Source.Timeout)
	v.SetDefault("source.requests_per_second", d.Source.RequestsPerSecond)
	v.SetDefault("source.burst", d.Source.Burst)
	v.SetDefault("source.metadata_ttl", d.Source.MetadataTTL)
	v.SetDefault("source.respect_robots", d.Source.RespectRobots)
	v.SetDefault("source.breaker_failures", d.Source.BreakerFailures)
	v.SetDefault("source.breaker_timeout", d.Source.BreakerTimeout)
	v.SetDefault("source.http_proxy", d.Source.HTTPProxy)
	v.SetDefault("source.https_proxy", d.Source.HTTPSProxy)
	v.SetDefault("source.no_proxy", d.Source.NoProxy)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
}

// loadConfig resolves flags, env, config file and defaults into a Config
func loadConfig(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if v.GetBool("verbose") {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// displayable renders durations as strings so YAML output reads "15s"
// instead of nanoseconds.
func displayable(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, val := range settings {
		switch tv := val.(type) {
		case map[string]any:
			out[k] = displayable(tv)
		case time.Duration:
			out[k] = tv.String()
		default:
			out[k] = val
		}
	}
	return out
}

func configYAML(v *viper.Viper) ([]byte, error) {
	settings := v.AllSettings()
	delete(settings, "verbose")
	return yaml.Marshal(displayable(settings))
}

func configKeys(v *viper.Viper) []string {
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage markxiv configuration",
	Long: `Manage markxiv configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (MARKXIV_*, e.g. MARKXIV_CACHE_DISK_CAP_BYTES)
3. Config file (~/.markxiv/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		if _, err := loadConfig(viper.GetViper()); err != nil {
			return err
		}
		yamlData, err := configYAML(viper.GetViper())
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}

		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println("  Current Configuration")
		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println()
		fmt.Println(string(yamlData))

		if verbose {
			fmt.Println("Environment variables:")
			for _, key := range configKeys(viper.GetViper()) {
				if key == "verbose" {
					continue
				}
				fmt.Printf("  %s\n", envName(key))
			}
			fmt.Println()
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration file",
	Long:  `Create a default configuration file at ~/.markxiv/config.yaml with every available option.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error finding home directory: %w", err)
		}
		configPath := filepath.Join(home, ".markxiv", "config.yaml")
		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}

		fmt.Printf("✓ Created default configuration: %s\n", configPath)
		fmt.Printf("\nTo view the configuration:\n")
		fmt.Printf("  markxiv config show\n")
		fmt.Printf("\nTo customize, edit the file with your preferred editor:\n")
		fmt.Printf("  $EDITOR %s\n\n", configPath)
		return nil
	},
}

// writeDefaultConfig writes the built-in defaults to path. An existing file
// is never overwritten.
func writeDefaultConfig(path string) (err error) {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s\nUse 'markxiv config show' to view it, or delete it first to recreate", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	defaults := viper.New()
	setDefaults(defaults)
	yamlData, err := configYAML(defaults)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close config file: %w", closeErr)
		}
	}()

	header := "# markxiv configuration file\n" +
		"#\n" +
		"# Configuration hierarchy (highest to lowest priority):\n" +
		"#   1. CLI flags\n" +
		"#   2. Environment variables (MARKXIV_*)\n" +
		"#   3. This config file\n" +
		"#   4. Built-in defaults\n" +
		"#\n" +
		"# cache.disk_cap_bytes: 0 keeps the disk cache off\n" +
		"# convert.max_concurrency: 0 means one conversion per CPU\n\n"
	if _, err := f.WriteString(header); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	if _, err := f.Write(yamlData); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	return nil
}

func envName(key string) string {
	return "MARKXIV_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
