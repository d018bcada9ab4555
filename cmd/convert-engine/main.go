// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the convert-engine CLI. It drives the
// queue controller from the command line: convert files, list the supported
// conversions and inspect the conversion history.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/convert-engine/internal/logging"
	"github.com/pdiddy/convert-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// appConfig and logger are populated before any subcommand runs.
var (
	appConfig types.Config
	logger    *slog.Logger
)

// rootCmd is the base command for the convert-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "convert-engine",
	Short: "Convert images and vector graphics between formats",
	Long: `convert-engine converts raster images (JPEG, PNG, GIF, WebP, BMP, TIFF,
HEIC) and SVG graphics to JPG, PNG, WebP, JFIF, SVG or single-page PDF.

Files are queued and converted one at a time by an isolated engine worker.
Finished conversions are recorded in a local history database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		appConfig = loadConfig()
		l, err := logging.NewFromConfig(appConfig.Log)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(logger)
		if used := viper.ConfigFileUsed(); used != "" {
			logger.Debug("using config file", slog.String("path", used))
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./convert-engine.yaml or ~/.config/convert-engine/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().String("history-db", "", "history database path")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("history.db_path", rootCmd.PersistentFlags().Lookup("history-db"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("convert-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "convert-engine"))
		}
	}

	viper.SetEnvPrefix("CONVERT_ENGINE")
	viper.AutomaticEnv()
	setDefaults()

	_ = viper.ReadInConfig()
}

func setDefaults() {
	d := types.DefaultConfig()
	viper.SetDefault("engine.jpeg_quality", d.Engine.JPEGQuality)
	viper.SetDefault("engine.webp_quality", d.Engine.WebPQuality)
	viper.SetDefault("engine.intermediate_quality", d.Engine.IntermediateQuality)
	viper.SetDefault("engine.page_width_mm", d.Engine.PageWidthMM)
	viper.SetDefault("engine.page_height_mm", d.Engine.PageHeightMM)
	viper.SetDefault("engine.inbox_size", d.Engine.InboxSize)
	viper.SetDefault("queue.startup_timeout", d.Queue.StartupTimeout)
	viper.SetDefault("queue.max_pending", d.Queue.MaxPending)
	viper.SetDefault("heic.quality", d.HEIC.Quality)
	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
	viper.SetDefault("history.db_path", defaultHistoryPath())
}

func defaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "convert-engine", "history.db")
}

// loadConfig reads the merged viper settings into a Config.
func loadConfig() types.Config {
	cfg := types.Config{
		Engine: types.EngineConfig{
			JPEGQuality:         viper.GetFloat64("engine.jpeg_quality"),
			WebPQuality:         viper.GetFloat64("engine.webp_quality"),
			IntermediateQuality: viper.GetFloat64("engine.intermediate_quality"),
			PageWidthMM:         viper.GetFloat64("engine.page_width_mm"),
			PageHeightMM:        viper.GetFloat64("engine.page_height_mm"),
			InboxSize:           viper.GetInt("engine.inbox_size"),
		},
		Queue: types.QueueConfig{
			StartupTimeout: viper.GetDuration("queue.startup_timeout"),
			MaxPending:     viper.GetInt("queue.max_pending"),
		},
		HEIC: types.HEICConfig{Quality: viper.GetFloat64("heic.quality")},
		Log: types.LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
		History: types.HistoryConfig{DBPath: viper.GetString("history.db_path")},
	}
	return cfg.Normalize()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
