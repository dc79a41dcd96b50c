package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jackzampolin/vidoc/internal/cli"
	"github.com/jackzampolin/vidoc/internal/config"
	"github.com/jackzampolin/vidoc/internal/home"
	"github.com/jackzampolin/vidoc/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
	logFormat    string
	noColor      bool
)

// Set by the root pre-run for every command.
var (
	vhome  *home.Dir
	cfgMgr *config.Manager
	logger *slog.Logger
	output cli.OutputFormat
)

// flagKeys maps command flags onto the config keys they override.
var flagKeys = map[string]string{
	"sensitivity":  "sensitivity",
	"debounce":     "debounce_window",
	"history":      "history_size",
	"workers":      "workers",
	"sample-fps":   "sample_fps",
	"dir-fps":      "dir_fps",
	"ocr":          "ocr.engine",
	"language":     "ocr.language",
	"out":          "output.dir",
	"format":       "output.formats",
	"index":        "output.index",
	"index-format": "output.index_format",
	"sqlite":       "output.sqlite",
	"inbox":        "watch.inbox",
	"archive":      "watch.archive",
	"settle":       "watch.settle_seconds",
}

var rootCmd = &cobra.Command{
	Use:   "vidoc",
	Short: "Turn a video of a paginated document into a searchable document",
	Long: `Vidoc converts a screen recording or camera capture of someone paging
through a document into the document itself.

The pipeline:
  - Perceptual fingerprints detect page turns, ignoring transient motion
  - One sharp representative frame is kept per page
  - Pages are segmented into text, figure and table regions
  - Repeated pages and regions are recognized and flagged
  - Text is recognized (tesseract, docker or a vision model) and written
    to pdf, markdown, images or epub, with an optional searchable index`,
	Version:           version.GitRelease,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.vidoc/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "vidoc home directory (default: ~/.vidoc)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "text", "output format: text, yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: error, warn, info or debug",
	)
	rootCmd.PersistentFlags().StringVar(
		&logFormat, "log-format", "text", "log format: text or json",
	)
	rootCmd.PersistentFlags().BoolVar(
		&noColor, "no-color", false, "disable colored output",
	)

	rootCmd.AddCommand(versionCmd)
}

// setup runs before every command: it loads .env files, builds the logger,
// resolves the home directory and loads configuration with flag overrides.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if output, err = cli.ParseOutputFormat(outputFormat); err != nil {
		return err
	}
	if noColor {
		cli.DisableColor()
	}
	if logger, err = newLogger(os.Stderr, logLevel, logFormat); err != nil {
		return err
	}
	slog.SetDefault(logger)

	if vhome, err = home.New(homeDir); err != nil {
		return err
	}

	// A missing .env is normal.
	_ = godotenv.Load()
	_ = godotenv.Load(filepath.Join(vhome.Path(), ".env"))

	if cmd == versionCmd || cmd == configInitCmd {
		return nil
	}
	if cfgMgr, err = config.NewManager(cfgFile, vhome.Path()); err != nil {
		return err
	}
	cfgMgr.SetLogger(logger)
	return bindFlags(cmd.Flags())
}

// bindFlags lets flags the user set override the loaded configuration.
func bindFlags(flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = cfgMgr.BindFlag(key, f)
	})
	if bindErr != nil {
		return bindErr
	}
	_, err := cfgMgr.Reload()
	return err
}

// newLogger builds the slog handler selected by --log-level and --log-format.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "error":
		lvl = slog.LevelError
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "info", "":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
