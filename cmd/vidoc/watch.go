package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/vidoc/internal/config"
	"github.com/jackzampolin/vidoc/internal/convert"
	"github.com/jackzampolin/vidoc/internal/home"
	"github.com/jackzampolin/vidoc/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Convert videos dropped into an inbox directory",
	Long: `Watch an inbox directory and convert every video that appears in it,
once the file has stopped growing. Converted videos are moved to the
archive directory (failures to archive/failed); outputs go to
~/.vidoc/output/<video name>.

Edits to the config file apply from the next video on.

Examples:
  vidoc watch
  vidoc watch --inbox ~/Recordings --format pdf --sqlite`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := cfgMgr.Get()
		if err := vhome.EnsureExists(); err != nil {
			return err
		}

		w, err := watch.New(watch.Config{
			Inbox:   home.Resolve(cfg.Watch.Inbox, vhome.InboxPath()),
			Archive: home.Resolve(cfg.Watch.Archive, vhome.ArchivePath()),
			Settle:  seconds(cfg.Watch.SettleSeconds),
			Convert: convertInbox,
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		cfgMgr.OnChange(func(c *config.Config) {
			w.SetSettle(seconds(c.Watch.SettleSeconds))
			logger.Info("config reloaded", "file", cfgMgr.ConfigFile())
		})
		if cfgMgr.ConfigFile() != "" {
			cfgMgr.WatchConfig()
		}

		err = w.Run(ctx)
		processed, failed := w.Counts()
		logger.Info("watch stopped", "converted", processed, "failed", failed)
		return err
	},
}

// convertInbox converts one inbox video with the current configuration.
func convertInbox(ctx context.Context, path string) error {
	cfg := cfgMgr.Get()
	res, err := runConvert(ctx, cfg, path, vhome.VideoOutputDir(path), "", convert.NopProgress{})
	if err != nil {
		return err
	}
	logger.Info("converted", "file", filepath.Base(path), "pages", res.Pages,
		"result", res.ResultDir, "run_id", res.RunID)
	return nil
}

func init() {
	f := watchCmd.Flags()
	f.String("inbox", "", "directory to watch (default: ~/.vidoc/inbox)")
	f.String("archive", "", "directory converted videos move to (default: ~/.vidoc/archive)")
	f.Float64("settle", 2, "seconds a file must stop growing before conversion")
	f.StringSliceP("format", "f", []string{"img"}, "output formats: pdf, md, img, epub")
	f.Bool("index", false, "write a page index")
	f.Bool("sqlite", false, "write a searchable SQLite index")
	f.String("ocr", "tesseract", "ocr engine: tesseract, docker, openai or none")
	f.String("language", "eng", "ocr language")

	rootCmd.AddCommand(watchCmd)
}
