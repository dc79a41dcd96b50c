package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/vidoc/internal/cli"
	"github.com/jackzampolin/vidoc/internal/config"
	"github.com/jackzampolin/vidoc/internal/convert"
	"github.com/jackzampolin/vidoc/internal/ocr"
)

var (
	convertTitle      string
	convertNoProgress bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <video|frame-directory>",
	Short: "Convert a video into a document",
	Long: `Convert a video (any container ffmpeg can decode) or a directory of
frame images into a document.

Outputs go to <out>/result, which is cleared first; the frame analysis
report and metrics go to <out>/analysis.

Exit codes: 1 when the input does not exist, 2 for any other failure
(invalid configuration, no decodable frames, decode or write errors).

Examples:
  vidoc convert lecture.mp4
  vidoc convert lecture.mp4 --format pdf,md --index --sqlite
  vidoc convert frames/ --dir-fps 2 --ocr none
  vidoc convert scan.mov --sensitivity 0.25 --language deu -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cfgMgr.Get()
		input := args[0]

		var progress convert.Progress = convert.NopProgress{}
		if !convertNoProgress {
			progress = cli.NewProgress(os.Stderr, filepath.Base(input))
		}

		res, err := runConvert(cmd.Context(), cfg, input, cfg.Output.Dir, convertTitle, progress)
		if err != nil {
			return err
		}
		if output.Structured() {
			return cli.Output(output, res)
		}
		cli.PrintResult(os.Stdout, res)
		return nil
	},
}

// runConvert opens the configured OCR engine and converts one input.
func runConvert(ctx context.Context, cfg *config.Config, input, outDir, title string, progress convert.Progress) (*convert.Result, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("%w: %s", convert.ErrInputNotFound, input)
	}
	ecfg := cfg.OCREngineConfig()
	ecfg.Logger = logger
	engine, err := ocr.Open(ctx, ecfg)
	if err != nil {
		return nil, err
	}
	if engine != nil {
		defer func() {
			if err := ocr.CloseEngine(engine); err != nil {
				logger.Warn("failed to close ocr engine", "error", err)
			}
		}()
	}

	req := convert.Request{
		Input:       input,
		OutputDir:   outDir,
		Title:       title,
		Engine:      cfg.EngineConfig(),
		Video:       cfg.VideoOptions(),
		Formats:     cfg.Formats(),
		Index:       cfg.Output.Index,
		IndexFormat: cfg.Output.IndexFormat,
		SQLite:      cfg.Output.SQLite,
		Progress:    progress,
		Logger:      logger,
	}
	if engine != nil {
		req.OCR = cfg.RunnerConfig(engine)
	}
	return convert.Run(ctx, req)
}

func init() {
	f := convertCmd.Flags()
	f.StringP("out", "d", "output", "output directory")
	f.StringSliceP("format", "f", []string{"img"}, "output formats: pdf, md, img, epub")
	f.Bool("index", false, "write a page index")
	f.String("index-format", "json", "page index format: json or yaml")
	f.Bool("sqlite", false, "write a searchable SQLite index")
	f.Float64("sensitivity", 0.15, "page split sensitivity in [0,1]")
	f.Int("debounce", 3, "changed frames required to confirm a page turn")
	f.Int("history", 256, "pages kept for duplicate detection")
	f.Int("workers", 0, "fingerprint and segmentation workers (0 = one per CPU)")
	f.Float64("sample-fps", 0, "decimate video to this frame rate (0 = every frame)")
	f.Float64("dir-fps", 1, "frame rate of a frame directory")
	f.String("ocr", ocr.KindTesseract, "ocr engine: tesseract, docker, openai or none")
	f.String("language", ocr.DefaultLanguage, "ocr language")
	f.StringVar(&convertTitle, "title", "", "document title (default: derived from the input name)")
	f.BoolVar(&convertNoProgress, "no-progress", false, "disable the progress display")

	rootCmd.AddCommand(convertCmd)
}
