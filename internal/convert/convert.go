// Package convert runs one video-to-document conversion: it opens the frame
// source, drives the segmentation engine, recognizes text, and writes the
// documents, index and reports into the output directory.
//
// Output layout:
//
//	<output>/result/            documents, page images, crops (cleared per run)
//	<output>/result/ocr/        ocr_results.json
//	<output>/result/index.*     optional page index
//	<output>/analysis/          frame_analysis.json, metrics.prom
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/vidoc/internal/assemble"
	"github.com/jackzampolin/vidoc/internal/docbuild"
	"github.com/jackzampolin/vidoc/internal/index"
	"github.com/jackzampolin/vidoc/internal/metrics"
	"github.com/jackzampolin/vidoc/internal/ocr"
	"github.com/jackzampolin/vidoc/internal/types"
	"github.com/jackzampolin/vidoc/internal/video"
)

const (
	ResultDir   = "result"
	AnalysisDir = "analysis"
	OCRDir      = "ocr"
)

// ErrInputNotFound is returned when the input path does not exist.
var ErrInputNotFound = errors.New("input not found")

// Request describes a conversion.
type Request struct {
	// Input is a video file or a directory of frame images. Ignored when
	// Source is set.
	Input string
	// Source overrides Input with an already open frame source.
	Source video.Source
	// Info describes Source; optional.
	Info *video.Info

	OutputDir string
	Title     string

	Engine assemble.Config
	Video  video.Options
	// OCR configures text recognition. A nil OCR.Engine skips recognition.
	OCR ocr.RunnerConfig

	Formats     []docbuild.Format
	Index       bool
	IndexFormat string // json or yaml
	SQLite      bool

	Progress Progress
	Logger   *slog.Logger
}

// Result summarizes a finished conversion.
type Result struct {
	RunID      string                    `json:"run_id"`
	Input      string                    `json:"input"`
	ResultDir  string                    `json:"result_dir"`
	Outputs    []string                  `json:"outputs"`
	Pages      int                       `json:"pages"`
	FramesKept int                       `json:"frames_kept"`
	Stats      assemble.Stats            `json:"stats"`
	OCR        *ocr.Stats                `json:"ocr,omitempty"`
	Failures   map[types.FailureKind]int `json:"failures,omitempty"`
	Metrics    metrics.Summary           `json:"metrics"`
	Duration   time.Duration             `json:"duration"`
}

// Run performs the conversion. Only a missing input, invalid configuration,
// a source without any frames, cancellation, or a failure to write outputs
// ends it with an error; frame and region level failures are recorded in the
// analysis report instead.
func Run(ctx context.Context, req Request) (*Result, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}
	if req.OutputDir == "" {
		return nil, fmt.Errorf("%w: output directory is required", types.ErrInvalidConfig)
	}
	progress := req.Progress
	if progress == nil {
		progress = NopProgress{}
	}
	started := time.Now()
	runID := uuid.New().String()
	rec := metrics.NewRecorder(runID)
	stopTotal := rec.Time(metrics.StageTotal)

	src, info, err := openSource(ctx, req, log)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	failures := req.Engine.Failures
	if failures == nil {
		failures = types.NewFailureLog(types.DefaultFailureLogSize)
	}

	var runner *ocr.Runner
	if req.OCR.Engine != nil {
		cfg := req.OCR
		cfg.Failures = failures
		if cfg.Logger == nil {
			cfg.Logger = log
		}
		if runner, err = ocr.NewRunner(cfg); err != nil {
			return nil, err
		}
	}

	engineCfg := req.Engine
	engineCfg.Failures = failures
	if engineCfg.Logger == nil {
		engineCfg.Logger = log
	}
	engineCfg.Hooks = withProgress(engineCfg.Hooks, progress)
	eng, err := assemble.New(engineCfg, src)
	if err != nil {
		return nil, err
	}

	formats := req.Formats
	if len(formats) == 0 {
		formats = []docbuild.Format{docbuild.FormatImg}
	}
	switch req.IndexFormat {
	case "", "json", "yaml", "yml":
	default:
		return nil, fmt.Errorf("%w: unknown index format %q", types.ErrInvalidConfig, req.IndexFormat)
	}

	resultDir := filepath.Join(req.OutputDir, ResultDir)
	analysisDir := filepath.Join(req.OutputDir, AnalysisDir)
	if err := resetDir(resultDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(analysisDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create analysis directory: %w", err)
	}

	title := req.Title
	if title == "" {
		title = deriveTitle(sourceName(req, info))
	}
	lang := req.OCR.Language
	if runner != nil {
		lang = runner.Language()
	}
	builder, err := docbuild.New(docbuild.Config{
		Dir:      resultDir,
		Formats:  formats,
		Title:    title,
		Language: lang,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	var db *index.SQLiteIndex
	if req.SQLite {
		if db, err = index.OpenSQLite(filepath.Join(resultDir, index.DBFile)); err != nil {
			builder.Close()
			return nil, err
		}
		defer db.Close()
		setIndexMeta(ctx, db, log, [][2]string{
			{"source", sourceName(req, info)},
			{"run_id", runID},
		})
	}

	log.Info("starting conversion", "run_id", runID, "input", sourceName(req, info),
		"output", req.OutputDir, "formats", formats, "ocr", runner != nil)

	c := &conversion{
		log:      log,
		rec:      rec,
		runner:   runner,
		builder:  builder,
		db:       db,
		index:    index.NewBuilder(sourceName(req, info), runID, lang),
		results:  ocr.NewResults(),
		progress: progress,
	}

	progress.Start(info)
	stopDecode := rec.Time(metrics.StageDecode)
	eng.Start(ctx)
	runErr := c.drain(ctx, eng)
	closeErr := eng.Close()
	stopDecode()
	progress.Finish()

	stats := eng.Stats()
	rec.SetFrames(stats.FramesRead, stats.DecodeGaps)

	if runErr == nil && closeErr != nil {
		runErr = closeErr
	}
	if runErr != nil {
		builder.Close()
		return nil, runErr
	}

	stopDoc := rec.Time(metrics.StageDocument)
	outputs, err := builder.Close()
	stopDoc()
	if err != nil {
		return nil, err
	}
	for _, f := range formats {
		rec.ObserveOutput(string(f), countFormat(f, outputs))
	}

	ocrPath, err := c.results.WriteJSON(filepath.Join(resultDir, OCRDir), runner)
	if err != nil {
		return nil, err
	}
	outputs = append(outputs, ocrPath)

	if req.Index {
		stopIndex := rec.Time(metrics.StageIndex)
		path, err := c.index.Write(resultDir, req.IndexFormat)
		stopIndex()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, path)
	}
	if db != nil {
		outputs = append(outputs, filepath.Join(resultDir, index.DBFile))
	}

	stopTotal()
	res := &Result{
		RunID:      runID,
		Input:      sourceName(req, info),
		ResultDir:  resultDir,
		Outputs:    outputs,
		Pages:      c.pages,
		FramesKept: c.members,
		Stats:      stats,
		Duration:   time.Since(started),
	}
	if runner != nil {
		s := runner.Stats()
		res.OCR = &s
	}
	_, res.Failures, _ = failures.Snapshot()
	if res.Metrics, err = rec.Summary(); err != nil {
		log.Warn("failed to summarize metrics", "error", err)
	}

	if _, err := writeReport(analysisDir, res, info, failures); err != nil {
		return nil, err
	}
	if err := rec.WriteTextfile(filepath.Join(analysisDir, metrics.TextFile)); err != nil {
		log.Warn("failed to write metrics", "error", err)
	}

	log.Info("conversion complete", "run_id", runID, "pages", res.Pages,
		"unique", stats.UniquePages, "duplicates", stats.DuplicatePages,
		"outputs", len(outputs), "took", res.Duration.Round(time.Millisecond))
	return res, nil
}

// conversion holds the per-page sinks of a run.
type conversion struct {
	log      *slog.Logger
	rec      *metrics.Recorder
	runner   *ocr.Runner
	builder  *docbuild.Builder
	db       *index.SQLiteIndex
	index    *index.Builder
	results  *ocr.Results
	progress Progress
	pages    int
	members  int
}

func (c *conversion) drain(ctx context.Context, eng *assemble.Engine) error {
	for {
		p, err := eng.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.page(ctx, p); err != nil {
			return err
		}
	}
}

func (c *conversion) page(ctx context.Context, p *types.PageRecord) error {
	text := ocr.PageText{PageID: p.PageID}
	if c.runner != nil {
		stop := c.rec.Time(metrics.StageOCR)
		var err error
		text, err = c.runner.Page(ctx, p)
		stop()
		if err != nil {
			return err
		}
	}
	c.results.Add(text)
	c.rec.ObservePage(p)
	c.rec.ObserveOCR(text)

	if err := c.builder.WritePage(ctx, docbuild.Page{Record: p, Text: text}); err != nil {
		return err
	}
	entry := c.index.Add(p, text)
	if c.db != nil {
		if err := c.db.Insert(ctx, entry); err != nil {
			return err
		}
	}
	c.pages++
	c.members += p.FrameCount
	c.progress.Page(p)
	c.log.Debug("page written", "page", p.PageID, "dedup", p.Dedup.String(),
		"regions", len(p.Regions), "frames", p.FrameCount)
	return nil
}

func openSource(ctx context.Context, req Request, log *slog.Logger) (video.Source, *video.Info, error) {
	if req.Source != nil {
		return req.Source, req.Info, nil
	}
	if req.Input == "" {
		return nil, nil, fmt.Errorf("%w: no input given", ErrInputNotFound)
	}
	if _, err := os.Stat(req.Input); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrInputNotFound, req.Input)
	}
	opts := req.Video
	if opts.Logger == nil {
		opts.Logger = log
	}
	return video.Open(ctx, req.Input, opts)
}

// resetDir empties dir, creating it if needed.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

func sourceName(req Request, info *video.Info) string {
	if req.Input != "" {
		return req.Input
	}
	if info != nil && info.Path != "" {
		return info.Path
	}
	return "memory"
}

// deriveTitle turns "lecture_03-intro.mp4" into "lecture 03 intro".
func deriveTitle(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}

func countFormat(f docbuild.Format, outputs []string) int {
	n := 0
	for _, o := range outputs {
		name := filepath.Base(o)
		switch f {
		case docbuild.FormatPDF:
			if name == docbuild.PDFFile {
				n++
			}
		case docbuild.FormatMD:
			if name == docbuild.MarkdownFile {
				n++
			}
		case docbuild.FormatEPUB:
			if name == docbuild.EPUBFile {
				n++
			}
		case docbuild.FormatImg:
			if filepath.Ext(name) == ".png" {
				n++
			}
		}
	}
	return n
}

// setIndexMeta records run metadata in the search index. Failures only lose
// the metadata, so they are logged rather than returned.
func setIndexMeta(ctx context.Context, db *index.SQLiteIndex, log *slog.Logger, meta [][2]string) {
	for _, kv := range meta {
		if err := db.SetMeta(ctx, kv[0], kv[1]); err != nil {
			log.Warn("failed to record index metadata", "key", kv[0], "error", err)
		}
	}
}
