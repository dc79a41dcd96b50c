package convert

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/vidoc/internal/assemble"
	"github.com/jackzampolin/vidoc/internal/dedup"
	"github.com/jackzampolin/vidoc/internal/detect"
	"github.com/jackzampolin/vidoc/internal/docbuild"
	"github.com/jackzampolin/vidoc/internal/index"
	"github.com/jackzampolin/vidoc/internal/metrics"
	"github.com/jackzampolin/vidoc/internal/ocr"
	"github.com/jackzampolin/vidoc/internal/segment"
	"github.com/jackzampolin/vidoc/internal/testutil"
	"github.com/jackzampolin/vidoc/internal/types"
	"github.com/jackzampolin/vidoc/internal/video"
)

const fps = 10.0

func engineConfig() assemble.Config {
	return assemble.Config{
		Detector: detect.Config{Sensitivity: 0.15, DebounceWindow: 3},
		Segment: segment.Config{
			TableMinConfidence: segment.DefaultTableMinConfidence,
			FigureMinScore:     segment.DefaultFigureMinScore,
		},
		Dedup: dedup.Config{
			DuplicateTolerance: dedup.DefaultDuplicateTolerance,
			RegionTolerance:    dedup.DefaultRegionTolerance,
			HistorySize:        dedup.DefaultHistorySize,
		},
		Workers: 2,
	}
}

// lecture is a document page, a different page, then the document page again.
func lecture() *video.SliceSource {
	doc, _ := testutil.DocumentPage(testutil.FullGrid(3, 3))
	other := testutil.TexturePage(600, 800, 2)
	return video.NewSliceSource(testutil.Sequence(fps,
		testutil.Repeat(doc, 10),
		testutil.Repeat(other, 10),
		testutil.Repeat(doc, 10),
	))
}

type countingProgress struct {
	started, finished atomic.Bool
	frames            atomic.Int64
	pages             atomic.Int64
}

func (p *countingProgress) Start(*video.Info)      { p.started.Store(true) }
func (p *countingProgress) Frame()                 { p.frames.Add(1) }
func (p *countingProgress) Page(*types.PageRecord) { p.pages.Add(1) }
func (p *countingProgress) Finish()                { p.finished.Store(true) }

func TestRun(t *testing.T) {
	out := t.TempDir()
	stale := filepath.Join(out, ResultDir, "stale.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	engine := ocr.NewMockEngine("hello world")
	progress := &countingProgress{}
	res, err := Run(context.Background(), Request{
		Source:    lecture(),
		OutputDir: out,
		Title:     "Lecture",
		Engine:    engineConfig(),
		OCR:       ocr.RunnerConfig{Engine: engine, Language: "eng"},
		Formats:   []docbuild.Format{docbuild.FormatImg, docbuild.FormatMD},
		Index:     true,
		SQLite:    true,
		Progress:  progress,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 1, res.Stats.DuplicatePages)
	assert.Equal(t, 30, res.Stats.FramesRead)
	assert.NotEmpty(t, res.RunID)
	require.NotNil(t, res.OCR)
	assert.GreaterOrEqual(t, res.OCR.Recognized, int64(2))
	assert.Zero(t, res.OCR.Failed)

	resultDir := filepath.Join(out, ResultDir)
	assert.NoFileExists(t, stale, "result directory is reset")
	assert.FileExists(t, filepath.Join(resultDir, "frame_00001.png"))
	assert.FileExists(t, filepath.Join(resultDir, "frame_00002.png"))
	assert.NoFileExists(t, filepath.Join(resultDir, "frame_00003.png"))
	assert.FileExists(t, filepath.Join(resultDir, docbuild.MarkdownFile))
	assert.FileExists(t, filepath.Join(resultDir, OCRDir, ocr.ResultsFile))
	assert.Contains(t, res.Outputs, filepath.Join(resultDir, index.JSONFile))

	md, err := os.ReadFile(filepath.Join(resultDir, docbuild.MarkdownFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# Lecture\n"))
	assert.Contains(t, string(md), "hello world")
	assert.Contains(t, string(md), "> Duplicate of [page 1](#page-1).")

	idx, err := index.Load(filepath.Join(resultDir, index.JSONFile))
	require.NoError(t, err)
	require.Len(t, idx.Pages, 3)
	assert.Equal(t, res.RunID, idx.RunID)
	assert.Equal(t, types.DedupDuplicate, idx.Pages[2].Dedup.Kind)
	assert.Equal(t, types.RegionText, idx.Pages[0].Regions[0].Kind)
	assert.Equal(t, "hello world", idx.Pages[0].Regions[0].Text)

	db, err := index.OpenSQLite(filepath.Join(resultDir, index.DBFile))
	require.NoError(t, err)
	defer db.Close()
	hits, err := db.Search(context.Background(), "HELLO", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, 1, hits[0].PageID)
	runID, err := db.Meta(context.Background(), "run_id")
	require.NoError(t, err)
	assert.Equal(t, res.RunID, runID)

	report, err := LoadReport(filepath.Join(out, AnalysisDir, ReportFile))
	require.NoError(t, err)
	assert.Equal(t, res.RunID, report.RunID)
	assert.Equal(t, 30, report.TotalFrames)
	assert.Equal(t, 3, report.Pages)
	assert.Equal(t, 1, report.DuplicatePages)
	assert.LessOrEqual(t, report.KeptFrames, 30)
	assert.Positive(t, report.KeptFrames)
	assert.NotEmpty(t, report.Distances)
	assert.FileExists(t, filepath.Join(out, AnalysisDir, metrics.TextFile))

	assert.Equal(t, 3, res.Metrics.Pages["unique"]+res.Metrics.Pages["duplicate"]+res.Metrics.Pages["partial_duplicate"])
	assert.Equal(t, 30, res.Metrics.FramesRead)

	assert.True(t, progress.started.Load())
	assert.True(t, progress.finished.Load())
	assert.EqualValues(t, 30, progress.frames.Load())
	assert.EqualValues(t, 3, progress.pages.Load())
}

func TestSetIndexMetaLogsFailures(t *testing.T) {
	db, err := index.OpenSQLite(filepath.Join(t.TempDir(), index.DBFile))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	setIndexMeta(context.Background(), db, log, [][2]string{{"run_id", "abc"}})
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "key=run_id")
}

func TestRunWithoutOCR(t *testing.T) {
	out := t.TempDir()
	res, err := Run(context.Background(), Request{
		Source:      lecture(),
		OutputDir:   out,
		Engine:      engineConfig(),
		Index:       true,
		IndexFormat: "yaml",
	})
	require.NoError(t, err)
	assert.Nil(t, res.OCR)
	assert.Equal(t, 3, res.Pages)

	idx, err := index.Load(filepath.Join(out, ResultDir, index.YAMLFile))
	require.NoError(t, err)
	assert.Equal(t, "memory", idx.Source)
	assert.Empty(t, idx.Pages[0].Text)
}

func TestRunOCRFailureIsNotFatal(t *testing.T) {
	out := t.TempDir()
	engine := &ocr.MockEngine{ShouldFail: true}
	res, err := Run(context.Background(), Request{
		Source:    lecture(),
		OutputDir: out,
		Engine:    engineConfig(),
		OCR:       ocr.RunnerConfig{Engine: engine, MaxRetries: 0},
		Formats:   []docbuild.Format{docbuild.FormatMD},
	})
	require.NoError(t, err)
	require.NotNil(t, res.OCR)
	assert.Positive(t, res.OCR.Failed)
	assert.Positive(t, res.Failures[types.FailureOCR])

	md, err := os.ReadFile(filepath.Join(out, ResultDir, docbuild.MarkdownFile))
	require.NoError(t, err)
	assert.Contains(t, string(md), "(text not recognized)")

	report, err := LoadReport(filepath.Join(out, AnalysisDir, ReportFile))
	require.NoError(t, err)
	assert.Positive(t, report.FailureCounts[types.FailureOCR])
}

func TestRunErrors(t *testing.T) {
	badEngine := engineConfig()
	badEngine.Detector.Sensitivity = 1.5

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "missing input",
			req:     Request{Input: filepath.Join(t.TempDir(), "missing.mp4"), Engine: engineConfig()},
			wantErr: ErrInputNotFound,
		},
		{
			name:    "no input",
			req:     Request{Engine: engineConfig()},
			wantErr: ErrInputNotFound,
		},
		{
			name:    "invalid sensitivity",
			req:     Request{Source: lecture(), Engine: badEngine},
			wantErr: types.ErrInvalidConfig,
		},
		{
			name:    "unknown index format",
			req:     Request{Source: lecture(), Engine: engineConfig(), Index: true, IndexFormat: "xml"},
			wantErr: types.ErrInvalidConfig,
		},
		{
			name:    "no frames",
			req:     Request{Source: video.NewSliceSource(nil), Engine: engineConfig()},
			wantErr: types.ErrNoFrames,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := t.TempDir()
			tt.req.OutputDir = out
			_, err := Run(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestInvalidConfigLeavesOutputUntouched(t *testing.T) {
	out := t.TempDir()
	keep := filepath.Join(out, ResultDir, "keep.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(keep), 0o755))
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	cfg := engineConfig()
	cfg.Detector.DebounceWindow = 0
	_, err := Run(context.Background(), Request{Source: lecture(), OutputDir: out, Engine: cfg})
	require.ErrorIs(t, err, types.ErrInvalidConfig)
	assert.FileExists(t, keep)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Request{Source: lecture(), OutputDir: t.TempDir(), Engine: engineConfig()})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/videos/lecture_03-intro.mp4", "lecture 03 intro"},
		{"slides.mov", "slides"},
		{"memory", "memory"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, deriveTitle(tt.in))
	}
}

func TestCountFormat(t *testing.T) {
	outputs := []string{"/r/document.pdf", "/r/frame_00001.png", "/r/crops/page_00001_region_01.png", "/r/document.md"}
	assert.Equal(t, 1, countFormat(docbuild.FormatPDF, outputs))
	assert.Equal(t, 2, countFormat(docbuild.FormatImg, outputs))
	assert.Equal(t, 0, countFormat(docbuild.FormatEPUB, outputs))
}
