package main

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/vidoc/internal/convert"
	"github.com/jackzampolin/vidoc/internal/docbuild"
	"github.com/jackzampolin/vidoc/internal/index"
	"github.com/jackzampolin/vidoc/internal/testutil"
	"github.com/jackzampolin/vidoc/internal/types"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{fmt.Errorf("%w: lecture.mp4", convert.ErrInputNotFound), 1},
		{fmt.Errorf("%w: sensitivity 2 outside [0,1]", types.ErrInvalidConfig), 2},
		{fmt.Errorf("run: %w", types.ErrNoFrames), 2},
		{fmt.Errorf("write %s: %w", "document.pdf", errors.New("disk full")), 2},
		{errors.New("ffmpeg exited with status 1"), 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "page", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"page":3`)

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func writeFrames(t *testing.T, dir string, pages ...image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	n := 0
	for _, page := range pages {
		for i := 0; i < 8; i++ {
			n++
			f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%04d.png", n)))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, page))
			require.NoError(t, f.Close())
		}
	}
}

func execute(args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestCommands(t *testing.T) {
	root := t.TempDir()
	vidocHome := filepath.Join(root, "home")
	frames := filepath.Join(root, "frames")
	out := filepath.Join(root, "out")

	doc, _ := testutil.DocumentPage(testutil.FullGrid(3, 3))
	writeFrames(t, frames, doc, testutil.TexturePage(600, 800, 4))

	common := []string{"--home", vidocHome, "--log-level", "error", "--no-color"}

	t.Run("config init", func(t *testing.T) {
		require.NoError(t, execute(append([]string{"config", "init"}, common...)...))
		assert.FileExists(t, filepath.Join(vidocHome, "config.yaml"))

		err := execute(append([]string{"config", "init"}, common...)...)
		assert.ErrorContains(t, err, "already exists")
	})

	t.Run("config show", func(t *testing.T) {
		require.NoError(t, execute(append([]string{"config", "show", "-o", "yaml"}, common...)...))
		assert.Equal(t, filepath.Join(vidocHome, "config.yaml"), cfgMgr.ConfigFile())
	})

	t.Run("probe frame directory", func(t *testing.T) {
		require.NoError(t, execute(append([]string{"probe", frames, "-o", "json"}, common...)...))
	})

	t.Run("convert frame directory", func(t *testing.T) {
		args := append([]string{"convert", frames,
			"--out", out, "--ocr", "none", "--format", "md",
			"--index", "--sqlite", "--dir-fps", "5", "--no-progress", "-o", "text",
		}, common...)
		require.NoError(t, execute(args...))

		resultDir := filepath.Join(out, convert.ResultDir)
		assert.FileExists(t, filepath.Join(resultDir, docbuild.MarkdownFile))
		assert.FileExists(t, filepath.Join(resultDir, index.JSONFile))
		assert.FileExists(t, filepath.Join(resultDir, index.DBFile))
		assert.FileExists(t, filepath.Join(out, convert.AnalysisDir, convert.ReportFile))

		idx, err := index.Load(filepath.Join(resultDir, index.JSONFile))
		require.NoError(t, err)
		assert.Len(t, idx.Pages, 2)

		cfg := cfgMgr.Get()
		assert.Equal(t, "none", cfg.OCR.Engine)
		assert.Equal(t, []string{"md"}, cfg.Output.Formats)
	})

	t.Run("search", func(t *testing.T) {
		db := filepath.Join(out, convert.ResultDir, index.DBFile)
		require.NoError(t, execute(append([]string{"search", "anything", "--db", db}, common...)...))

		err := execute(append([]string{"search", "anything", "--db", filepath.Join(root, "none.db")}, common...)...)
		assert.ErrorIs(t, err, convert.ErrInputNotFound)
	})

	t.Run("missing input", func(t *testing.T) {
		err := execute(append([]string{"convert", filepath.Join(root, "missing.mp4"), "--out", out}, common...)...)
		require.ErrorIs(t, err, convert.ErrInputNotFound)
		assert.Equal(t, 1, exitCode(err))
	})

	t.Run("invalid config", func(t *testing.T) {
		err := execute(append([]string{"convert", frames, "--out", out, "--sensitivity", "2"}, common...)...)
		require.ErrorIs(t, err, types.ErrInvalidConfig)
		assert.Equal(t, 2, exitCode(err))
	})
}
