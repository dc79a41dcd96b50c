package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/vidoc/internal/assemble"
	"github.com/jackzampolin/vidoc/internal/convert"
	"github.com/jackzampolin/vidoc/internal/index"
	"github.com/jackzampolin/vidoc/internal/ocr"
	"github.com/jackzampolin/vidoc/internal/types"
	"github.com/jackzampolin/vidoc/internal/video"
)

func init() {
	DisableColor()
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{
		"":     OutputFormatText,
		"text": OutputFormatText,
		"yaml": OutputFormatYAML,
		"yml":  OutputFormatYAML,
		"json": OutputFormatJSON,
	} {
		got, err := ParseOutputFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseOutputFormat("xml")
	assert.Error(t, err)

	assert.True(t, OutputFormatJSON.Structured())
	assert.False(t, OutputFormatText.Structured())
}

func TestOutputTo(t *testing.T) {
	data := map[string]any{"pages": 3, "input": "talk.mp4"}

	var buf bytes.Buffer
	require.NoError(t, OutputTo(&buf, OutputFormatJSON, data))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "talk.mp4", decoded["input"])

	buf.Reset()
	require.NoError(t, OutputTo(&buf, OutputFormatYAML, data))
	assert.Contains(t, buf.String(), "pages: 3")

	assert.Error(t, OutputTo(&buf, OutputFormat("toml"), data))
}

func TestProgress(t *testing.T) {
	t.Run("known frame count", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProgress(&buf, "talk.mp4")
		p.Start(&video.Info{Frames: 10})
		for i := 0; i < 12; i++ {
			p.Frame()
		}
		p.Page(&types.PageRecord{PageID: 1})
		p.Finish()

		frames, pages := p.Counts()
		assert.Equal(t, int64(12), frames)
		assert.Equal(t, int64(1), pages)
		assert.Contains(t, buf.String(), "talk.mp4")
	})

	t.Run("unknown frame count", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewProgress(&buf, "frames/")
		p.Start(nil)
		for i := 0; i < 60; i++ {
			p.Frame()
		}
		p.Finish()

		frames, _ := p.Counts()
		assert.Equal(t, int64(60), frames)
	})
}

func TestPrintResult(t *testing.T) {
	res := &convert.Result{
		RunID:      "run-1",
		Input:      "talk.mp4",
		ResultDir:  "/out/result",
		Outputs:    []string{"/out/result/document.pdf"},
		Pages:      3,
		FramesKept: 28,
		Stats: assemble.Stats{
			FramesRead:     30,
			Pages:          3,
			UniquePages:    2,
			DuplicatePages: 1,
			TextRegions:    4,
		},
		OCR:      &ocr.Stats{Regions: 4, Recognized: 3, Failed: 1},
		Failures: map[types.FailureKind]int{types.FailureOCR: 1},
		Duration: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	PrintResult(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "✓ talk.mp4")
	assert.Contains(t, out, "3 (2 unique, 1 duplicate, 0 partial)")
	assert.Contains(t, out, "3/4 regions recognized")
	assert.Contains(t, out, "failures 1 recorded, see /out/analysis/frame_analysis.json")
	assert.Contains(t, out, "/out/result/document.pdf")
	assert.Contains(t, out, "run run-1 in 1.5s")
}

func TestPrintHits(t *testing.T) {
	var buf bytes.Buffer
	PrintHits(&buf, nil)
	assert.Contains(t, buf.String(), "no matches")

	buf.Reset()
	PrintHits(&buf, []index.Hit{{
		PageID: 2, RegionIndex: 1, StartSeconds: 65, EndSeconds: 130.4,
		Kind: "text", Snippet: "hello world",
	}})
	assert.Contains(t, buf.String(), "page 2 [1:05-2:10] text #1")
	assert.Contains(t, buf.String(), "hello world")
}

func TestPrintInfo(t *testing.T) {
	var buf bytes.Buffer
	PrintInfo(&buf, &video.Info{Path: "talk.mp4", Codec: "h264", Width: 1280, Height: 720, FPS: 30, Frames: 900, Duration: 30 * time.Second})
	assert.Contains(t, buf.String(), "1280x720")
	assert.Contains(t, buf.String(), "900")
}
