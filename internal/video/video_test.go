package video

import (
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/vidoc/internal/testutil"
	"github.com/jackzampolin/vidoc/internal/types"
)

func TestSortByNumber(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "numeric order",
			input: []string{"frame-2.png", "frame-10.png", "frame-1.png"},
			want:  []string{"frame-1.png", "frame-2.png", "frame-10.png"},
		},
		{
			name:  "zero padded and plain mix",
			input: []string{"f_0003.jpg", "f_1.jpg", "f_02.jpg"},
			want:  []string{"f_1.jpg", "f_02.jpg", "f_0003.jpg"},
		},
		{
			name:  "files without numbers first",
			input: []string{"b-3.png", "cover.png", "a-1.png"},
			want:  []string{"cover.png", "a-1.png", "b-3.png"},
		},
		{
			name:  "empty",
			input: []string{},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SortByNumber(tt.input))
		})
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30000/1001", 30000.0 / 1001.0},
		{"25/1", 25},
		{"24", 24},
		{"0/0", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseRate(tt.in), 1e-9, tt.in)
	}
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"streams": [{"codec_name": "h264", "width": 1920, "height": 1080,
			"r_frame_rate": "30/1", "avg_frame_rate": "30/1", "nb_frames": "N/A"}],
		"format": {"duration": "10.000000"}
	}`)
	info, err := parseProbe("talk.mp4", data)
	require.NoError(t, err)

	assert.Equal(t, "h264", info.Codec)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.Equal(t, 30.0, info.FPS)
	assert.Equal(t, 10*time.Second, info.Duration)
	assert.Equal(t, int64(300), info.Frames)

	sampled := info.Sampled(2)
	assert.Equal(t, 2.0, sampled.FPS)
	assert.Equal(t, int64(20), sampled.Frames)

	_, err = parseProbe("audio.mp3", []byte(`{"streams": [], "format": {}}`))
	assert.Error(t, err)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame-10.png"), testutil.Blank(32, 24))
	writePNG(t, filepath.Join(dir, "frame-2.png"), testutil.Blank(32, 24))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame-3.png"), []byte("not a png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	src, err := OpenDir(dir, DirConfig{FPS: 2})
	require.NoError(t, err)

	info := src.Info()
	assert.Equal(t, int64(3), info.Frames)
	assert.Equal(t, 32, info.Width)
	assert.Equal(t, 1500*time.Millisecond, info.Duration)

	ctx := context.Background()
	f, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.Index)

	f, err = src.Next(ctx)
	assert.True(t, errors.Is(err, types.ErrDecodeGap))
	assert.Equal(t, int64(1), f.Index)

	f, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Second, f.Timestamp)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenDirEmpty(t *testing.T) {
	_, err := OpenDir(t.TempDir(), DirConfig{})
	assert.ErrorIs(t, err, types.ErrNoFrames)
}

func TestSliceSource(t *testing.T) {
	frames := testutil.Frames(testutil.Blank(16, 16), 0, 3, 10)
	frames[1].Image = nil
	src := NewSliceSource(frames)

	ctx := context.Background()
	_, err := src.Next(ctx)
	require.NoError(t, err)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, types.ErrDecodeGap)
	_, err = src.Next(ctx)
	require.NoError(t, err)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFFmpegSource(t *testing.T) {
	testutil.RequireBinary(t, "ffmpeg")
	testutil.RequireBinary(t, "ffprobe")

	path := filepath.Join(t.TempDir(), "clip.mp4")
	testutil.RequireCommand(t, "ffmpeg", "-v", "error", "-f", "lavfi", "-i", "color=c=white:s=64x48:d=1:r=10",
		"-pix_fmt", "yuv420p", path)

	ctx := context.Background()
	src, info, err := Open(ctx, path, Options{})
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 64, info.Width)

	n := 0
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 64, 48), f.Image.Bounds())
		n++
	}
	assert.Equal(t, 10, n)
}
