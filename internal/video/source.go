// Package video provides frame sources: an ffmpeg subprocess decoder for video
// files, an ordered directory of still images, and an in-memory slice.
package video

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jackzampolin/vidoc/internal/types"
)

// Source is a forward-only frame sequence. Next returns io.EOF after the
// last frame and an error wrapping types.ErrDecodeGap for a skipped frame.
type Source interface {
	Next(ctx context.Context) (types.Frame, error)
	Close() error
}

// Options configures Open.
type Options struct {
	// SampleFPS decimates the input to this rate (0 keeps every frame).
	SampleFPS float64
	// DirFPS is the frame rate assigned to an image directory (default 1).
	DirFPS float64
	// DecodeTimeout turns a stalled read into a decode gap.
	DecodeTimeout time.Duration
	// MaxGaps ends the source after this many consecutive gaps.
	MaxGaps int
	Logger  *slog.Logger
}

// Open returns a source for path: a directory of images or a video file
// decoded by ffmpeg. The returned Info describes the input.
func Open(ctx context.Context, path string, opts Options) (Source, *Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	if st.IsDir() {
		src, err := OpenDir(path, DirConfig{FPS: opts.DirFPS, Logger: opts.Logger})
		if err != nil {
			return nil, nil, err
		}
		return src, src.Info(), nil
	}

	src, err := OpenFFmpeg(ctx, FFmpegConfig{
		Path:          path,
		SampleFPS:     opts.SampleFPS,
		DecodeTimeout: opts.DecodeTimeout,
		MaxGaps:       opts.MaxGaps,
		Logger:        opts.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return src, src.Info(), nil
}

// SliceSource serves frames from memory. Frames without an image are reported
// as decode gaps.
type SliceSource struct {
	frames []types.Frame
	pos    int
}

// NewSliceSource creates a source over frames.
func NewSliceSource(frames []types.Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

// Next returns the next frame.
func (s *SliceSource) Next(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if s.pos >= len(s.frames) {
		return types.Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	if f.Image == nil {
		return f, fmt.Errorf("frame %d: %w", f.Index, types.ErrDecodeGap)
	}
	return f, nil
}

// Close is a no-op.
func (s *SliceSource) Close() error { return nil }

// Len returns the number of frames.
func (s *SliceSource) Len() int { return len(s.frames) }
