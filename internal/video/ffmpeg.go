package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/vidoc/internal/types"
)

// Defaults for stall handling.
const (
	DefaultDecodeTimeout = 10 * time.Second
	DefaultMaxGaps       = 25
	fallbackFPS          = 25
)

// ErrDecoderStalled ends a source after too many consecutive decode gaps.
var ErrDecoderStalled = errors.New("decoder stalled")

// FFmpegConfig configures an ffmpeg-backed source.
type FFmpegConfig struct {
	Path string
	// Info skips probing when already known.
	Info          *Info
	SampleFPS     float64
	DecodeTimeout time.Duration
	MaxGaps       int
	// Binary overrides the ffmpeg executable (default "ffmpeg").
	Binary string
	Logger *slog.Logger
}

type rawFrame struct {
	img *image.RGBA
}

// FFmpegSource streams RGBA frames from an ffmpeg subprocess. Each read waits
// at most DecodeTimeout; a stall is reported as a decode gap so the pipeline
// keeps moving.
type FFmpegSource struct {
	cfg    FFmpegConfig
	info   Info
	fps    float64
	logger *slog.Logger

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr bytes.Buffer
	frames chan rawFrame

	mu      sync.Mutex
	readErr error

	waitOnce sync.Once
	endErr   error

	idx  int64
	gaps int
}

// OpenFFmpeg probes the input (unless cfg.Info is set) and starts decoding.
func OpenFFmpeg(ctx context.Context, cfg FFmpegConfig) (*FFmpegSource, error) {
	if cfg.DecodeTimeout <= 0 {
		cfg.DecodeTimeout = DefaultDecodeTimeout
	}
	if cfg.MaxGaps <= 0 {
		cfg.MaxGaps = DefaultMaxGaps
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info := cfg.Info
	if info == nil {
		probed, err := Probe(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		info = probed
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%s: unknown frame size %dx%d", cfg.Path, info.Width, info.Height)
	}

	sampled := info.Sampled(cfg.SampleFPS)
	fps := sampled.FPS
	if fps <= 0 {
		fps = fallbackFPS
	}

	args := []string{"-v", "error", "-nostdin", "-i", cfg.Path}
	if cfg.SampleFPS > 0 && cfg.SampleFPS < info.FPS {
		args = append(args, "-vf", "fps="+strconv.FormatFloat(cfg.SampleFPS, 'f', -1, 64))
	}
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "-")

	runCtx, cancel := context.WithCancel(ctx)
	s := &FFmpegSource{
		cfg:    cfg,
		info:   sampled,
		fps:    fps,
		logger: logger.With("component", "ffmpeg", "path", cfg.Path),
		cancel: cancel,
		frames: make(chan rawFrame, 2),
	}
	s.cmd = exec.CommandContext(runCtx, cfg.Binary, args...)
	s.cmd.Stderr = &s.stderr

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s.logger.Debug("decoding", "width", info.Width, "height", info.Height, "fps", fps, "frames", sampled.Frames)
	go s.read(stdout, info.Width, info.Height)
	return s, nil
}

// Info returns the input description, adjusted for sampling.
func (s *FFmpegSource) Info() *Info {
	info := s.info
	return &info
}

// read decodes fixed-size RGBA frames from ffmpeg's stdout.
func (s *FFmpegSource) read(r io.Reader, w, h int) {
	defer close(s.frames)
	size := w * h * 4
	for {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		if _, err := io.ReadFull(r, img.Pix[:size]); err != nil {
			if !errors.Is(err, io.EOF) {
				s.setErr(err)
			}
			return
		}
		s.frames <- rawFrame{img: img}
	}
}

func (s *FFmpegSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr == nil {
		s.readErr = err
	}
}

// Next returns the next decoded frame.
func (s *FFmpegSource) Next(ctx context.Context) (types.Frame, error) {
	timer := time.NewTimer(s.cfg.DecodeTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()

	case <-timer.C:
		s.gaps++
		gap := types.Frame{Index: s.idx, Timestamp: s.timestamp(s.idx)}
		if s.gaps > s.cfg.MaxGaps {
			return gap, fmt.Errorf("%w: %d consecutive reads timed out", ErrDecoderStalled, s.gaps)
		}
		return gap, fmt.Errorf("frame %d: no data after %s: %w", s.idx, s.cfg.DecodeTimeout, types.ErrDecodeGap)

	case raw, ok := <-s.frames:
		if !ok {
			return types.Frame{}, s.finish()
		}
		s.gaps = 0
		f := types.Frame{Index: s.idx, Timestamp: s.timestamp(s.idx), Image: raw.img}
		s.idx++
		return f, nil
	}
}

// finish waits for ffmpeg once and maps its exit into io.EOF or an error.
func (s *FFmpegSource) finish() error {
	s.waitOnce.Do(func() { s.endErr = s.wait() })
	return s.endErr
}

func (s *FFmpegSource) wait() error {
	waitErr := s.cmd.Wait()
	s.mu.Lock()
	readErr := s.readErr
	s.mu.Unlock()

	if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read ffmpeg output: %w", readErr)
	}
	if waitErr != nil {
		msg := strings.TrimSpace(s.stderr.String())
		if s.idx == 0 {
			return fmt.Errorf("ffmpeg failed: %w (output: %s)", waitErr, msg)
		}
		s.logger.Warn("ffmpeg exited with error after partial decode", "frames", s.idx, "error", waitErr, "output", msg)
	}
	if readErr != nil {
		s.logger.Warn("truncated final frame dropped", "frames", s.idx)
	}
	return io.EOF
}

func (s *FFmpegSource) timestamp(idx int64) time.Duration {
	return time.Duration(float64(idx) / s.fps * float64(time.Second))
}

// Close stops the decoder.
func (s *FFmpegSource) Close() error {
	s.cancel()
	for range s.frames {
	}
	s.finish()
	return nil
}
