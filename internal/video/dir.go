package video

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/jackzampolin/vidoc/internal/types"
)

// imageExts are the still-image formats a directory source decodes.
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// DirConfig configures a directory source.
type DirConfig struct {
	// FPS is the frame rate assigned to the image sequence (default 1).
	FPS    float64
	Logger *slog.Logger
}

// DirSource reads an ordered directory of still images as frames, e.g. the
// output of a screen recorder's frame dump or a document camera.
type DirSource struct {
	paths  []string
	fps    float64
	pos    int
	logger *slog.Logger
}

// OpenDir lists the images in dir ordered by their numeric suffix.
func OpenDir(dir string, cfg DirConfig) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: no images found: %w", dir, types.ErrNoFrames)
	}

	fps := cfg.FPS
	if fps <= 0 {
		fps = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSource{
		paths:  SortByNumber(paths),
		fps:    fps,
		logger: logger.With("component", "dir_source", "dir", dir),
	}, nil
}

// Info describes the sequence. Width and height come from the first image.
func (s *DirSource) Info() *Info {
	info := &Info{
		Path:     filepath.Dir(s.paths[0]),
		Codec:    "images",
		FPS:      s.fps,
		Frames:   int64(len(s.paths)),
		Duration: time.Duration(float64(len(s.paths)) / s.fps * float64(time.Second)),
	}
	if f, err := os.Open(s.paths[0]); err == nil {
		if cfg, _, err := image.DecodeConfig(f); err == nil {
			info.Width, info.Height = cfg.Width, cfg.Height
		}
		f.Close()
	}
	return info
}

// Next decodes the next image. Unreadable files are reported as decode gaps.
func (s *DirSource) Next(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if s.pos >= len(s.paths) {
		return types.Frame{}, io.EOF
	}

	idx := int64(s.pos)
	path := s.paths[s.pos]
	s.pos++
	f := types.Frame{Index: idx, Timestamp: time.Duration(float64(idx) / s.fps * float64(time.Second))}

	img, err := decodeFile(path)
	if err != nil {
		return f, fmt.Errorf("%s: %v: %w", filepath.Base(path), err, types.ErrDecodeGap)
	}
	f.Image = img
	return f, nil
}

// Close is a no-op.
func (s *DirSource) Close() error { return nil }

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

var numberSuffix = regexp.MustCompile(`(\d+)\.[A-Za-z]+$`)

// SortByNumber sorts paths by their trailing number.
// e.g., ["frame-2.png", "frame-1.png", "frame-10.png"] -> ["frame-1.png", "frame-2.png", "frame-10.png"]
func SortByNumber(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	sort.SliceStable(sorted, func(i, j int) bool {
		mi := numberSuffix.FindStringSubmatch(sorted[i])
		mj := numberSuffix.FindStringSubmatch(sorted[j])

		// If both have numbers, sort numerically
		if len(mi) > 1 && len(mj) > 1 {
			ni, _ := strconv.Atoi(mi[1])
			nj, _ := strconv.Atoi(mj[1])
			if ni != nj {
				return ni < nj
			}
			return sorted[i] < sorted[j]
		}

		// Files without numbers come first
		if len(mi) > 1 {
			return false
		}
		if len(mj) > 1 {
			return true
		}

		return sorted[i] < sorted[j]
	})

	return sorted
}
