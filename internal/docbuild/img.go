package docbuild

import (
	"context"
	"path/filepath"

	"github.com/jackzampolin/vidoc/internal/types"
)

// ImageSink saves each unique page as frame_NNNNN.png plus crops of its
// figure and table regions.
type ImageSink struct {
	assets *Assets
	paths  []string
}

// NewImageSink creates an image sink.
func NewImageSink(assets *Assets) (*ImageSink, error) {
	return &ImageSink{assets: assets}, nil
}

// Format returns FormatImg.
func (s *ImageSink) Format() Format {
	return FormatImg
}

// WritePage saves the page unless it duplicates an earlier page.
func (s *ImageSink) WritePage(_ context.Context, p Page) error {
	rec := p.Record
	if rec.IsDuplicate() {
		return nil
	}
	name, err := s.assets.Page(rec)
	if err != nil {
		return err
	}
	s.paths = append(s.paths, filepath.Join(s.assets.Dir(), name))

	for _, r := range rec.ExtractableRegions() {
		if r.Kind == types.RegionText {
			continue
		}
		name, err := s.assets.Region(rec, r)
		if err != nil {
			return err
		}
		s.paths = append(s.paths, filepath.Join(s.assets.Dir(), filepath.FromSlash(name)))
	}
	return nil
}

// Close returns the saved image paths.
func (s *ImageSink) Close() ([]string, error) {
	return s.paths, nil
}
