// Package fingerprint computes the per-frame perceptual fingerprint used for
// page change detection and cross-page deduplication.
//
// A fingerprint combines a 64-bit DCT perceptual hash, a 64-bit gradient
// (difference) hash acting as a structural digest, and a focus score. It is a
// pure function of the pixel data.
package fingerprint

import (
	"fmt"
	"image"

	"github.com/corona10/goimagehash"

	"github.com/jackzampolin/vidoc/internal/types"
)

// DefaultMaxSide is the working resolution used for hashing and focus scoring.
const DefaultMaxSide = 512

// minSide is the smallest frame edge that still carries a meaningful hash.
const minSide = 8

// Config holds extractor settings.
type Config struct {
	// MaxSide bounds the longest edge of the working raster (default 512).
	MaxSide int
}

// Extractor computes fingerprints. It is stateless and safe for concurrent use.
type Extractor struct {
	maxSide int
}

// New creates an extractor.
func New(cfg Config) *Extractor {
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = DefaultMaxSide
	}
	return &Extractor{maxSide: cfg.MaxSide}
}

// Compute fingerprints a frame. Malformed or empty frames yield an invalid
// fingerprint together with an error wrapping types.ErrInvalidFingerprint.
func (e *Extractor) Compute(f types.Frame) (types.Fingerprint, error) {
	if f.Empty() {
		return types.InvalidFingerprint(f.Index), fmt.Errorf("frame %d: empty raster: %w", f.Index, types.ErrInvalidFingerprint)
	}
	b := f.Image.Bounds()
	if b.Dx() < minSide || b.Dy() < minSide {
		return types.InvalidFingerprint(f.Index), fmt.Errorf("frame %d: raster %dx%d too small: %w", f.Index, b.Dx(), b.Dy(), types.ErrInvalidFingerprint)
	}

	gray, _ := Gray(f.Image, e.maxSide)
	hash, digest, err := hashes(gray)
	if err != nil {
		return types.InvalidFingerprint(f.Index), fmt.Errorf("frame %d: %v: %w", f.Index, err, types.ErrInvalidFingerprint)
	}

	return types.Fingerprint{
		FrameIndex: f.Index,
		Hash:       hash,
		Digest:     digest,
		Sharpness:  Sharpness(gray),
		Valid:      true,
	}, nil
}

// Hash returns the perceptual hash and structural digest of an arbitrary
// raster, such as a region crop.
func (e *Extractor) Hash(img image.Image) (uint64, uint64, error) {
	if img == nil || img.Bounds().Empty() {
		return 0, 0, fmt.Errorf("empty raster: %w", types.ErrInvalidFingerprint)
	}
	gray, _ := Gray(img, e.maxSide)
	return hashes(gray)
}

func hashes(gray *image.Gray) (hash, digest uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hash panicked: %v", r)
		}
	}()

	p, err := goimagehash.PerceptionHash(gray)
	if err != nil {
		return 0, 0, fmt.Errorf("perception hash: %w", err)
	}
	d, err := goimagehash.DifferenceHash(gray)
	if err != nil {
		return 0, 0, fmt.Errorf("difference hash: %w", err)
	}
	return p.GetHash(), d.GetHash(), nil
}
