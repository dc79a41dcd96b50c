// Package types provides the data model shared by the segmentation engine and
// its collaborators. It has no dependencies on other vidoc packages to avoid
// import cycles.
package types

import (
	"image"
	"math/bits"
	"time"
)

// HashBits is the width of the perceptual hash and the structural digest.
const HashBits = 64

// Frame is a single decoded video frame. Frames are immutable once produced and
// are owned by whichever stage currently holds them.
type Frame struct {
	Index     int64
	Timestamp time.Duration
	Image     image.Image
}

// Empty reports whether the frame carries no usable pixel data.
func (f Frame) Empty() bool {
	if f.Image == nil {
		return true
	}
	return f.Image.Bounds().Empty()
}

// Fingerprint is the per-frame summary used for change detection and
// deduplication. It is tiny compared to the raster and safe to retain.
type Fingerprint struct {
	FrameIndex int64   `json:"frame_index"`
	Hash       uint64  `json:"hash"`      // perceptual hash
	Digest     uint64  `json:"digest"`    // structural (gradient) digest
	Sharpness  float64 `json:"sharpness"` // focus metric, higher is sharper
	Valid      bool    `json:"valid"`
}

// InvalidFingerprint is the sentinel produced for malformed or empty frames.
func InvalidFingerprint(frameIndex int64) Fingerprint {
	return Fingerprint{FrameIndex: frameIndex}
}

// Distance returns the Hamming distance between two perceptual hashes.
func (f Fingerprint) Distance(o Fingerprint) int {
	return bits.OnesCount64(f.Hash ^ o.Hash)
}

// DigestDistance returns the Hamming distance between two structural digests.
func (f Fingerprint) DigestDistance(o Fingerprint) int {
	return bits.OnesCount64(f.Digest ^ o.Digest)
}

// TimeRange is a closed interval of video time covered by a page.
type TimeRange struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End - r.Start
}
