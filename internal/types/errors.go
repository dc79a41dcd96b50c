package types

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrDecodeGap marks a missing or corrupt frame. It is skipped, never fatal.
	ErrDecodeGap = errors.New("decode gap")
	// ErrInvalidFingerprint marks a frame that could not be fingerprinted.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")
	// ErrSegmentationAmbiguous marks a region downgraded to the safer figure kind.
	ErrSegmentationAmbiguous = errors.New("segmentation ambiguous")
	// ErrOCRFailure marks a region whose text could not be recognized.
	ErrOCRFailure = errors.New("ocr failure")
	// ErrResourceExhausted marks evictions from a bounded buffer or index.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrInvalidConfig aborts a run before processing begins.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoFrames aborts a run whose source produced no frames at all.
	ErrNoFrames = errors.New("frame source produced no frames")
)

// FailureKind names a non-fatal failure category.
type FailureKind string

const (
	FailureDecodeGap             FailureKind = "decode_gap"
	FailureInvalidFingerprint    FailureKind = "invalid_fingerprint"
	FailureSegmentationAmbiguous FailureKind = "segmentation_ambiguous"
	FailureOCR                   FailureKind = "ocr_failure"
	FailureResourceExhausted     FailureKind = "resource_exhausted"
)

// Failure is one recorded non-fatal failure.
type Failure struct {
	Kind        FailureKind   `json:"kind"`
	FrameIndex  int64         `json:"frame_index,omitempty"`
	PageID      int           `json:"page_id,omitempty"`
	RegionIndex int           `json:"region_index,omitempty"`
	Timestamp   time.Duration `json:"timestamp,omitempty"`
	Message     string        `json:"message"`
}

// DefaultFailureLogSize bounds the number of failures retained in detail.
const DefaultFailureLogSize = 500

// FailureLog is a bounded, concurrency-safe record of non-fatal failures.
// Counts are always exact; details beyond the bound are dropped.
type FailureLog struct {
	mu      sync.Mutex
	max     int
	entries []Failure
	counts  map[FailureKind]int
	dropped int
}

// NewFailureLog creates a failure log retaining at most max detailed entries.
func NewFailureLog(max int) *FailureLog {
	if max <= 0 {
		max = DefaultFailureLogSize
	}
	return &FailureLog{max: max, counts: make(map[FailureKind]int)}
}

// Record adds a failure.
func (l *FailureLog) Record(f Failure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[f.Kind]++
	if len(l.entries) >= l.max {
		l.dropped++
		return
	}
	l.entries = append(l.entries, f)
}

// Count returns the number of failures of the given kind.
func (l *FailureLog) Count(kind FailureKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[kind]
}

// Snapshot returns a copy of the retained entries, per-kind counts, and the
// number of entries dropped for exceeding the bound.
func (l *FailureLog) Snapshot() ([]Failure, map[FailureKind]int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]Failure, len(l.entries))
	copy(entries, l.entries)
	counts := make(map[FailureKind]int, len(l.counts))
	for k, v := range l.counts {
		counts[k] = v
	}
	return entries, counts, l.dropped
}
