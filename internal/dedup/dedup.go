// Package dedup recognizes pages and regions that repeat earlier content so
// downstream extraction can skip them.
package dedup

import (
	"fmt"
	"image"
	"log/slog"
	"math/bits"
	"sort"

	"github.com/jackzampolin/vidoc/internal/types"
)

// Defaults for the match tolerances.
const (
	DefaultDuplicateTolerance = 4
	DefaultRegionTolerance    = 6
	DefaultMinRegionIoU       = 0.5
	DefaultHistorySize        = 256
)

// Hasher hashes region crops. fingerprint.Extractor satisfies it.
type Hasher interface {
	Hash(img image.Image) (hash, digest uint64, err error)
}

// Config holds deduplicator settings.
type Config struct {
	// DuplicateTolerance is the largest page hash distance, in bits, treated
	// as the same page. It should be tighter than the split cutoff.
	DuplicateTolerance int
	// RegionTolerance is the largest region crop hash distance treated as a
	// repeat.
	RegionTolerance int
	// MinRegionIoU is the box overlap required for two regions to be compared.
	MinRegionIoU float64
	HistorySize  int
	// OnEvict is called with the id of each page dropped from history.
	OnEvict func(pageID int)
	Logger  *slog.Logger
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DuplicateTolerance < 0 || c.DuplicateTolerance > types.HashBits {
		return fmt.Errorf("duplicate tolerance %d outside [0,%d]: %w", c.DuplicateTolerance, types.HashBits, types.ErrInvalidConfig)
	}
	if c.RegionTolerance < 0 || c.RegionTolerance > types.HashBits {
		return fmt.Errorf("region tolerance %d outside [0,%d]: %w", c.RegionTolerance, types.HashBits, types.ErrInvalidConfig)
	}
	if c.MinRegionIoU < 0 || c.MinRegionIoU > 1 {
		return fmt.Errorf("region IoU %v outside [0,1]: %w", c.MinRegionIoU, types.ErrInvalidConfig)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("history size %d must be >= 1: %w", c.HistorySize, types.ErrInvalidConfig)
	}
	return nil
}

// Deduplicator classifies pages against the history. Classify is read-only
// and may run concurrently with other lookups; Commit is called by a single
// owner in page order.
type Deduplicator struct {
	cfg     Config
	hasher  Hasher
	history *History
	logger  *slog.Logger
}

// New creates a deduplicator.
func New(cfg Config, hasher Hasher) (*Deduplicator, error) {
	if cfg.MinRegionIoU == 0 {
		cfg.MinRegionIoU = DefaultMinRegionIoU
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	history, err := NewHistory(cfg.HistorySize, cfg.OnEvict)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		cfg:     cfg,
		hasher:  hasher,
		history: history,
		logger:  logger.With("component", "dedup"),
	}, nil
}

// History exposes the bounded page index.
func (d *Deduplicator) History() *History {
	return d.history
}

// Digest hashes each region crop of img. Regions whose crop cannot be hashed
// get an invalid digest and never match.
func (d *Deduplicator) Digest(img image.Image, regions []types.Region) []RegionDigest {
	out := make([]RegionDigest, len(regions))
	for i, r := range regions {
		out[i] = RegionDigest{Index: r.Index, Kind: r.Kind, Box: r.Box}
		if img == nil {
			continue
		}
		h, _, err := d.hasher.Hash(types.Crop(img, r.Box))
		if err != nil {
			continue
		}
		out[i].Hash, out[i].Valid = h, true
	}
	return out
}

// Classify compares a page against the history without modifying it.
func (d *Deduplicator) Classify(fp types.Fingerprint, regions []RegionDigest) types.DedupStatus {
	entries := d.history.Entries()
	if !fp.Valid || len(entries) == 0 {
		return types.Unique()
	}

	if id, ok := d.matchPage(fp, entries); ok {
		return types.DuplicateOf(id)
	}

	var matches []types.RegionMatch
	for _, r := range regions {
		if ref, ok := d.matchRegion(r, entries); ok {
			matches = append(matches, types.RegionMatch{RegionIndex: r.Index, Ref: ref})
		}
	}
	if len(matches) > 0 {
		return types.PartialDuplicate(matches)
	}
	return types.Unique()
}

// matchPage returns the closest page within tolerance, the earliest on ties.
func (d *Deduplicator) matchPage(fp types.Fingerprint, entries []*Entry) (int, bool) {
	tol := d.cfg.DuplicateTolerance
	best, bestDist := 0, types.HashBits+1
	for _, e := range entries {
		dist := fp.Distance(e.Fingerprint)
		if dist > tol || fp.DigestDistance(e.Fingerprint) > 2*tol {
			continue
		}
		if dist < bestDist {
			best, bestDist = e.PageID, dist
		}
	}
	return best, bestDist <= tol
}

// matchRegion finds the closest earlier region of the same kind occupying
// roughly the same place.
func (d *Deduplicator) matchRegion(r RegionDigest, entries []*Entry) (types.RegionRef, bool) {
	if !r.Valid {
		return types.RegionRef{}, false
	}
	var best types.RegionRef
	bestDist := types.HashBits + 1
	for _, e := range entries {
		for _, prev := range e.Regions {
			if !prev.Valid || prev.Kind != r.Kind || prev.Box.IoU(r.Box) < d.cfg.MinRegionIoU {
				continue
			}
			dist := hamming(prev.Hash, r.Hash)
			if dist > d.cfg.RegionTolerance || dist >= bestDist {
				continue
			}
			bestDist = dist
			best = types.RegionRef{PageID: e.PageID, RegionIndex: prev.Index}
			if prev.Origin != nil {
				best = *prev.Origin
			}
		}
	}
	return best, bestDist <= d.cfg.RegionTolerance
}

// Commit records the outcome for an emitted page. Duplicate pages refresh
// their original instead of adding a new entry.
func (d *Deduplicator) Commit(pageID int, fp types.Fingerprint, regions []RegionDigest, status types.DedupStatus) {
	if !fp.Valid {
		return
	}
	if status.Kind == types.DedupDuplicate {
		d.history.Touch(status.DuplicateOf)
		return
	}

	stored := make([]RegionDigest, len(regions))
	copy(stored, regions)
	for _, m := range status.Regions {
		for i := range stored {
			if stored[i].Index == m.RegionIndex {
				ref := m.Ref
				stored[i].Origin = &ref
			}
		}
	}
	d.history.Record(&Entry{PageID: pageID, Fingerprint: fp, Regions: stored})
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].PageID < entries[j].PageID })
}

func hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
