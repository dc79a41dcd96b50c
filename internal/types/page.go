package types

import (
	"fmt"
	"image"
)

// DedupKind is the outcome of cross-page deduplication.
type DedupKind string

const (
	DedupUnique           DedupKind = "unique"
	DedupDuplicate        DedupKind = "duplicate"
	DedupPartialDuplicate DedupKind = "partial_duplicate"
)

// RegionMatch maps a region of the current page to a region of an earlier page.
type RegionMatch struct {
	RegionIndex int       `json:"region_index" yaml:"region_index"`
	Ref         RegionRef `json:"ref" yaml:"ref"`
}

// DedupStatus is computed once, before a page is emitted, and never revised.
type DedupStatus struct {
	Kind        DedupKind     `json:"kind" yaml:"kind"`
	DuplicateOf int           `json:"duplicate_of,omitempty" yaml:"duplicate_of,omitempty"`
	Regions     []RegionMatch `json:"regions,omitempty" yaml:"regions,omitempty"`
}

// Unique returns the status of a page with no recognized repeats.
func Unique() DedupStatus {
	return DedupStatus{Kind: DedupUnique}
}

// DuplicateOf returns the status of a page that repeats pageID as a whole.
func DuplicateOf(pageID int) DedupStatus {
	return DedupStatus{Kind: DedupDuplicate, DuplicateOf: pageID}
}

// PartialDuplicate returns the status of a page where some regions repeat earlier content.
func PartialDuplicate(matches []RegionMatch) DedupStatus {
	return DedupStatus{Kind: DedupPartialDuplicate, Regions: matches}
}

// String renders the status for logs and documents.
func (s DedupStatus) String() string {
	switch s.Kind {
	case DedupDuplicate:
		return fmt.Sprintf("duplicate of page %d", s.DuplicateOf)
	case DedupPartialDuplicate:
		return fmt.Sprintf("partial duplicate (%d regions)", len(s.Regions))
	default:
		return string(DedupUnique)
	}
}

// PageRecord is the finalized, immutable unit handed to downstream consumers.
type PageRecord struct {
	PageID      int         `json:"page_id"`
	Range       TimeRange   `json:"range"`
	FrameIndex  int64       `json:"frame_index"` // index of the representative frame
	FrameCount  int         `json:"frame_count"` // number of member frames
	Fingerprint Fingerprint `json:"fingerprint"`
	Regions     []Region    `json:"regions"`
	Dedup       DedupStatus `json:"dedup"`

	// Representative is the canonical raster for the page. Consumers must treat
	// it as read-only.
	Representative image.Image `json:"-"`
}

// IsDuplicate reports whether the whole page repeats an earlier page.
func (p *PageRecord) IsDuplicate() bool {
	return p.Dedup.Kind == DedupDuplicate
}

// ExtractableRegions returns the regions that still need OCR or cropping:
// none for a duplicate page, and only non-duplicate regions otherwise.
func (p *PageRecord) ExtractableRegions() []Region {
	if p.IsDuplicate() {
		return nil
	}
	out := make([]Region, 0, len(p.Regions))
	for _, r := range p.Regions {
		if !r.IsDuplicate() {
			out = append(out, r)
		}
	}
	return out
}
