package dedup

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jackzampolin/vidoc/internal/types"
)

// RegionDigest is the retained summary of one region: no pixels.
type RegionDigest struct {
	Index int
	Kind  types.RegionKind
	Box   types.BoundingBox
	Hash  uint64
	Valid bool
	// Origin is the region this one repeats, if any, so matches always point
	// at the first occurrence.
	Origin *types.RegionRef
}

// Entry is what the history remembers about an emitted page.
type Entry struct {
	PageID      int
	Fingerprint types.Fingerprint
	Regions     []RegionDigest
}

// History is the bounded index of previously emitted unique pages. Lookups
// use Peek and never reorder entries; only the assembler mutates it.
type History struct {
	cache   *lru.Cache[int, *Entry]
	evicted atomic.Int64
}

// NewHistory creates a history retaining at most size pages. onEvict, when
// set, is called with the id of each page dropped to make room.
func NewHistory(size int, onEvict func(pageID int)) (*History, error) {
	if size < 1 {
		return nil, fmt.Errorf("history size %d must be >= 1: %w", size, types.ErrInvalidConfig)
	}
	h := &History{}
	cache, err := lru.NewWithEvict[int, *Entry](size, func(id int, _ *Entry) {
		h.evicted.Add(1)
		if onEvict != nil {
			onEvict(id)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}
	h.cache = cache
	return h, nil
}

// Record adds a page.
func (h *History) Record(e *Entry) {
	h.cache.Add(e.PageID, e)
}

// Touch marks a page as recently seen so it is evicted last.
func (h *History) Touch(pageID int) {
	h.cache.Get(pageID)
}

// Entries returns the retained pages ordered by page id.
func (h *History) Entries() []*Entry {
	keys := h.cache.Keys()
	out := make([]*Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := h.cache.Peek(k); ok {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// Len returns the number of retained pages.
func (h *History) Len() int {
	return h.cache.Len()
}

// Evicted returns the number of pages dropped so far.
func (h *History) Evicted() int {
	return int(h.evicted.Load())
}
