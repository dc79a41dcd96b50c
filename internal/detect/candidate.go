package detect

import (
	"time"

	"github.com/jackzampolin/vidoc/internal/types"
)

// Candidate accumulates the frames of the page currently being observed.
// Exactly one candidate is open at a time and it is owned by the Detector.
type Candidate struct {
	Start   time.Duration
	End     time.Duration
	Members []int64

	best   types.Frame
	bestFP types.Fingerprint
}

func newCandidate(f types.Frame, fp types.Fingerprint) *Candidate {
	c := &Candidate{Start: f.Timestamp}
	c.add(f, fp, true)
	return c
}

// add records a member. Only eligible members may replace the best frame.
func (c *Candidate) add(f types.Frame, fp types.Fingerprint, eligible bool) {
	c.Members = append(c.Members, f.Index)
	c.End = f.Timestamp
	if eligible && c.offer(f, fp) {
		c.best, c.bestFP = f, fp
	}
}

// offer reports whether f should replace the current best frame: strictly
// sharper wins, so on ties the earliest frame is kept.
func (c *Candidate) offer(f types.Frame, fp types.Fingerprint) bool {
	if c.best.Image == nil {
		return true
	}
	return fp.Sharpness > c.bestFP.Sharpness
}

// Representative returns the fingerprint all new frames are compared against.
func (c *Candidate) Representative() types.Fingerprint {
	return c.bestFP
}

// close finalizes the candidate into a Page and drops the raster reference.
func (c *Candidate) close() *Page {
	p := &Page{
		Range:       types.TimeRange{Start: c.Start, End: c.End},
		Frame:       c.best,
		Fingerprint: c.bestFP,
		Members:     c.Members,
	}
	c.best = types.Frame{}
	c.Members = nil
	return p
}

// Page is a closed candidate: the time range it covered, its member frames and
// the representative frame selected among them.
type Page struct {
	Range       types.TimeRange
	Frame       types.Frame
	Fingerprint types.Fingerprint
	Members     []int64
}

// pending is a frame held back while a tentative page change is debounced.
type pending struct {
	frame types.Frame
	fp    types.Fingerprint
}
