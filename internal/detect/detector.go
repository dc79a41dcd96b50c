// Package detect implements the debounced page change detector and the
// representative frame selection performed when a page closes.
package detect

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/jackzampolin/vidoc/internal/types"
)

// State is the detector's coarse state.
type State int

const (
	// Idle means no candidate is open.
	Idle State = iota
	// Accumulating means a candidate is open and no change is pending.
	Accumulating
	// Debouncing means a change was observed and is awaiting confirmation.
	Debouncing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Debouncing:
		return "debouncing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds detector settings.
type Config struct {
	// Sensitivity in [0,1] maps to a hash-distance cutoff of round(s*64) bits.
	// Smaller values split more pages.
	Sensitivity float64
	// DebounceWindow is the number of consecutive self-consistent changed
	// frames required to confirm a new page. 1 splits immediately.
	DebounceWindow int
	Logger         *slog.Logger
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if math.IsNaN(c.Sensitivity) || c.Sensitivity < 0 || c.Sensitivity > 1 {
		return fmt.Errorf("sensitivity %v outside [0,1]: %w", c.Sensitivity, types.ErrInvalidConfig)
	}
	if c.DebounceWindow < 1 {
		return fmt.Errorf("debounce window %d must be >= 1: %w", c.DebounceWindow, types.ErrInvalidConfig)
	}
	return nil
}

// Cutoff maps a sensitivity to the maximum hash distance still considered the
// same page.
func Cutoff(sensitivity float64) int {
	return int(math.Round(sensitivity * types.HashBits))
}

// Stats counts what the detector has seen.
type Stats struct {
	Frames      int // valid frames pushed
	Ignored     int // invalid fingerprints skipped
	Transients  int // changed frames absorbed back into their page
	Restarts    int // debounces restarted because pending frames disagreed
	PagesClosed int
	// Distances is a histogram of hash distances to the open candidate's
	// representative, indexed by bit count.
	Distances [types.HashBits + 1]int
}

// Detector is the change detection state machine. It is not safe for
// concurrent use; a single pipeline step owns it.
type Detector struct {
	cutoff int
	window int
	logger *slog.Logger

	current *Candidate
	pending []pending
	lastIdx int64
	stats   Stats
}

// New creates a detector.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cutoff:  Cutoff(cfg.Sensitivity),
		window:  cfg.DebounceWindow,
		logger:  logger.With("component", "detector"),
		lastIdx: -1,
	}, nil
}

// State returns the current state.
func (d *Detector) State() State {
	switch {
	case d.current == nil:
		return Idle
	case len(d.pending) > 0:
		return Debouncing
	default:
		return Accumulating
	}
}

// Stats returns counters accumulated so far.
func (d *Detector) Stats() Stats {
	return d.stats
}

// Cutoff returns the distance cutoff in bits.
func (d *Detector) Cutoff() int {
	return d.cutoff
}

// Push feeds the next frame and its fingerprint. Frames must arrive in
// increasing index order. It returns the page closed by this frame, if any.
func (d *Detector) Push(f types.Frame, fp types.Fingerprint) (*Page, error) {
	if f.Index <= d.lastIdx {
		return nil, fmt.Errorf("frame %d pushed after frame %d: out of order", f.Index, d.lastIdx)
	}
	d.lastIdx = f.Index

	if !fp.Valid {
		d.stats.Ignored++
		d.logger.Debug("ignoring invalid fingerprint", "frame", f.Index)
		return nil, nil
	}
	d.stats.Frames++

	if d.current == nil {
		d.current = newCandidate(f, fp)
		return nil, nil
	}

	dist := fp.Distance(d.current.Representative())
	d.stats.Distances[dist]++
	if dist <= d.cutoff {
		if len(d.pending) > 0 {
			d.logger.Debug("transient absorbed", "frames", len(d.pending), "resumed_at", f.Index)
			d.absorbPending()
		}
		d.current.add(f, fp, true)
		return nil, nil
	}

	if len(d.pending) > 0 && fp.Distance(d.pending[0].fp) > d.cutoff {
		d.logger.Debug("pending change disagrees, restarting debounce", "frame", f.Index)
		d.stats.Restarts++
		d.absorbPending()
	}
	d.pending = append(d.pending, pending{frame: f, fp: fp})

	if len(d.pending) < d.window {
		return nil, nil
	}
	return d.confirm(), nil
}

// Flush ends the stream: unconfirmed pending frames are absorbed and the open
// candidate is force-closed. It returns nil when nothing is open.
func (d *Detector) Flush() *Page {
	if d.current == nil {
		return nil
	}
	d.absorbPending()
	p := d.current.close()
	d.current = nil
	d.stats.PagesClosed++
	return p
}

// Discard drops the open candidate and any pending frames without emitting
// them. Used on cancellation.
func (d *Detector) Discard() {
	d.current = nil
	d.pending = nil
}

// absorbPending folds pending frames back into the open candidate. They count
// as members but never become the representative.
func (d *Detector) absorbPending() {
	for _, p := range d.pending {
		d.current.add(p.frame, p.fp, false)
		d.stats.Transients++
	}
	d.pending = d.pending[:0]
}

// confirm closes the current candidate and opens a new one from the pending frames.
func (d *Detector) confirm() *Page {
	closed := d.current.close()
	d.stats.PagesClosed++

	next := newCandidate(d.pending[0].frame, d.pending[0].fp)
	for _, p := range d.pending[1:] {
		next.add(p.frame, p.fp, true)
	}
	d.current = next
	d.pending = d.pending[:0]

	d.logger.Debug("page closed",
		"start", closed.Range.Start,
		"end", closed.Range.End,
		"members", len(closed.Members),
		"next_start", next.Start)
	return closed
}
