// Package assemble runs the frame segmentation and deduplication pipeline and
// exposes the finalized pages as a forward-only, pull-based stream.
//
// Stages, each connected by a bounded channel:
//
//	source -> fingerprint (ordered pool) -> detect -> segment (ordered pool) -> assemble
//
// The detector and the assembler are single goroutines; fingerprinting and
// segmentation fan out over workers and are re-joined in order.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/vidoc/internal/dedup"
	"github.com/jackzampolin/vidoc/internal/detect"
	"github.com/jackzampolin/vidoc/internal/fingerprint"
	"github.com/jackzampolin/vidoc/internal/segment"
	"github.com/jackzampolin/vidoc/internal/types"
	"github.com/jackzampolin/vidoc/internal/workpool"
)

// FrameSource yields decoded frames in order. Next returns io.EOF after the
// last frame. Errors wrapping types.ErrDecodeGap are skipped; any other error
// ends the stream early.
type FrameSource interface {
	Next(ctx context.Context) (types.Frame, error)
}

// Hooks observe pipeline progress. Any of them may be nil. OnFingerprint and
// OnSegment may be called concurrently.
type Hooks struct {
	OnFrame       func(f types.Frame)
	OnFingerprint func(fp types.Fingerprint, took time.Duration)
	OnSegment     func(regions []types.Region, took time.Duration)
	OnPage        func(p *types.PageRecord)
	OnFailure     func(f types.Failure)
}

// Config holds engine settings.
type Config struct {
	Fingerprint fingerprint.Config
	Detector    detect.Config
	Segment     segment.Config
	Dedup       dedup.Config

	// Workers is the size of the fingerprint and segmentation pools
	// (default: runtime.NumCPU()).
	Workers int
	// Buffer is the capacity of each inter-stage channel (default: 2*Workers).
	Buffer int

	Failures *types.FailureLog
	Hooks    Hooks
	Logger   *slog.Logger
}

// Engine is the running pipeline. Next is not safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	src    FrameSource

	extractor *fingerprint.Extractor
	detector  *detect.Detector
	segmenter *segment.Segmenter
	dedup     *dedup.Deduplicator
	failures  *types.FailureLog

	out    chan *types.PageRecord
	cancel context.CancelFunc
	group  *errgroup.Group
	once   sync.Once
	err    error

	mu    sync.Mutex
	stats Stats
}

// New validates the configuration and builds the pipeline components. No
// frames are read until Start.
func New(cfg Config, src FrameSource) (*Engine, error) {
	if src == nil {
		return nil, fmt.Errorf("frame source is required: %w", types.ErrInvalidConfig)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 2 * cfg.Workers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	failures := cfg.Failures
	if failures == nil {
		failures = types.NewFailureLog(0)
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		src:      src,
		failures: failures,
	}

	cfg.Detector.Logger = logger
	cfg.Segment.Logger = logger
	cfg.Dedup.Logger = logger
	onEvict := cfg.Dedup.OnEvict
	cfg.Dedup.OnEvict = func(pageID int) {
		e.fail(types.Failure{
			Kind:    types.FailureResourceExhausted,
			PageID:  pageID,
			Message: fmt.Sprintf("page %d evicted from dedup history", pageID),
		})
		if onEvict != nil {
			onEvict(pageID)
		}
	}

	var err error
	e.extractor = fingerprint.New(cfg.Fingerprint)
	if e.detector, err = detect.New(cfg.Detector); err != nil {
		return nil, err
	}
	if e.segmenter, err = segment.New(cfg.Segment); err != nil {
		return nil, err
	}
	if e.dedup, err = dedup.New(cfg.Dedup, e.extractor); err != nil {
		return nil, err
	}
	if cfg.Dedup.DuplicateTolerance >= e.detector.Cutoff() && e.detector.Cutoff() > 0 {
		return nil, fmt.Errorf("duplicate tolerance %d must be below the split cutoff %d: %w",
			cfg.Dedup.DuplicateTolerance, e.detector.Cutoff(), types.ErrInvalidConfig)
	}
	return e, nil
}

type fpItem struct {
	frame types.Frame
	fp    types.Fingerprint
	err   error
}

type segItem struct {
	page    *detect.Page
	regions []types.Region
	digests []dedup.RegionDigest
	err     error
}

// Start launches the pipeline. Cancelling ctx aborts processing: the open
// candidate is discarded and no partial page is emitted.
func (e *Engine) Start(ctx context.Context) {
	e.once.Do(func() {
		ctx, e.cancel = context.WithCancel(ctx)
		g, ctx := errgroup.WithContext(ctx)
		e.group = g

		frames := make(chan types.Frame, e.cfg.Buffer)
		fps := make(chan fpItem, e.cfg.Buffer)
		pages := make(chan *detect.Page, e.cfg.Buffer)
		segs := make(chan segItem, e.cfg.Buffer)
		e.out = make(chan *types.PageRecord, e.cfg.Buffer)

		fpPool := workpool.New(workpool.Config{Name: "fingerprint", Workers: e.cfg.Workers, Logger: e.logger},
			func(_ context.Context, f types.Frame) fpItem { return e.fingerprint(f) })
		segPool := workpool.New(workpool.Config{Name: "segment", Workers: e.cfg.Workers, Logger: e.logger},
			func(_ context.Context, p *detect.Page) segItem { return e.segment(p) })

		g.Go(func() error { return e.read(ctx, frames) })
		g.Go(func() error { return fpPool.Run(ctx, frames, fps) })
		g.Go(func() error { return e.detect(ctx, fps, pages) })
		g.Go(func() error { return segPool.Run(ctx, pages, segs) })
		g.Go(func() error { return e.assemble(ctx, segs, e.out) })
	})
}

// Next returns the next finalized page, or io.EOF once the stream is
// exhausted. Pages are returned in strictly increasing time order.
func (e *Engine) Next(ctx context.Context) (*types.PageRecord, error) {
	if e.group == nil {
		return nil, errors.New("engine not started")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p, ok := <-e.out:
		if ok {
			return p, nil
		}
	}

	e.finish()
	if e.err != nil {
		return nil, e.err
	}
	return nil, io.EOF
}

// Close stops the pipeline and waits for every stage to exit.
func (e *Engine) Close() error {
	if e.group == nil {
		return nil
	}
	e.cancel()
	for range e.out {
	}
	e.finish()
	if errors.Is(e.err, context.Canceled) {
		return nil
	}
	return e.err
}

func (e *Engine) finish() {
	if e.group == nil {
		return
	}
	err := e.group.Wait()
	if e.err == nil {
		e.err = err
	}
}

// Stats returns a snapshot of the run counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Detector = e.detector.Stats()
	s.HistoryEvictions = e.dedup.History().Evicted()
	return s
}

func (e *Engine) fail(f types.Failure) {
	e.failures.Record(f)
	if e.cfg.Hooks.OnFailure != nil {
		e.cfg.Hooks.OnFailure(f)
	}
}

// read pulls frames from the source until EOF, skipping decode gaps.
func (e *Engine) read(ctx context.Context, out chan<- types.Frame) error {
	defer close(out)
	for {
		f, err := e.src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return e.endOfSource(nil)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, types.ErrDecodeGap):
			e.update(func(s *Stats) { s.DecodeGaps++ })
			e.logger.Debug("decode gap", "frame", f.Index, "error", err)
			e.fail(types.Failure{Kind: types.FailureDecodeGap, FrameIndex: f.Index, Timestamp: f.Timestamp, Message: err.Error()})
			continue
		default:
			return e.endOfSource(err)
		}

		e.update(func(s *Stats) { s.FramesRead++ })
		if e.cfg.Hooks.OnFrame != nil {
			e.cfg.Hooks.OnFrame(f)
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// endOfSource decides whether the source ending is fatal: only a source that
// never produced a frame aborts the run.
func (e *Engine) endOfSource(cause error) error {
	e.mu.Lock()
	read := e.stats.FramesRead
	e.mu.Unlock()

	if read == 0 {
		if cause != nil {
			return fmt.Errorf("%w: %v", types.ErrNoFrames, cause)
		}
		return types.ErrNoFrames
	}
	if cause != nil {
		e.logger.Warn("frame source ended early", "frames", read, "error", cause)
		e.fail(types.Failure{Kind: types.FailureDecodeGap, Message: "source ended early: " + cause.Error()})
	}
	return nil
}

func (e *Engine) fingerprint(f types.Frame) fpItem {
	start := time.Now()
	fp, err := e.extractor.Compute(f)
	if e.cfg.Hooks.OnFingerprint != nil && err == nil {
		e.cfg.Hooks.OnFingerprint(fp, time.Since(start))
	}
	return fpItem{frame: f, fp: fp, err: err}
}

// detect feeds fingerprints to the change detector in frame order.
func (e *Engine) detect(ctx context.Context, in <-chan fpItem, out chan<- *detect.Page) error {
	defer close(out)

	emit := func(p *detect.Page) error {
		select {
		case out <- p:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for item := range in {
		if item.err != nil {
			e.logger.Debug("invalid fingerprint", "frame", item.frame.Index, "error", item.err)
			e.fail(types.Failure{Kind: types.FailureInvalidFingerprint, FrameIndex: item.frame.Index, Timestamp: item.frame.Timestamp, Message: item.err.Error()})
		}

		e.mu.Lock()
		page, err := e.detector.Push(item.frame, item.fp)
		e.mu.Unlock()
		if err != nil {
			return err
		}
		if page != nil {
			if err := emit(page); err != nil {
				return err
			}
		}
	}

	var page *detect.Page
	e.mu.Lock()
	if ctx.Err() != nil {
		e.detector.Discard()
	} else {
		page = e.detector.Flush()
	}
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if page != nil {
		return emit(page)
	}
	return nil
}

func (e *Engine) segment(p *detect.Page) segItem {
	start := time.Now()
	regions, err := e.segmenter.Segment(p.Frame.Image)
	if err != nil {
		return segItem{page: p, err: err}
	}
	if e.cfg.Hooks.OnSegment != nil {
		e.cfg.Hooks.OnSegment(regions, time.Since(start))
	}
	return segItem{page: p, regions: regions, digests: e.dedup.Digest(p.Frame.Image, regions)}
}

// assemble assigns page ids, classifies each page against the history and
// commits it, in page order.
func (e *Engine) assemble(ctx context.Context, in <-chan segItem, out chan<- *types.PageRecord) error {
	defer close(out)
	nextID := 1

	for item := range in {
		if item.err != nil {
			e.logger.Warn("segmentation failed, keeping page without regions", "start", item.page.Range.Start, "error", item.err)
			e.fail(types.Failure{Kind: types.FailureSegmentationAmbiguous, PageID: nextID, FrameIndex: item.page.Frame.Index, Message: item.err.Error()})
		}

		status := e.dedup.Classify(item.page.Fingerprint, item.digests)
		rec := e.record(nextID, item, status)
		e.dedup.Commit(rec.PageID, rec.Fingerprint, item.digests, status)
		nextID++

		e.update(func(s *Stats) { s.count(rec) })
		for _, r := range rec.Regions {
			if r.Downgraded {
				e.fail(types.Failure{
					Kind:        types.FailureSegmentationAmbiguous,
					PageID:      rec.PageID,
					RegionIndex: r.Index,
					Message:     fmt.Sprintf("table candidate confidence %.3f, kept as figure", r.Confidence),
				})
			}
		}

		e.logger.Debug("page emitted",
			"page", rec.PageID,
			"start", rec.Range.Start,
			"end", rec.Range.End,
			"regions", len(rec.Regions),
			"dedup", rec.Dedup.String())
		if e.cfg.Hooks.OnPage != nil {
			e.cfg.Hooks.OnPage(rec)
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (e *Engine) record(id int, item segItem, status types.DedupStatus) *types.PageRecord {
	regions := item.regions
	if status.Kind == types.DedupPartialDuplicate {
		regions = make([]types.Region, len(item.regions))
		copy(regions, item.regions)
		for _, m := range status.Regions {
			ref := m.Ref
			regions[m.RegionIndex].DuplicateOf = &ref
		}
	}

	return &types.PageRecord{
		PageID:         id,
		Range:          item.page.Range,
		FrameIndex:     item.page.Frame.Index,
		FrameCount:     len(item.page.Members),
		Fingerprint:    item.page.Fingerprint,
		Regions:        regions,
		Dedup:          status,
		Representative: item.page.Frame.Image,
	}
}

func (e *Engine) update(fn func(s *Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// Collect starts the engine and drains it into a slice.
func Collect(ctx context.Context, e *Engine) ([]*types.PageRecord, error) {
	e.Start(ctx)
	defer e.Close()

	var pages []*types.PageRecord
	for {
		p, err := e.Next(ctx)
		if errors.Is(err, io.EOF) {
			return pages, nil
		}
		if err != nil {
			return pages, err
		}
		pages = append(pages, p)
	}
}
