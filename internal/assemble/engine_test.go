package assemble

import (
	"context"
	"errors"
	"image"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/vidoc/internal/dedup"
	"github.com/jackzampolin/vidoc/internal/detect"
	"github.com/jackzampolin/vidoc/internal/segment"
	"github.com/jackzampolin/vidoc/internal/testutil"
	"github.com/jackzampolin/vidoc/internal/types"
	"github.com/jackzampolin/vidoc/internal/video"
)

const fps = 10.0

func testConfig(workers int) Config {
	return Config{
		Detector: detect.Config{Sensitivity: 0.15, DebounceWindow: 3},
		Segment: segment.Config{
			TableMinConfidence: segment.DefaultTableMinConfidence,
			FigureMinScore:     segment.DefaultFigureMinScore,
		},
		Dedup: dedup.Config{
			DuplicateTolerance: dedup.DefaultDuplicateTolerance,
			RegionTolerance:    dedup.DefaultRegionTolerance,
			HistorySize:        dedup.DefaultHistorySize,
		},
		Workers: workers,
	}
}

func runFrames(t *testing.T, cfg Config, frames []types.Frame) ([]*types.PageRecord, *Engine) {
	t.Helper()
	e, err := New(cfg, video.NewSliceSource(frames))
	require.NoError(t, err)
	pages, err := Collect(context.Background(), e)
	require.NoError(t, err)
	return pages, e
}

func page(seed int64) image.Image {
	return testutil.TexturePage(160, 120, seed)
}

func TestIdenticalFramesYieldOnePage(t *testing.T) {
	frames := testutil.Sequence(fps, testutil.Repeat(page(1), 120))
	pages, e := runFrames(t, testConfig(4), frames)

	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].PageID)
	assert.Equal(t, types.TimeRange{Start: 0, End: testutil.FrameTime(119, fps)}, pages[0].Range)
	assert.Equal(t, 120, pages[0].FrameCount)
	assert.Equal(t, types.Unique(), pages[0].Dedup)
	assert.Equal(t, 120, e.Stats().FramesRead)
}

func TestOutlierFrameIsAbsorbed(t *testing.T) {
	frames := testutil.Sequence(fps,
		testutil.Repeat(page(1), 50),
		testutil.Repeat(page(2), 1),
		testutil.Repeat(page(1), 50),
	)
	pages, e := runFrames(t, testConfig(4), frames)

	require.Len(t, pages, 1)
	assert.Equal(t, 101, pages[0].FrameCount)
	assert.Equal(t, 1, e.Stats().Detector.Transients)
}

func TestRevisitedPageIsDuplicate(t *testing.T) {
	frames := testutil.Sequence(fps,
		testutil.Repeat(page(1), 10),
		testutil.Repeat(page(2), 10),
		testutil.Repeat(page(1), 10),
	)
	pages, e := runFrames(t, testConfig(4), frames)

	require.Len(t, pages, 3)
	assert.Equal(t, types.Unique(), pages[0].Dedup)
	assert.Equal(t, types.Unique(), pages[1].Dedup)
	assert.Equal(t, types.DuplicateOf(1), pages[2].Dedup)
	assert.Empty(t, pages[2].ExtractableRegions())
	assert.Equal(t, testutil.FrameTime(20, fps), pages[2].Range.Start)

	stats := e.Stats()
	assert.Equal(t, 1, stats.DuplicatePages)
	assert.Equal(t, 2, stats.UniquePages)
}

func TestHistoryEvictionsAreRecorded(t *testing.T) {
	frames := testutil.Sequence(fps,
		testutil.Repeat(page(1), 10),
		testutil.Repeat(page(2), 10),
		testutil.Repeat(page(1), 10),
	)
	cfg := testConfig(2)
	cfg.Dedup.HistorySize = 1
	cfg.Failures = types.NewFailureLog(0)
	pages, _ := runFrames(t, cfg, frames)

	require.Len(t, pages, 3)
	assert.Equal(t, types.Unique(), pages[2].Dedup, "evicted page is no longer matched")
	assert.Equal(t, 2, cfg.Failures.Count(types.FailureResourceExhausted))

	entries, _, _ := cfg.Failures.Snapshot()
	var evicted []int
	for _, f := range entries {
		if f.Kind == types.FailureResourceExhausted {
			evicted = append(evicted, f.PageID)
		}
	}
	assert.Equal(t, []int{1, 2}, evicted)
}

func TestDowngradedTablesAreRecorded(t *testing.T) {
	doc, _ := testutil.DocumentPage([][]int{{0, 2}, {1}, {0}, {2}})
	cfg := testConfig(2)
	cfg.Failures = types.NewFailureLog(0)
	pages, _ := runFrames(t, cfg, testutil.Sequence(fps, testutil.Repeat(doc, 10)))

	require.Len(t, pages, 1)
	require.Len(t, pages[0].Regions, 3)
	require.True(t, pages[0].Regions[2].Downgraded)
	assert.Equal(t, 1, cfg.Failures.Count(types.FailureSegmentationAmbiguous))

	entries, _, _ := cfg.Failures.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].PageID)
	assert.Equal(t, 2, entries[0].RegionIndex)
}

func TestPagesAreOrderedAndDisjoint(t *testing.T) {
	var runs [][]image.Image
	for i := 0; i < 12; i++ {
		runs = append(runs, testutil.Repeat(page(int64(100+i)), 4+i%3))
	}
	frames := testutil.Sequence(fps, runs...)

	for _, workers := range []int{1, 3, 8} {
		pages, _ := runFrames(t, testConfig(workers), frames)
		require.Len(t, pages, 12, "workers=%d", workers)
		for i := 1; i < len(pages); i++ {
			assert.Equal(t, i+1, pages[i].PageID)
			assert.Greater(t, pages[i].Range.Start, pages[i-1].Range.End, "workers=%d page %d", workers, i)
		}
	}
}

func TestPartialDuplicateRegions(t *testing.T) {
	template := func(body int64) image.Image {
		img := testutil.Blank(400, 400)
		testutil.Texture(img, image.Rect(40, 20, 360, 100), 8, 1)
		testutil.Texture(img, image.Rect(40, 160, 360, 360), 8, body)
		return img
	}
	frames := testutil.Sequence(fps,
		testutil.Repeat(template(2), 5),
		testutil.Repeat(template(3), 5),
	)

	cfg := testConfig(2)
	cfg.Detector.Sensitivity = 0.08
	pages, e := runFrames(t, cfg, frames)

	require.Len(t, pages, 2)
	require.Len(t, pages[1].Regions, 2)
	assert.Equal(t, types.DedupPartialDuplicate, pages[1].Dedup.Kind)
	assert.Equal(t, &types.RegionRef{PageID: 1, RegionIndex: 0}, pages[1].Regions[0].DuplicateOf)
	assert.Nil(t, pages[1].Regions[1].DuplicateOf)
	assert.Len(t, pages[1].ExtractableRegions(), 1)
	assert.Equal(t, 1, e.Stats().DuplicateRegions)
}

func TestDecodeGapsAreSkipped(t *testing.T) {
	frames := testutil.Sequence(fps, testutil.Repeat(page(1), 20))
	frames[5].Image = nil
	frames[6].Image = nil

	failures := types.NewFailureLog(10)
	cfg := testConfig(2)
	cfg.Failures = failures
	pages, e := runFrames(t, cfg, frames)

	require.Len(t, pages, 1)
	assert.Equal(t, 18, pages[0].FrameCount)
	assert.Equal(t, 2, e.Stats().DecodeGaps)
	assert.Equal(t, 2, failures.Count(types.FailureDecodeGap))
}

func TestInvalidFramesAreIgnored(t *testing.T) {
	frames := testutil.Sequence(fps, testutil.Repeat(page(1), 10))
	frames[3].Image = image.NewGray(image.Rect(0, 0, 2, 2))

	failures := types.NewFailureLog(10)
	cfg := testConfig(2)
	cfg.Failures = failures
	pages, e := runFrames(t, cfg, frames)

	require.Len(t, pages, 1)
	assert.Equal(t, 9, pages[0].FrameCount)
	assert.Equal(t, 1, e.Stats().Detector.Ignored)
	assert.Equal(t, 1, failures.Count(types.FailureInvalidFingerprint))
}

func TestEmptySourceAborts(t *testing.T) {
	e, err := New(testConfig(1), video.NewSliceSource(nil))
	require.NoError(t, err)
	_, err = Collect(context.Background(), e)
	assert.ErrorIs(t, err, types.ErrNoFrames)
}

func TestInvalidConfigAborts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sensitivity out of range", func(c *Config) { c.Detector.Sensitivity = 2 }},
		{"zero debounce", func(c *Config) { c.Detector.DebounceWindow = 0 }},
		{"zero history", func(c *Config) { c.Dedup.HistorySize = 0 }},
		{"tolerance above cutoff", func(c *Config) { c.Dedup.DuplicateTolerance = 20 }},
		{"table threshold", func(c *Config) { c.Segment.TableMinConfidence = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(1)
			tt.mutate(&cfg)
			_, err := New(cfg, video.NewSliceSource(nil))
			assert.ErrorIs(t, err, types.ErrInvalidConfig)
		})
	}
}

// blockingSource serves frames from a slice, then blocks until cancelled.
type blockingSource struct {
	frames []types.Frame
	pos    int
}

func (s *blockingSource) Next(ctx context.Context) (types.Frame, error) {
	if s.pos < len(s.frames) {
		f := s.frames[s.pos]
		s.pos++
		return f, nil
	}
	<-ctx.Done()
	return types.Frame{}, ctx.Err()
}

func TestCancelDiscardsOpenCandidate(t *testing.T) {
	frames := testutil.Sequence(fps,
		testutil.Repeat(page(1), 10),
		testutil.Repeat(page(2), 10),
	)
	var emitted atomic.Int32
	cfg := testConfig(2)
	cfg.Hooks.OnPage = func(*types.PageRecord) { emitted.Add(1) }

	e, err := New(cfg, &blockingSource{frames: frames})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	first, err := e.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.PageID)

	cancel()
	_, err = e.Next(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, e.Close())
	assert.Equal(t, int32(1), emitted.Load())
}

func TestNextRespectsCallerContext(t *testing.T) {
	e, err := New(testConfig(1), &blockingSource{})
	require.NoError(t, err)
	e.Start(context.Background())
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextAfterEOF(t *testing.T) {
	frames := testutil.Sequence(fps, testutil.Repeat(page(1), 3))
	e, err := New(testConfig(1), video.NewSliceSource(frames))
	require.NoError(t, err)
	e.Start(context.Background())

	_, err = e.Next(context.Background())
	require.NoError(t, err)
	_, err = e.Next(context.Background())
	assert.True(t, errors.Is(err, io.EOF))
	_, err = e.Next(context.Background())
	assert.True(t, errors.Is(err, io.EOF))
	assert.NoError(t, e.Close())
}
