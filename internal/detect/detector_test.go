package detect

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/vidoc/internal/types"
)

const (
	hashA uint64 = 0
	hashB uint64 = 0x00000000FFFFFFFF
	hashC uint64 = 0xFFFFFFFFFFFFFFFF
)

var pixel = image.NewGray(image.Rect(0, 0, 1, 1))

type step struct {
	hash      uint64
	sharpness float64
	invalid   bool
}

func run(hash uint64, n int) []step {
	out := make([]step, n)
	for i := range out {
		out[i] = step{hash: hash, sharpness: 1}
	}
	return out
}

func concat(runs ...[]step) []step {
	var out []step
	for _, r := range runs {
		out = append(out, r...)
	}
	return out
}

func ts(i int) time.Duration {
	return time.Duration(i) * 100 * time.Millisecond
}

// feed pushes the steps and flushes, returning every closed page.
func feed(t *testing.T, d *Detector, steps []step) []*Page {
	t.Helper()
	var pages []*Page
	for i, s := range steps {
		f := types.Frame{Index: int64(i), Timestamp: ts(i), Image: pixel}
		fp := types.Fingerprint{FrameIndex: int64(i), Hash: s.hash, Sharpness: s.sharpness, Valid: !s.invalid}
		p, err := d.Push(f, fp)
		require.NoError(t, err)
		if p != nil {
			pages = append(pages, p)
		}
	}
	if p := d.Flush(); p != nil {
		pages = append(pages, p)
	}
	return pages
}

func newDetector(t *testing.T, sensitivity float64, window int) *Detector {
	t.Helper()
	d, err := New(Config{Sensitivity: sensitivity, DebounceWindow: window})
	require.NoError(t, err)
	return d
}

func TestCutoff(t *testing.T) {
	tests := []struct {
		sensitivity float64
		want        int
	}{
		{0, 0},
		{0.15, 10},
		{0.5, 32},
		{1, 64},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Cutoff(tt.sensitivity), "sensitivity %v", tt.sensitivity)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{Sensitivity: 0.15, DebounceWindow: 3}, false},
		{"zero sensitivity", Config{Sensitivity: 0, DebounceWindow: 1}, false},
		{"negative sensitivity", Config{Sensitivity: -0.1, DebounceWindow: 3}, true},
		{"sensitivity above one", Config{Sensitivity: 1.5, DebounceWindow: 3}, true},
		{"zero window", Config{Sensitivity: 0.2, DebounceWindow: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestIdenticalFramesYieldOnePage(t *testing.T) {
	d := newDetector(t, 0.15, 3)
	pages := feed(t, d, run(hashA, 120))

	require.Len(t, pages, 1)
	assert.Equal(t, types.TimeRange{Start: 0, End: ts(119)}, pages[0].Range)
	assert.Len(t, pages[0].Members, 120)
	assert.Equal(t, Idle, d.State())
}

func TestTransientOutlierIsAbsorbed(t *testing.T) {
	d := newDetector(t, 0.15, 3)
	pages := feed(t, d, concat(run(hashA, 50), run(hashB, 1), run(hashA, 50)))

	require.Len(t, pages, 1)
	assert.Len(t, pages[0].Members, 101)
	assert.Equal(t, ts(100), pages[0].Range.End)
	assert.Equal(t, 1, d.Stats().Transients)
}

func TestDistinctPagesSplitAfterDebounce(t *testing.T) {
	d := newDetector(t, 0.15, 3)
	pages := feed(t, d, concat(run(hashA, 10), run(hashB, 10), run(hashA, 10)))

	require.Len(t, pages, 3)
	want := []types.TimeRange{
		{Start: ts(0), End: ts(9)},
		{Start: ts(10), End: ts(19)},
		{Start: ts(20), End: ts(29)},
	}
	for i, p := range pages {
		assert.Equal(t, want[i], p.Range, "page %d", i)
		assert.Len(t, p.Members, 10)
	}
	assert.Equal(t, hashB, pages[1].Fingerprint.Hash)
}

func TestWindowOfOneSplitsImmediately(t *testing.T) {
	d := newDetector(t, 0.15, 1)
	pages := feed(t, d, concat(run(hashA, 3), run(hashB, 1), run(hashA, 2)))

	require.Len(t, pages, 3)
	assert.Equal(t, types.TimeRange{Start: ts(3), End: ts(3)}, pages[1].Range)
}

func TestDisagreeingPendingFramesAreAbsorbed(t *testing.T) {
	d := newDetector(t, 0.15, 3)
	pages := feed(t, d, concat(run(hashA, 5), run(hashB, 1), run(hashC, 1), run(hashA, 5)))

	require.Len(t, pages, 1)
	assert.Len(t, pages[0].Members, 12)
	assert.Equal(t, 2, d.Stats().Transients)
	assert.Equal(t, 1, d.Stats().Restarts)
}

func TestShortChangeAtEndIsAbsorbed(t *testing.T) {
	d := newDetector(t, 0.15, 3)
	pages := feed(t, d, concat(run(hashA, 5), run(hashB, 2)))

	require.Len(t, pages, 1)
	assert.Equal(t, ts(6), pages[0].Range.End)
	assert.Equal(t, hashA, pages[0].Fingerprint.Hash)
}

func TestSlowDriftSplitsAgainstRepresentative(t *testing.T) {
	var steps []step
	for k := 0; k <= 30; k++ {
		steps = append(steps, step{hash: (uint64(1) << k) - 1, sharpness: 1})
	}

	d := newDetector(t, 0.15, 3)
	pages := feed(t, d, steps)

	require.Len(t, pages, 3)
	assert.Equal(t, ts(10), pages[0].Range.End)
	assert.Equal(t, ts(11), pages[1].Range.Start)
	assert.Equal(t, ts(21), pages[1].Range.End)
	assert.Equal(t, ts(22), pages[2].Range.Start)
}

func TestRepresentativeSelection(t *testing.T) {
	steps := []step{
		{hash: hashA, sharpness: 5},
		{hash: hashA, sharpness: 9},
		{hash: hashA, sharpness: 9},
		{hash: hashB, sharpness: 100}, // transient, absorbed
		{hash: hashA, sharpness: 2},
	}
	d := newDetector(t, 0.15, 3)
	pages := feed(t, d, steps)

	require.Len(t, pages, 1)
	assert.Equal(t, int64(1), pages[0].Fingerprint.FrameIndex)
	assert.Equal(t, int64(1), pages[0].Frame.Index)
	assert.Equal(t, 9.0, pages[0].Fingerprint.Sharpness)
}

func TestNewPageRepresentativeFromPendingFrames(t *testing.T) {
	steps := concat(run(hashA, 4), []step{
		{hash: hashB, sharpness: 1},
		{hash: hashB, sharpness: 7},
		{hash: hashB, sharpness: 3},
	})
	d := newDetector(t, 0.15, 3)
	pages := feed(t, d, steps)

	require.Len(t, pages, 2)
	assert.Equal(t, int64(5), pages[1].Frame.Index)
	assert.Equal(t, []int64{4, 5, 6}, pages[1].Members)
}

func TestInvalidFingerprintsAreIgnored(t *testing.T) {
	invalid := step{invalid: true}
	steps := concat(
		[]step{invalid, invalid},
		run(hashA, 5),
		run(hashB, 1), []step{invalid}, run(hashB, 2),
	)
	d := newDetector(t, 0.15, 3)
	pages := feed(t, d, steps)

	require.Len(t, pages, 2)
	assert.Equal(t, ts(2), pages[0].Range.Start)
	assert.Equal(t, ts(7), pages[1].Range.Start)
	assert.Equal(t, 3, d.Stats().Ignored)
	assert.Len(t, pages[1].Members, 3)
}

func TestOnlyInvalidFramesYieldNothing(t *testing.T) {
	d := newDetector(t, 0.15, 3)
	pages := feed(t, d, []step{{invalid: true}, {invalid: true}})
	assert.Empty(t, pages)
}

func TestOutOfOrderFramesRejected(t *testing.T) {
	d := newDetector(t, 0.15, 3)
	fp := types.Fingerprint{Valid: true}
	_, err := d.Push(types.Frame{Index: 5, Image: pixel}, fp)
	require.NoError(t, err)
	_, err = d.Push(types.Frame{Index: 5, Image: pixel}, fp)
	assert.Error(t, err)
}

func TestDiscardDropsOpenCandidate(t *testing.T) {
	d := newDetector(t, 0.15, 3)
	for i := 0; i < 4; i++ {
		_, err := d.Push(types.Frame{Index: int64(i), Image: pixel}, types.Fingerprint{Hash: hashA, Valid: true})
		require.NoError(t, err)
	}
	assert.Equal(t, Accumulating, d.State())

	d.Discard()
	assert.Equal(t, Idle, d.State())
	assert.Nil(t, d.Flush())
}

func TestStateTransitions(t *testing.T) {
	d := newDetector(t, 0.15, 3)
	assert.Equal(t, Idle, d.State())

	push := func(i int, h uint64) {
		_, err := d.Push(types.Frame{Index: int64(i), Image: pixel}, types.Fingerprint{Hash: h, Valid: true})
		require.NoError(t, err)
	}
	push(0, hashA)
	assert.Equal(t, Accumulating, d.State())
	push(1, hashB)
	assert.Equal(t, Debouncing, d.State())
	push(2, hashA)
	assert.Equal(t, Accumulating, d.State())
}
