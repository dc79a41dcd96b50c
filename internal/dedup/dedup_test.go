package dedup

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/vidoc/internal/fingerprint"
	"github.com/jackzampolin/vidoc/internal/testutil"
	"github.com/jackzampolin/vidoc/internal/types"
)

func newDedup(t *testing.T, historySize int, onEvict func(int)) *Deduplicator {
	t.Helper()
	d, err := New(Config{
		DuplicateTolerance: DefaultDuplicateTolerance,
		RegionTolerance:    DefaultRegionTolerance,
		HistorySize:        historySize,
		OnEvict:            onEvict,
	}, fingerprint.New(fingerprint.Config{}))
	require.NoError(t, err)
	return d
}

func fp(hash uint64) types.Fingerprint {
	return types.Fingerprint{Hash: hash, Digest: hash, Valid: true}
}

func TestClassifyWholePage(t *testing.T) {
	tests := []struct {
		name  string
		pages []uint64
		query uint64
		want  types.DedupStatus
	}{
		{"empty history", nil, 0, types.Unique()},
		{"exact repeat", []uint64{0}, 0, types.DuplicateOf(1)},
		{"within tolerance", []uint64{0}, 0b1111, types.DuplicateOf(1)},
		{"outside tolerance", []uint64{0}, 0b11111, types.Unique()},
		{"closest wins", []uint64{0, 0b1}, 0b11, types.DuplicateOf(2)},
		{"tie goes to earliest", []uint64{0b01, 0b10}, 0, types.DuplicateOf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDedup(t, 16, nil)
			for i, h := range tt.pages {
				d.Commit(i+1, fp(h), nil, types.Unique())
			}
			assert.Equal(t, tt.want, d.Classify(fp(tt.query), nil))
		})
	}
}

func TestClassifyRequiresStructuralAgreement(t *testing.T) {
	d := newDedup(t, 16, nil)
	d.Commit(1, types.Fingerprint{Hash: 0, Digest: 0, Valid: true}, nil, types.Unique())

	got := d.Classify(types.Fingerprint{Hash: 0, Digest: 0xFFFF, Valid: true}, nil)
	assert.Equal(t, types.Unique(), got)
}

func TestInvalidFingerprintIsUnique(t *testing.T) {
	d := newDedup(t, 16, nil)
	d.Commit(1, fp(0), nil, types.Unique())
	assert.Equal(t, types.Unique(), d.Classify(types.Fingerprint{}, nil))

	d.Commit(2, types.Fingerprint{}, nil, types.Unique())
	assert.Equal(t, 1, d.History().Len())
}

func TestDuplicatePagesAreNotRecorded(t *testing.T) {
	d := newDedup(t, 16, nil)
	d.Commit(1, fp(0), nil, types.Unique())
	d.Commit(2, fp(0), nil, types.DuplicateOf(1))
	assert.Equal(t, 1, d.History().Len())
}

func TestClassifyDoesNotRefreshHistory(t *testing.T) {
	evicted := []int{}
	d := newDedup(t, 2, func(id int) { evicted = append(evicted, id) })
	d.Commit(1, fp(0), nil, types.Unique())
	d.Commit(2, fp(^uint64(0)), nil, types.Unique())

	assert.Equal(t, types.DuplicateOf(1), d.Classify(fp(0), nil))
	d.Commit(3, fp(0x00000000FFFFFFFF), nil, types.Unique())
	assert.Equal(t, []int{1}, evicted)
	assert.Equal(t, 1, d.History().Evicted())
}

func TestDuplicateCommitRefreshesOriginal(t *testing.T) {
	evicted := []int{}
	d := newDedup(t, 2, func(id int) { evicted = append(evicted, id) })
	d.Commit(1, fp(0), nil, types.Unique())
	d.Commit(2, fp(^uint64(0)), nil, types.Unique())
	d.Commit(3, fp(0), nil, types.DuplicateOf(1))
	d.Commit(4, fp(0x00000000FFFFFFFF), nil, types.Unique())

	assert.Equal(t, []int{2}, evicted)
}

// templatePage draws a shared header above a body that varies with seed.
func templatePage(body int64) (*image.Gray, []types.Region) {
	img := testutil.Blank(400, 400)
	header := image.Rect(40, 20, 360, 100)
	main := image.Rect(40, 160, 360, 360)
	testutil.Texture(img, header, 8, 1)
	testutil.Texture(img, main, 8, body)
	return img, []types.Region{
		{Index: 0, Kind: types.RegionFigure, Box: types.BoxFromRect(header)},
		{Index: 1, Kind: types.RegionFigure, Box: types.BoxFromRect(main)},
	}
}

func pageFingerprint(t *testing.T, img image.Image) types.Fingerprint {
	t.Helper()
	got, err := fingerprint.New(fingerprint.Config{}).Compute(types.Frame{Image: img})
	require.NoError(t, err)
	return got
}

func TestPartialDuplicate(t *testing.T) {
	d := newDedup(t, 16, nil)

	img1, regions1 := templatePage(2)
	fp1 := pageFingerprint(t, img1)
	status1 := d.Classify(fp1, d.Digest(img1, regions1))
	require.Equal(t, types.Unique(), status1)
	d.Commit(1, fp1, d.Digest(img1, regions1), status1)

	img2, regions2 := templatePage(3)
	fp2 := pageFingerprint(t, img2)
	status2 := d.Classify(fp2, d.Digest(img2, regions2))

	want := types.PartialDuplicate([]types.RegionMatch{
		{RegionIndex: 0, Ref: types.RegionRef{PageID: 1, RegionIndex: 0}},
	})
	assert.Equal(t, want, status2)
}

func TestRegionMatchFollowsOrigin(t *testing.T) {
	d := newDedup(t, 1, nil)

	img1, regions1 := templatePage(2)
	fp1 := pageFingerprint(t, img1)
	d.Commit(1, fp1, d.Digest(img1, regions1), types.Unique())

	img2, regions2 := templatePage(3)
	fp2 := pageFingerprint(t, img2)
	digests2 := d.Digest(img2, regions2)
	status2 := d.Classify(fp2, digests2)
	require.Equal(t, types.DedupPartialDuplicate, status2.Kind)
	d.Commit(2, fp2, digests2, status2)
	require.Equal(t, 1, d.History().Evicted())

	img3, regions3 := templatePage(4)
	status3 := d.Classify(pageFingerprint(t, img3), d.Digest(img3, regions3))
	require.Equal(t, types.DedupPartialDuplicate, status3.Kind)
	assert.Equal(t, types.RegionRef{PageID: 1, RegionIndex: 0}, status3.Regions[0].Ref)
}

func TestRegionMatchRequiresKindAndOverlap(t *testing.T) {
	d := newDedup(t, 16, nil)
	box := types.BoundingBox{X: 0, Y: 0, Width: 100, Height: 50}
	prev := []RegionDigest{{Index: 0, Kind: types.RegionText, Box: box, Hash: 42, Valid: true}}
	d.Commit(1, fp(0), prev, types.Unique())

	tests := []struct {
		name   string
		region RegionDigest
		want   types.DedupKind
	}{
		{"same", RegionDigest{Kind: types.RegionText, Box: box, Hash: 42, Valid: true}, types.DedupPartialDuplicate},
		{"other kind", RegionDigest{Kind: types.RegionFigure, Box: box, Hash: 42, Valid: true}, types.DedupUnique},
		{"moved", RegionDigest{Kind: types.RegionText, Box: types.BoundingBox{X: 80, Width: 100, Height: 50}, Hash: 42, Valid: true}, types.DedupUnique},
		{"different content", RegionDigest{Kind: types.RegionText, Box: box, Hash: ^uint64(42), Valid: true}, types.DedupUnique},
		{"invalid digest", RegionDigest{Kind: types.RegionText, Box: box, Hash: 42}, types.DedupUnique},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Classify(fp(^uint64(0)), []RegionDigest{tt.region})
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative tolerance", Config{DuplicateTolerance: -1, HistorySize: 1}},
		{"region tolerance too wide", Config{RegionTolerance: 65, HistorySize: 1}},
		{"zero history", Config{HistorySize: 0}},
		{"iou above one", Config{HistorySize: 1, MinRegionIoU: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			assert.ErrorIs(t, err, types.ErrInvalidConfig)
		})
	}
}
