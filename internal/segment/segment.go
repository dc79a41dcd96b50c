// Package segment partitions a representative page raster into text, figure
// and table-candidate regions using projection profiles of dark-pixel density.
package segment

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"sort"

	"github.com/jackzampolin/vidoc/internal/fingerprint"
	"github.com/jackzampolin/vidoc/internal/types"
)

// Defaults for the tunable thresholds.
const (
	DefaultTableMinConfidence = 0.6
	DefaultFigureMinScore     = 0.3
	DefaultMaxSide            = 1600
	DefaultMinColumnGap       = 16
	DefaultMaxTextLine        = 0.08
	DefaultMinRegionArea      = 0.0005
)

const (
	minContrast   = 32   // minimum gray-level separation between ink and paper
	borderInk     = 0.95 // edge rows/cols denser than this are trimmed as frame borders
	invertAbove   = 0.6  // ink ratio above which the page is treated as light-on-dark
	minLineHeight = 2
	minProseWords = 4
	edgeStep      = 32
)

// Config holds segmenter settings.
type Config struct {
	// TableMinConfidence is the grid-alignment strength required to keep a
	// table candidate. Weaker grids fall back to figure.
	TableMinConfidence float64
	// FigureMinScore is the edge/mid-tone score required to call a block
	// without text-line structure a figure.
	FigureMinScore float64
	// MaxSide bounds the working resolution.
	MaxSide int
	// MinColumnGap is the narrowest vertical whitespace, in working pixels,
	// treated as a column boundary.
	MinColumnGap int
	// MaxTextLine is the tallest text line as a fraction of content height.
	MaxTextLine float64
	// MinRegionArea drops blocks smaller than this fraction of the page.
	MinRegionArea float64
	Logger        *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxSide <= 0 {
		c.MaxSide = DefaultMaxSide
	}
	if c.MinColumnGap <= 0 {
		c.MinColumnGap = DefaultMinColumnGap
	}
	if c.MaxTextLine <= 0 {
		c.MaxTextLine = DefaultMaxTextLine
	}
	if c.MinRegionArea <= 0 {
		c.MinRegionArea = DefaultMinRegionArea
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks threshold ranges.
func (c Config) Validate() error {
	if c.TableMinConfidence < 0 || c.TableMinConfidence > 1 {
		return fmt.Errorf("table min confidence %v outside [0,1]: %w", c.TableMinConfidence, types.ErrInvalidConfig)
	}
	if c.FigureMinScore < 0 || c.FigureMinScore > 1 {
		return fmt.Errorf("figure min score %v outside [0,1]: %w", c.FigureMinScore, types.ErrInvalidConfig)
	}
	return nil
}

// Segmenter classifies page regions. It is stateless and safe for concurrent use.
type Segmenter struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a segmenter.
func New(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Segmenter{cfg: cfg, logger: cfg.Logger.With("component", "segmenter")}, nil
}

// pass carries per-page state through one segmentation.
type pass struct {
	gray       *image.Gray
	ink        *inkMap
	maxLine    int
	minArea    int
	regions    []types.Region
	downgraded int
}

// Segment returns the regions of img in reading order: top to bottom, then
// left to right. Boxes are relative to the image origin. A blank page yields
// no regions.
func (s *Segmenter) Segment(img image.Image) ([]types.Region, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("segment: empty raster")
	}

	gray, scale := fingerprint.Gray(img, s.cfg.MaxSide)
	ink, ok := binarize(gray)
	if !ok {
		return nil, nil
	}

	content := trimBorders(ink)
	if content.Empty() {
		return nil, nil
	}

	p := &pass{
		gray:    gray,
		ink:     ink,
		maxLine: max(12, int(s.cfg.MaxTextLine*float64(content.Dy()))),
		minArea: int(s.cfg.MinRegionArea * float64(ink.w*ink.h)),
	}
	s.analyze(p, content, 0)

	sort.SliceStable(p.regions, func(i, j int) bool {
		a, b := p.regions[i].Box, p.regions[j].Box
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})

	size := image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy())
	for i := range p.regions {
		p.regions[i].Index = i
		p.regions[i].Box = scaleBox(p.regions[i].Box, scale, size)
	}

	if p.downgraded > 0 {
		s.logger.Debug("table candidates downgraded", "count", p.downgraded)
	}
	return p.regions, nil
}

// block is a group of adjacent lines.
type block struct {
	lines []span
	tall  bool // a single band taller than any text line
}

func (s *Segmenter) analyze(p *pass, r image.Rectangle, depth int) {
	rows := p.ink.rowProfile(r)
	minInk := max(1, r.Dx()/400)
	lines := runs(rows, minInk, minLineHeight, r.Min.Y)

	for _, b := range groupLines(lines, p.maxLine) {
		band := image.Rect(r.Min.X, b.lines[0].a, r.Max.X, b.lines[len(b.lines)-1].b)
		colSpans := runs(p.ink.colProfile(band), 1, 1, band.Min.X)
		if len(colSpans) == 0 {
			continue
		}
		band.Min.X, band.Max.X = colSpans[0].a, colSpans[len(colSpans)-1].b
		columns := mergeGaps(colSpans, s.cfg.MinColumnGap)

		switch {
		case b.tall && len(columns) >= 2 && depth == 0:
			for _, c := range columns {
				s.analyze(p, image.Rect(c.a, band.Min.Y, c.b, band.Max.Y), depth+1)
			}
		case !b.tall && len(columns) >= 2 && len(b.lines) >= 2 && !proseColumns(p, b.lines, columns):
			s.emit(p, s.classifyGrid(p, band, b.lines, columns))
		case !b.tall && len(columns) >= 2 && len(b.lines) >= 2 && depth == 0:
			for _, c := range columns {
				s.analyze(p, image.Rect(c.a, band.Min.Y, c.b, band.Max.Y), depth+1)
			}
		default:
			s.emit(p, s.classifyBlock(p, band, b))
		}
	}
}

func (s *Segmenter) emit(p *pass, r types.Region) {
	if r.Box.Width < 3 || r.Box.Height < minLineHeight || r.Box.Area() < p.minArea {
		return
	}
	if r.Downgraded {
		p.downgraded++
	}
	p.regions = append(p.regions, r)
}

// proseColumns reports whether most occupied line/column cells hold running
// text: several word-separated runs rather than the short entries of a table.
func proseColumns(p *pass, lines []span, columns []span) bool {
	cells, wordy := 0, 0
	for _, ln := range lines {
		for _, c := range columns {
			words := runs(p.ink.colProfile(image.Rect(c.a, ln.a, c.b, ln.b)), 1, 1, c.a)
			if len(words) == 0 {
				continue
			}
			cells++
			if len(words) >= minProseWords {
				wordy++
			}
		}
	}
	return cells > 0 && 2*wordy > cells
}

// classifyGrid scores how consistently lines occupy two or more of the
// detected columns. Strong alignment yields a table candidate, anything weaker
// is kept as a figure so it is preserved as an image.
func (s *Segmenter) classifyGrid(p *pass, band image.Rectangle, lines []span, columns []span) types.Region {
	multi, occupied := 0, 0
	for _, ln := range lines {
		n := 0
		for _, c := range columns {
			if p.ink.hasInk(image.Rect(c.a, ln.a, c.b, ln.b)) {
				n++
			}
		}
		occupied += n
		if n >= 2 {
			multi++
		}
	}

	l, c := float64(len(lines)), float64(len(columns))
	conf := (float64(multi) / l) * (float64(occupied) / l / c)
	region := types.Region{Box: types.BoxFromRect(band), Confidence: round3(conf)}
	if multi >= 2 && conf >= s.cfg.TableMinConfidence {
		region.Kind = types.RegionTableCandidate
		return region
	}
	region.Kind = types.RegionFigure
	region.Downgraded = true
	return region
}

// classifyBlock separates running text from figures: a block with text-line
// structure is text, otherwise its edge density and mid-tone coverage decide.
func (s *Segmenter) classifyBlock(p *pass, band image.Rectangle, b block) types.Region {
	region := types.Region{Box: types.BoxFromRect(band)}
	if !b.tall {
		region.Kind = types.RegionText
		region.Confidence = round3(regularity(b.lines))
		return region
	}

	score := figureScore(p.gray, band)
	if score >= s.cfg.FigureMinScore {
		region.Kind = types.RegionFigure
		region.Confidence = round3(score)
		return region
	}
	region.Kind = types.RegionText
	region.Confidence = round3((1 - score) / 2)
	return region
}

// groupLines merges lines separated by small gaps into blocks. Bands taller
// than maxLine always stand alone.
func groupLines(lines []span, maxLine int) []block {
	var heights []int
	for _, ln := range lines {
		if ln.len() <= maxLine {
			heights = append(heights, ln.len())
		}
	}
	gapLimit := 4
	if len(heights) > 0 {
		sort.Ints(heights)
		gapLimit = max(gapLimit, heights[(len(heights)-1)/2]*6/5)
	}

	var out []block
	for _, ln := range lines {
		tall := ln.len() > maxLine
		if n := len(out); n > 0 && !tall && !out[n-1].tall {
			prev := out[n-1].lines[len(out[n-1].lines)-1]
			if ln.a-prev.b <= gapLimit {
				out[n-1].lines = append(out[n-1].lines, ln)
				continue
			}
		}
		out = append(out, block{lines: []span{ln}, tall: tall})
	}
	return out
}

// regularity is 1 minus the coefficient of variation of line heights.
func regularity(lines []span) float64 {
	if len(lines) < 2 {
		return 0.7
	}
	var sum, sumSq float64
	for _, ln := range lines {
		h := float64(ln.len())
		sum += h
		sumSq += h * h
	}
	n := float64(len(lines))
	mean := sum / n
	std := math.Sqrt(math.Max(0, sumSq/n-mean*mean))
	return math.Max(0.1, math.Min(1, 1-std/mean))
}

// figureScore combines edge density and mid-tone coverage over r.
func figureScore(g *image.Gray, r image.Rectangle) float64 {
	var edges, mids, n int
	for y := r.Min.Y; y < r.Max.Y-1; y++ {
		row := g.Pix[y*g.Stride:]
		below := g.Pix[(y+1)*g.Stride:]
		for x := r.Min.X; x < r.Max.X-1; x++ {
			v := int(row[x])
			if v > 48 && v < 208 {
				mids++
			}
			if absInt(v-int(row[x+1])) > edgeStep || absInt(v-int(below[x])) > edgeStep {
				edges++
			}
			n++
		}
	}
	if n == 0 {
		return 0
	}
	edge := float64(edges) / float64(n)
	mid := float64(mids) / float64(n)
	return 0.6*math.Min(1, edge*4) + 0.4*math.Min(1, mid*2)
}

// binarize thresholds g with Otsu's method. Pages whose ink would cover most of
// the area are inverted. It returns false when the page has no contrast.
func binarize(g *image.Gray) (*inkMap, bool) {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	var hist [256]int
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			hist[v]++
		}
	}
	t, lo, hi := otsu(&hist, w*h)
	if hi-lo < minContrast {
		return nil, false
	}

	m := &inkMap{w: w, h: h, ink: make([]bool, w*h)}
	count := 0
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < w; x++ {
			if int(row[x]) <= t {
				m.ink[y*w+x] = true
				count++
			}
		}
	}
	if float64(count)/float64(w*h) > invertAbove {
		for i := range m.ink {
			m.ink[i] = !m.ink[i]
		}
	}
	return m, true
}

// trimBorders shrinks the page past solid edge rows and columns, such as
// letterbox bars or a dark desk around a scanned page.
func trimBorders(m *inkMap) image.Rectangle {
	r := image.Rect(0, 0, m.w, m.h)
	dense := func(n, total int) bool { return total > 0 && float64(n)/float64(total) > borderInk }

	for r.Dy() > 0 && dense(m.rowProfile(image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1))[0], r.Dx()) {
		r.Min.Y++
	}
	for r.Dy() > 0 && dense(m.rowProfile(image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y))[0], r.Dx()) {
		r.Max.Y--
	}
	for r.Dx() > 0 && r.Dy() > 0 && dense(m.colProfile(image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y))[0], r.Dy()) {
		r.Min.X++
	}
	for r.Dx() > 0 && r.Dy() > 0 && dense(m.colProfile(image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y))[0], r.Dy()) {
		r.Max.X--
	}
	return r
}

// scaleBox maps a working-resolution box back to source pixels.
func scaleBox(b types.BoundingBox, scale float64, bounds image.Rectangle) types.BoundingBox {
	r := image.Rect(
		int(math.Floor(float64(b.X)*scale)),
		int(math.Floor(float64(b.Y)*scale)),
		int(math.Ceil(float64(b.X+b.Width)*scale)),
		int(math.Ceil(float64(b.Y+b.Height)*scale)),
	).Intersect(bounds)
	return types.BoxFromRect(r)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
