package types

import (
	"image"
	"image/draw"
)

// RegionKind is the classification of a page sub-region.
type RegionKind string

const (
	RegionText           RegionKind = "text"
	RegionFigure         RegionKind = "figure"
	RegionTableCandidate RegionKind = "table-candidate"
)

// BoundingBox is an axis-aligned box in representative-frame pixel coordinates.
type BoundingBox struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// BoxFromRect converts an image.Rectangle into a BoundingBox.
func BoxFromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect returns the box as an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Area returns the box area in pixels.
func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// IoU returns the intersection-over-union of two boxes.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	inter := b.Rect().Intersect(o.Rect())
	if inter.Empty() {
		return 0
	}
	ia := inter.Dx() * inter.Dy()
	union := b.Area() + o.Area() - ia
	if union <= 0 {
		return 0
	}
	return float64(ia) / float64(union)
}

// RegionRef points at a region of a previously emitted page.
type RegionRef struct {
	PageID      int `json:"page_id" yaml:"page_id"`
	RegionIndex int `json:"region_index" yaml:"region_index"`
}

// Region is a classified sub-area of a representative frame.
type Region struct {
	Index      int         `json:"index"`
	Box        BoundingBox `json:"box"`
	Kind       RegionKind  `json:"kind"`
	Confidence float64     `json:"confidence"`
	// Downgraded is set when a low-confidence table candidate fell back to figure.
	Downgraded bool `json:"downgraded,omitempty"`
	// DuplicateOf is set when the region repeats a region of an earlier page.
	DuplicateOf *RegionRef `json:"duplicate_of,omitempty"`
}

// IsDuplicate reports whether the region repeats earlier content.
func (r Region) IsDuplicate() bool {
	return r.DuplicateOf != nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the part of img inside b. Standard raster types share pixels
// with img; other implementations are copied.
func Crop(img image.Image, b BoundingBox) image.Image {
	r := b.Rect().Add(img.Bounds().Min).Intersect(img.Bounds())
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
