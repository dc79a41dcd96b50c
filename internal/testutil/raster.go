// Package testutil provides deterministic fixtures shared by package tests:
// synthetic page rasters, frame sequences and docker helpers.
package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"time"

	"github.com/jackzampolin/vidoc/internal/types"
)

var (
	white = color.Gray{Y: 255}
	black = color.Gray{Y: 0}
)

// Blank returns a white page of the given size.
func Blank(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: white}, image.Point{}, draw.Src)
	return img
}

// Fill paints r with a solid gray level.
func Fill(img draw.Image, r image.Rectangle, v uint8) {
	draw.Draw(img, r, &image.Uniform{C: color.Gray{Y: v}}, image.Point{}, draw.Src)
}

// TextBlock draws lines of word-like bars starting at (x, y). Words are separated
// by narrow gaps so the block reads as running text, never as columns.
// It returns the bounding rectangle of the drawn block.
func TextBlock(img draw.Image, x, y, width, lines, lineHeight, lineGap int) image.Rectangle {
	rng := rand.New(rand.NewSource(int64(x*7919 + y*104729 + lines)))
	bounds := image.Rectangle{Min: image.Pt(x, y), Max: image.Pt(x, y)}
	for l := 0; l < lines; l++ {
		top := y + l*(lineHeight+lineGap)
		end := x + width
		if l == lines-1 && lines > 1 {
			end = x + width*2/3
		}
		cx := x
		for cx < end {
			ww := 20 + rng.Intn(40)
			if cx+ww > end {
				ww = end - cx
			}
			if ww <= 0 {
				break
			}
			r := image.Rect(cx, top, cx+ww, top+lineHeight)
			Fill(img, r, 0)
			bounds = bounds.Union(r)
			cx += ww + 4 + rng.Intn(3)
		}
	}
	return bounds
}

// Grid draws rows of cells; occupied[row] lists the column indexes that carry
// a cell in that row. Columns start at x + c*(cellWidth+colGap).
func Grid(img draw.Image, x, y, cellWidth, colGap, rowHeight, rowGap int, occupied [][]int) image.Rectangle {
	var bounds image.Rectangle
	for row, cols := range occupied {
		top := y + row*(rowHeight+rowGap)
		for _, c := range cols {
			left := x + c*(cellWidth+colGap)
			r := image.Rect(left, top, left+cellWidth, top+rowHeight)
			Fill(img, r, 0)
			if bounds.Empty() {
				bounds = r
			} else {
				bounds = bounds.Union(r)
			}
		}
	}
	return bounds
}

// FullGrid returns an occupancy table where every row fills every column.
func FullGrid(rows, cols int) [][]int {
	out := make([][]int, rows)
	for r := range out {
		for c := 0; c < cols; c++ {
			out[r] = append(out[r], c)
		}
	}
	return out
}

// Texture fills r with random gray cells of the given size, giving a busy,
// mid-tone area with dense edges.
func Texture(img draw.Image, r image.Rectangle, cell int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for y := r.Min.Y; y < r.Max.Y; y += cell {
		for x := r.Min.X; x < r.Max.X; x += cell {
			c := image.Rect(x, y, x+cell, y+cell).Intersect(r)
			Fill(img, c, uint8(rng.Intn(256)))
		}
	}
}

// TexturePage returns a w x h raster covered by a texture seeded with seed.
// Different seeds give visually unrelated pages.
func TexturePage(w, h int, seed int64) *image.Gray {
	img := Blank(w, h)
	Texture(img, img.Bounds(), 8, seed)
	return img
}

// Noise returns a copy of src with uniform noise of +/-amp added per pixel.
func Noise(src image.Image, amp int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	b := src.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := int(color.GrayModel.Convert(src.At(x, y)).(color.Gray).Y)
			v += rng.Intn(2*amp+1) - amp
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return out
}

// Blur returns a copy of src with a 3x3 box blur applied.
func Blur(src *image.Gray) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum, n := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					p := image.Pt(x+dx, y+dy)
					if !p.In(b) {
						continue
					}
					sum += int(src.GrayAt(p.X, p.Y).Y)
					n++
				}
			}
			out.SetGray(x, y, color.Gray{Y: uint8(sum / n)})
		}
	}
	return out
}

// Frames returns n frames of img starting at index start, spaced at fps.
func Frames(img image.Image, start int64, n int, fps float64) []types.Frame {
	out := make([]types.Frame, n)
	for i := range out {
		idx := start + int64(i)
		out[i] = types.Frame{Index: idx, Timestamp: FrameTime(idx, fps), Image: img}
	}
	return out
}

// Sequence concatenates runs of frames, renumbering indexes and timestamps so
// the result is one contiguous stream.
func Sequence(fps float64, runs ...[]image.Image) []types.Frame {
	var out []types.Frame
	var idx int64
	for _, run := range runs {
		for _, img := range run {
			out = append(out, types.Frame{Index: idx, Timestamp: FrameTime(idx, fps), Image: img})
			idx++
		}
	}
	return out
}

// Repeat returns img n times.
func Repeat(img image.Image, n int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = img
	}
	return out
}

// FrameTime returns the timestamp of frame idx at the given rate.
func FrameTime(idx int64, fps float64) time.Duration {
	return time.Duration(float64(idx) / fps * float64(time.Second))
}

// DocumentPage draws two stacked text blocks over a table-like grid and returns
// the page with the three block rectangles in reading order.
func DocumentPage(occupied [][]int) (*image.Gray, []image.Rectangle) {
	img := Blank(600, 800)
	a := TextBlock(img, 40, 40, 520, 4, 10, 6)
	b := TextBlock(img, 40, 160, 520, 3, 10, 6)
	c := Grid(img, 40, 300, 100, 100, 10, 8, occupied)
	return img, []image.Rectangle{a, b, c}
}
