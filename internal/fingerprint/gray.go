package fingerprint

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// Gray converts img to an 8-bit grayscale raster whose longest side is at most
// maxSide (0 keeps the original size). It also returns the scale factor from
// the returned raster back to img coordinates.
func Gray(img image.Image, maxSide int) (*image.Gray, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := 1.0
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		if w >= h {
			scale = float64(w) / float64(maxSide)
		} else {
			scale = float64(h) / float64(maxSide)
		}
	}

	dw := max(1, int(float64(w)/scale+0.5))
	dh := max(1, int(float64(h)/scale+0.5))
	dst := image.NewGray(image.Rect(0, 0, dw, dh))

	if scale == 1.0 {
		if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) && g.Stride == w {
			copy(dst.Pix, g.Pix)
			return dst, scale
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
			}
		}
		return dst, scale
	}

	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst, scale
}
