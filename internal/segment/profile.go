package segment

import "image"

// span is a half-open interval [a, b) along one axis.
type span struct {
	a, b int
}

func (s span) len() int { return s.b - s.a }

// inkMap is a binarized working raster: true marks foreground (ink).
type inkMap struct {
	w, h int
	ink  []bool
}

func (m *inkMap) at(x, y int) bool {
	return m.ink[y*m.w+x]
}

// rowProfile counts ink per row of r.
func (m *inkMap) rowProfile(r image.Rectangle) []int {
	out := make([]int, r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.ink[y*m.w:]
		n := 0
		for x := r.Min.X; x < r.Max.X; x++ {
			if row[x] {
				n++
			}
		}
		out[y-r.Min.Y] = n
	}
	return out
}

// colProfile counts ink per column of r.
func (m *inkMap) colProfile(r image.Rectangle) []int {
	out := make([]int, r.Dx())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.ink[y*m.w:]
		for x := r.Min.X; x < r.Max.X; x++ {
			if row[x] {
				out[x-r.Min.X]++
			}
		}
	}
	return out
}

// hasInk reports whether any pixel of r is foreground.
func (m *inkMap) hasInk(r image.Rectangle) bool {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.ink[y*m.w:]
		for x := r.Min.X; x < r.Max.X; x++ {
			if row[x] {
				return true
			}
		}
	}
	return false
}

// runs returns maximal runs where profile >= minValue, dropping runs shorter
// than minLen. Offsets are added to the returned spans.
func runs(profile []int, minValue, minLen, offset int) []span {
	var out []span
	start := -1
	for i := 0; i <= len(profile); i++ {
		on := i < len(profile) && profile[i] >= minValue
		switch {
		case on && start < 0:
			start = i
		case !on && start >= 0:
			if i-start >= minLen {
				out = append(out, span{a: start + offset, b: i + offset})
			}
			start = -1
		}
	}
	return out
}

// mergeGaps joins spans separated by less than minGap.
func mergeGaps(spans []span, minGap int) []span {
	if len(spans) == 0 {
		return nil
	}
	out := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.a-last.b < minGap {
			last.b = s.b
			continue
		}
		out = append(out, s)
	}
	return out
}

// otsu returns the threshold maximizing between-class variance of hist, and
// the mean gray levels of the two classes it separates.
func otsu(hist *[256]int, total int) (t int, lo, hi float64) {
	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}

	var sumB, wB, best float64
	for i := 0; i < 256; i++ {
		wB += float64(hist[i])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * hist[i])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best, t, lo, hi = between, i, mB, mF
		}
	}
	return t, lo, hi
}
