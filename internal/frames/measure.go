package frames

import (
	"fmt"
	"image"
	"sort"
)

// MeasureOptions tunes DetectSlots.
type MeasureOptions struct {
	// AlphaThreshold is the 8-bit alpha below which a pixel counts as part
	// of a photo window. Zero means 128.
	AlphaThreshold uint8
	// MinArea drops transparent regions smaller than this many pixels.
	// Zero means 1% of the image area.
	MinArea int
}

// DetectSlots finds the transparent photo windows in frame artwork. A window
// is a 4-connected region of transparent pixels that does not touch the image
// edge; transparency connected to the edge is treated as the outside of the
// frame. Windows are returned as bounding rectangles, ordered top to bottom
// for tall artwork and left to right for wide artwork.
func DetectSlots(img image.Image, opts MeasureOptions) []Slot {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	threshold := opts.AlphaThreshold
	if threshold == 0 {
		threshold = 128
	}
	minArea := opts.MinArea
	if minArea == 0 {
		minArea = w * h / 100
	}

	hole := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			_, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			hole[y*w+x] = uint8(a>>8) < threshold
		}
	}

	seen := make([]bool, w*h)
	var slots []Slot
	queue := make([]int, 0, 1024)
	for start := range hole {
		if !hole[start] || seen[start] {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		minX, minY, maxX, maxY := w, h, -1, -1
		area := 0
		edge := false
		for len(queue) > 0 {
			p := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := p%w, p/w
			area++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				edge = true
			}
			for _, n := range [4]int{p - 1, p + 1, p - w, p + w} {
				if n < 0 || n >= len(hole) || seen[n] || !hole[n] {
					continue
				}
				// Horizontal neighbours must stay on the same row.
				if (n == p-1 || n == p+1) && n/w != y {
					continue
				}
				seen[n] = true
				queue = append(queue, n)
			}
		}
		if edge || area < minArea {
			continue
		}
		slots = append(slots, Slot{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1})
	}

	wide := w > h
	sort.Slice(slots, func(i, j int) bool {
		if wide {
			return slots[i].X < slots[j].X
		}
		return slots[i].Y < slots[j].Y
	})
	return slots
}

// Measure builds a descriptor for artwork by detecting its slots. The
// orientation follows the artwork's aspect. The result is validated, so an
// artwork with the wrong number of windows is reported as an error.
func Measure(id, name, asset string, img image.Image, opts MeasureOptions) (Descriptor, error) {
	b := img.Bounds()
	d := Descriptor{
		ID:          id,
		Name:        name,
		Asset:       asset,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Orientation: Vertical,
		Slots:       DetectSlots(img, opts),
	}
	if d.Width > d.Height {
		d.Orientation = Horizontal
	}
	if err := d.Validate(); err != nil {
		return d, fmt.Errorf("measure %s: %w", asset, err)
	}
	return d, nil
}
