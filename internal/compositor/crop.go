package compositor

import (
	"image"
	"math"
)

// Crop is a source rectangle in floating-point pixel coordinates.
type Crop struct {
	X, Y          float64
	Width, Height float64
}

// Aspect returns width divided by height.
func (c Crop) Aspect() float64 {
	return c.Width / c.Height
}

// Rect rounds the crop to whole pixels, offset by origin.
func (c Crop) Rect(origin image.Point) image.Rectangle {
	x0 := int(math.Round(c.X))
	y0 := int(math.Round(c.Y))
	x1 := int(math.Round(c.X + c.Width))
	y1 := int(math.Round(c.Y + c.Height))
	return image.Rect(x0, y0, x1, y1).Add(origin)
}

// CalculateCrop returns the largest centered region of a sw x sh source that
// has the aspect ratio of a tw x th target. Wider sources lose equal margins
// left and right; taller sources lose equal margins top and bottom.
func CalculateCrop(sw, sh, tw, th int) Crop {
	targetAspect := float64(tw) / float64(th)
	sourceAspect := float64(sw) / float64(sh)

	if sourceAspect > targetAspect {
		width := float64(sh) * targetAspect
		return Crop{
			X:      (float64(sw) - width) / 2,
			Y:      0,
			Width:  width,
			Height: float64(sh),
		}
	}
	height := float64(sw) / targetAspect
	return Crop{
		X:      0,
		Y:      (float64(sh) - height) / 2,
		Width:  float64(sw),
		Height: height,
	}
}
