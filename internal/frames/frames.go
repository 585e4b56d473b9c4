// Package frames describes the decorative photo-strip frames a booth session
// can composite into: their pixel geometry, the three photo slots each one
// exposes, and where the background artwork lives.
//
// Frame descriptors are static configuration. A Catalog is built once at
// startup (from the embedded default catalog or a YAML file), validated, and
// then shared read-only by the session state machine and the compositor.
package frames

import (
	"errors"
	"fmt"
	"image"
)

// SlotCount is the number of photo slots every frame must define.
// A booth session always captures exactly this many photos.
const SlotCount = 3

// ErrInvalidFrame is wrapped by every validation failure.
var ErrInvalidFrame = errors.New("invalid frame")

// Orientation tags a frame as a tall strip or a wide banner.
type Orientation string

const (
	Vertical   Orientation = "vertical"
	Horizontal Orientation = "horizontal"
)

// Valid reports whether o is one of the known orientations.
func (o Orientation) Valid() bool {
	return o == Vertical || o == Horizontal
}

// Slot is a photo placement rectangle in the frame's pixel space.
type Slot struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Rect returns the slot as an image.Rectangle.
func (s Slot) Rect() image.Rectangle {
	return image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
}

// Descriptor is one frame template.
type Descriptor struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Asset       string      `json:"asset" yaml:"asset"`
	Width       int         `json:"width" yaml:"width"`
	Height      int         `json:"height" yaml:"height"`
	Orientation Orientation `json:"orientation" yaml:"orientation"`
	Slots       []Slot      `json:"slots" yaml:"slots"`
	Default     bool        `json:"default,omitempty" yaml:"default,omitempty"`
}

// Bounds returns the frame canvas rectangle.
func (d Descriptor) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.Width, d.Height)
}

// Validate checks the descriptor geometry. Slots must have positive size and
// lie entirely inside the frame; out-of-bounds slots are rejected here rather
// than silently clipped at draw time.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidFrame)
	}
	if d.Asset == "" {
		return fmt.Errorf("%w %q: asset is required", ErrInvalidFrame, d.ID)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w %q: dimensions must be positive, got %dx%d", ErrInvalidFrame, d.ID, d.Width, d.Height)
	}
	if !d.Orientation.Valid() {
		return fmt.Errorf("%w %q: unknown orientation %q", ErrInvalidFrame, d.ID, d.Orientation)
	}
	if len(d.Slots) != SlotCount {
		return fmt.Errorf("%w %q: expected %d slots, got %d", ErrInvalidFrame, d.ID, SlotCount, len(d.Slots))
	}
	bounds := d.Bounds()
	for i, s := range d.Slots {
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("%w %q: slot %d has non-positive size %dx%d", ErrInvalidFrame, d.ID, i+1, s.Width, s.Height)
		}
		if !s.Rect().In(bounds) {
			return fmt.Errorf("%w %q: slot %d %v exceeds frame bounds %v", ErrInvalidFrame, d.ID, i+1, s.Rect(), bounds)
		}
	}
	return nil
}
