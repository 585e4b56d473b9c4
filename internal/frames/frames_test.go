package frames

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(id string) Descriptor {
	return Descriptor{
		ID:          id,
		Name:        "Test " + id,
		Asset:       id + ".png",
		Width:       300,
		Height:      700,
		Orientation: Vertical,
		Slots: []Slot{
			{X: 30, Y: 40, Width: 240, Height: 180},
			{X: 30, Y: 250, Width: 240, Height: 180},
			{X: 30, Y: 460, Width: 240, Height: 180},
		},
	}
}

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	assert.Equal(t, 4, c.Len())
	assert.Equal(t, "classic-vertical", c.Default().ID)

	d, ok := c.Lookup("elegant-horizontal")
	require.True(t, ok)
	assert.Equal(t, Horizontal, d.Orientation)
	assert.Equal(t, 2758, d.Width)
	assert.Len(t, d.Slots, SlotCount)

	_, ok = c.Lookup("no-such-frame")
	assert.False(t, ok)
}

func TestCatalogByOrientation(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	var vertical []string
	for _, d := range c.ByOrientation(Vertical) {
		vertical = append(vertical, d.ID)
	}
	assert.Equal(t, []string{"classic-vertical", "bright-bold-vertical"}, vertical)
	assert.Len(t, c.ByOrientation(Horizontal), 2)
	assert.Empty(t, c.ByOrientation(Orientation("diagonal")))
	assert.Len(t, c.All(), 4)
}

func TestNewCatalog_DefaultsToFirst(t *testing.T) {
	c, err := NewCatalog([]Descriptor{testFrame("a"), testFrame("b")})
	require.NoError(t, err)
	assert.Equal(t, "a", c.Default().ID)
}

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Descriptor)
	}{
		{"missing id", func(d *Descriptor) { d.ID = "" }},
		{"missing asset", func(d *Descriptor) { d.Asset = "" }},
		{"zero width", func(d *Descriptor) { d.Width = 0 }},
		{"bad orientation", func(d *Descriptor) { d.Orientation = "square" }},
		{"two slots", func(d *Descriptor) { d.Slots = d.Slots[:2] }},
		{"four slots", func(d *Descriptor) { d.Slots = append(d.Slots, Slot{X: 1, Y: 1, Width: 1, Height: 1}) }},
		{"empty slot", func(d *Descriptor) { d.Slots[1].Height = 0 }},
		{"slot past right edge", func(d *Descriptor) { d.Slots[0].Width = 271 }},
		{"slot past bottom edge", func(d *Descriptor) { d.Slots[2].Y = 600 }},
		{"negative slot origin", func(d *Descriptor) { d.Slots[0].X = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testFrame("f")
			d.Slots = append([]Slot(nil), d.Slots...)
			tt.mutate(&d)
			_, err := NewCatalog([]Descriptor{d})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidFrame)
		})
	}
}

func TestNewCatalog_RejectsDuplicatesAndDoubleDefault(t *testing.T) {
	_, err := NewCatalog([]Descriptor{testFrame("a"), testFrame("a")})
	assert.ErrorIs(t, err, ErrInvalidFrame)

	a, b := testFrame("a"), testFrame("b")
	a.Default, b.Default = true, true
	_, err = NewCatalog([]Descriptor{a, b})
	assert.ErrorIs(t, err, ErrInvalidFrame)

	_, err = NewCatalog(nil)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frames.yaml")
	out, err := MarshalYAML(testFrame("custom"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", c.Default().ID)
	assert.Equal(t, testFrame("custom").Slots, c.Default().Slots)

	require.NoError(t, os.WriteFile(path, []byte("version: 2\nframes: []\n"), 0o644))
	_, err = LoadCatalog(path)
	assert.ErrorContains(t, err, "unsupported frame catalog version")

	_, err = LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestPlaceholderRoundTripsThroughDetectSlots(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	for _, d := range c.All() {
		t.Run(d.ID, func(t *testing.T) {
			img := RenderPlaceholder(d, "", "")
			assert.Equal(t, d.Bounds(), img.Bounds())

			// Border pixels are opaque, slot pixels are transparent.
			assert.Equal(t, uint8(0xff), img.NRGBAAt(0, 0).A)
			s := d.Slots[1]
			assert.Equal(t, uint8(0), img.NRGBAAt(s.X+s.Width/2, s.Y+s.Height/2).A)

			assert.Equal(t, d.Slots, DetectSlots(img, MeasureOptions{}))
		})
	}
}

func TestMeasure(t *testing.T) {
	want := testFrame("measured")
	img := RenderPlaceholder(want, "", "")

	got, err := Measure("measured", "Measured", "measured.png", img, MeasureOptions{})
	require.NoError(t, err)
	assert.Equal(t, Vertical, got.Orientation)
	assert.Equal(t, want.Slots, got.Slots)

	twoSlots := want
	twoSlots.Slots = want.Slots[:2]
	_, err = Measure("x", "X", "x.png", RenderPlaceholder(twoSlots, "", ""), MeasureOptions{})
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDetectSlots_IgnoresEdgeTransparencyAndSpecks(t *testing.T) {
	d := testFrame("specks")
	img := RenderPlaceholder(d, "", "")
	// Punch a transparent notch into the border and a tiny speck inside the card.
	for x := 0; x < 10; x++ {
		img.Pix[img.PixOffset(x, 5)+3] = 0
	}
	img.Pix[img.PixOffset(150, 235)+3] = 0

	assert.Equal(t, d.Slots, DetectSlots(img, MeasureOptions{}))
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("png-bytes"), 0o644))
	src := NewDirSource(dir)
	ctx := context.Background()

	b, err := src.Background(ctx, Descriptor{ID: "a", Asset: "a.png"})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), b)

	_, err = src.Background(ctx, Descriptor{ID: "b", Asset: "b.png"})
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = src.Background(ctx, Descriptor{ID: "c", Asset: "../etc/passwd"})
	assert.ErrorContains(t, err, "invalid asset path")
}

func TestFallbackSource(t *testing.T) {
	d := testFrame("fallback")
	src := FallbackSource{NewDirSource(t.TempDir()), PlaceholderSource{}}

	b, err := src.Background(context.Background(), d)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, d.Bounds(), img.Bounds())

	boom := errors.New("boom")
	_, err = FallbackSource{failingSource{boom}, PlaceholderSource{}}.Background(context.Background(), d)
	assert.ErrorIs(t, err, boom)

	_, err = FallbackSource{}.Background(context.Background(), d)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

type failingSource struct{ err error }

func (f failingSource) Background(context.Context, Descriptor) ([]byte, error) {
	return nil, f.err
}
