// Package compositor renders photo strips: three captured photos center
// cropped into the slots of a frame, over the frame's background artwork,
// encoded as a single JPEG.
package compositor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/fpang/photobooth/internal/frames"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// DefaultJPEGQuality is the strip encoding quality.
const DefaultJPEGQuality = 92

// ErrImageCount is returned when Stitch is not given exactly one photo per slot.
var ErrImageCount = fmt.Errorf("expected %d images", frames.SlotCount)

var canvasFill = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

var bufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Compositor stitches photo strips. It holds no per-call state and is safe
// for concurrent use.
type Compositor struct {
	assets  frames.AssetSource
	quality int
	scaler  draw.Scaler
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithQuality sets the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(c *Compositor) {
		if q >= 1 && q <= 100 {
			c.quality = q
		}
	}
}

// WithScaler replaces the resampling kernel. The default is Catmull-Rom.
func WithScaler(s draw.Scaler) Option {
	return func(c *Compositor) {
		if s != nil {
			c.scaler = s
		}
	}
}

// New returns a compositor that reads frame backgrounds from assets.
func New(assets frames.AssetSource, opts ...Option) *Compositor {
	c := &Compositor{
		assets:  assets,
		quality: DefaultJPEGQuality,
		scaler:  draw.CatmullRom,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stitch composites images into frame and returns the encoded JPEG. Photos
// are matched to slots by position. No partial output is returned on error.
func (c *Compositor) Stitch(ctx context.Context, images [][]byte, frame frames.Descriptor) ([]byte, error) {
	start := time.Now()
	if len(images) != frames.SlotCount {
		return nil, fmt.Errorf("%w, got %d", ErrImageCount, len(images))
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if c.assets == nil {
		return nil, errors.New("no frame asset source configured")
	}

	background, photos, err := c.decodeAll(ctx, images, frame)
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(frame.Bounds())
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(canvasFill), image.Point{}, draw.Src)
	if bb := background.Bounds(); bb.Size() == canvas.Bounds().Size() {
		draw.Draw(canvas, canvas.Bounds(), background, bb.Min, draw.Over)
	} else {
		c.scaler.Scale(canvas, canvas.Bounds(), background, bb, draw.Over, nil)
	}

	for i, slot := range frame.Slots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		photo := photos[i]
		pb := photo.Bounds()
		crop := CalculateCrop(pb.Dx(), pb.Dy(), slot.Width, slot.Height)
		c.scaler.Scale(canvas, slot.Rect(), photo, crop.Rect(pb.Min), draw.Src, nil)
	}

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if err := jpeg.Encode(buf, canvas, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode strip: %w", err)
	}
	if buf.Len() == 0 {
		return nil, errors.New("encode strip: encoder produced no data")
	}
	out := bytes.Clone(buf.Bytes())

	log.Debug().
		Str("frame", frame.ID).
		Int("width", frame.Width).
		Int("height", frame.Height).
		Int("output_size", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("Strip composited")
	return out, nil
}

// decodeAll decodes the background and every photo concurrently and waits
// for all of them.
func (c *Compositor) decodeAll(ctx context.Context, images [][]byte, frame frames.Descriptor) (image.Image, []image.Image, error) {
	g, gctx := errgroup.WithContext(ctx)

	var background image.Image
	g.Go(func() error {
		raw, err := c.assets.Background(gctx, frame)
		if err != nil {
			return fmt.Errorf("load background for frame %q: %w", frame.ID, err)
		}
		img, _, err := Decode(raw)
		if err != nil {
			return fmt.Errorf("background for frame %q: %w", frame.ID, err)
		}
		background = img
		return nil
	})

	photos := make([]image.Image, len(images))
	for i, data := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, _, err := Decode(data)
			if err != nil {
				return fmt.Errorf("photo %d: %w", i+1, err)
			}
			photos[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return background, photos, nil
}
