package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
)

// AssetSource resolves a frame's background artwork to encoded image bytes.
// Implementations must return an error wrapping fs.ErrNotExist when the
// asset is missing so callers can fall back to another source.
type AssetSource interface {
	Background(ctx context.Context, frame Descriptor) ([]byte, error)
}

// DirSource serves assets from a local directory. Asset references are
// resolved relative to the directory and may not escape it.
type DirSource struct {
	fsys fs.FS
	root string
}

// NewDirSource returns a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{fsys: os.DirFS(dir), root: dir}
}

// Background reads frame.Asset from the directory.
func (s *DirSource) Background(ctx context.Context, frame Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !fs.ValidPath(frame.Asset) {
		return nil, fmt.Errorf("frame %q: invalid asset path %q", frame.ID, frame.Asset)
	}
	b, err := fs.ReadFile(s.fsys, frame.Asset)
	if err != nil {
		return nil, fmt.Errorf("frame %q: read asset %s from %s: %w", frame.ID, frame.Asset, s.root, err)
	}
	return b, nil
}

// PlaceholderSource renders placeholder artwork (see RenderPlaceholder) for
// any frame. It never returns fs.ErrNotExist.
type PlaceholderSource struct {
	Title  string
	Footer string
}

// Background renders and PNG-encodes a placeholder for frame.
func (s PlaceholderSource) Background(ctx context.Context, frame Descriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := RenderPlaceholder(frame, s.Title, s.Footer)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("frame %q: encode placeholder: %w", frame.ID, err)
	}
	return buf.Bytes(), nil
}

// FallbackSource tries each source in order, moving on only when a source
// reports the asset as missing.
type FallbackSource []AssetSource

// Background returns the first asset found.
func (s FallbackSource) Background(ctx context.Context, frame Descriptor) ([]byte, error) {
	var lastErr error
	for _, src := range s {
		b, err := src.Background(ctx, frame)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Debug().Err(err).Str("frame", frame.ID).Msg("Frame asset not found, trying next source")
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("frame %q: no asset sources configured: %w", frame.ID, fs.ErrNotExist)
	}
	return nil, lastErr
}
