package compositor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
)

// ErrNotDataURL is returned by DecodeDataURL for input without a data: prefix.
var ErrNotDataURL = errors.New("not a data URL")

// DecodeDataURL unpacks a base64 data URL such as the ones produced by
// canvas.toDataURL. It returns the payload and its declared media type.
func DecodeDataURL(data []byte) ([]byte, string, error) {
	if !bytes.HasPrefix(data, []byte("data:")) {
		return nil, "", ErrNotDataURL
	}
	comma := bytes.IndexByte(data, ',')
	if comma < 0 {
		return nil, "", errors.New("malformed data URL: missing comma")
	}
	meta := string(data[len("data:"):comma])
	mediaType, params, _ := strings.Cut(meta, ";")
	if params != "base64" && !strings.HasSuffix(params, ";base64") {
		return nil, "", fmt.Errorf("data URL for %q is not base64 encoded", mediaType)
	}

	payload := data[comma+1:]
	out := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(out, payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data URL payload: %w", err)
	}
	return out[:n], strings.ToLower(mediaType), nil
}

// unwrap returns raw image bytes, stripping a data URL wrapper if present.
func unwrap(data []byte) ([]byte, error) {
	raw, _, err := DecodeDataURL(data)
	if errors.Is(err, ErrNotDataURL) {
		return data, nil
	}
	return raw, err
}

// Decode decodes a JPEG, PNG or WebP image, raw or wrapped in a data URL.
// JPEGs with an EXIF orientation are returned upright.
func Decode(data []byte) (image.Image, string, error) {
	raw, err := unwrap(data)
	if err != nil {
		return nil, "", err
	}
	if len(raw) == 0 {
		return nil, "", errors.New("empty image data")
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if format == "jpeg" {
		img = orient(img, exifOrientation(raw))
	}
	return img, format, nil
}

// Inspect reports the format and dimensions of an encoded image without
// decoding its pixels.
func Inspect(data []byte) (format string, width, height int, err error) {
	raw, err := unwrap(data)
	if err != nil {
		return "", 0, 0, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "", 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return format, cfg.Width, cfg.Height, nil
}

// exifOrientation returns the EXIF orientation tag, or 1 when the image has
// no usable EXIF block.
func exifOrientation(raw []byte) int {
	exifData, err := imagemeta.Decode(bytes.NewReader(raw))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF orientation, assuming upright")
		return 1
	}
	return int(exifData.Orientation)
}

// orient applies one of the eight EXIF orientation transforms.
func orient(src image.Image, o int) image.Image {
	if o < 2 || o > 8 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if o >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch o {
			case 2: // mirrored
				dx, dy = w-1-x, y
			case 3: // rotated 180
				dx, dy = w-1-x, h-1-y
			case 4: // flipped
				dx, dy = x, h-1-y
			case 5: // transposed
				dx, dy = y, x
			case 6: // rotated 90 clockwise
				dx, dy = h-1-y, x
			case 7: // transverse
				dx, dy = h-1-y, w-1-x
			case 8: // rotated 90 counter-clockwise
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
