// Package imaging downsizes item photos for the sync payload.
//
// Full-resolution originals stay on the primary. What crosses the link is a
// small JPEG whose longest side is at most the configured dimension.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	// Registered decoders for stored item photos.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxDimension is the longest side of a payload thumbnail in pixels.
	DefaultMaxDimension = 80

	// DefaultQuality is the JPEG quality of a payload thumbnail.
	DefaultQuality = 60
)

// ErrEmpty is returned for an empty input.
var ErrEmpty = errors.New("empty image")

// Options controls thumbnail generation.
type Options struct {
	MaxDimension int
	Quality      int
}

// DefaultOptions returns the payload thumbnail settings.
func DefaultOptions() Options {
	return Options{MaxDimension: DefaultMaxDimension, Quality: DefaultQuality}
}

// Thumbnail decodes data, scales it so neither side exceeds
// opts.MaxDimension (never upscaling) and re-encodes it as JPEG at
// opts.Quality. The output is always re-encoded, even when no scaling is
// needed.
func Thumbnail(data []byte, opts Options) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), opts.MaxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fit returns w×h scaled so the longer side is at most limit, keeping the
// aspect ratio. Sides never drop below one pixel.
func fit(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		return limit, atLeastOne(h * limit / w)
	}
	return atLeastOne(w * limit / h), limit
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
