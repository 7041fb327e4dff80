package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestThumbnailDownscalesLandscape(t *testing.T) {
	out, err := Thumbnail(pngOf(t, 400, 200), DefaultOptions())
	require.NoError(t, err)

	b := decodeJPEG(t, out).Bounds()
	assert.Equal(t, 80, b.Dx())
	assert.Equal(t, 40, b.Dy())
}

func TestThumbnailDownscalesPortrait(t *testing.T) {
	out, err := Thumbnail(pngOf(t, 100, 300), DefaultOptions())
	require.NoError(t, err)

	b := decodeJPEG(t, out).Bounds()
	assert.Equal(t, 26, b.Dx())
	assert.Equal(t, 80, b.Dy())
}

func TestThumbnailNeverUpscales(t *testing.T) {
	out, err := Thumbnail(pngOf(t, 20, 10), DefaultOptions())
	require.NoError(t, err)

	b := decodeJPEG(t, out).Bounds()
	assert.Equal(t, 20, b.Dx())
	assert.Equal(t, 10, b.Dy())
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	_, err := Thumbnail([]byte("not an image"), DefaultOptions())
	assert.Error(t, err)

	_, err = Thumbnail(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestFitKeepsAtLeastOnePixel(t *testing.T) {
	w, h := fit(10000, 1, 80)
	assert.Equal(t, 80, w)
	assert.Equal(t, 1, h)
}
