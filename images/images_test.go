package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight-ai/go-idclass/faults"
)

func getTestImage() image.Image {
	// A 100x100 image with a solid red fill.
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}
	return img
}

func getJPEGBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, getTestImage(), nil))
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatJPEG, DetectFormat("a.jpg"))
	assert.Equal(t, FormatJPEG, DetectFormat("a.JPEG"))
	assert.Equal(t, FormatPNG, DetectFormat("dir/a.png"))
	assert.Equal(t, FormatWebP, DetectFormat("a.webp"))
	assert.Equal(t, FormatUnknown, DetectFormat("a.txt"))
}

func TestDecodeFormats(t *testing.T) {
	var pngBuf, webpBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, getTestImage()))
	require.NoError(t, webp.Encode(&webpBuf, getTestImage(), &webp.Options{Quality: 80}))

	tests := []struct {
		name   string
		data   []byte
		format Format
		ok     bool
	}{
		{"jpeg", getJPEGBytes(t), FormatJPEG, true},
		{"png", pngBuf.Bytes(), FormatPNG, true},
		{"webp", webpBuf.Bytes(), FormatWebP, true},
		{"garbage", []byte("not an image"), FormatJPEG, false},
		{"empty", nil, FormatPNG, false},
		{"unknown format", getJPEGBytes(t), FormatUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.data, tt.format)
			if tt.ok {
				assert.NoError(t, err)
				assert.NotNil(t, img)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestResize(t *testing.T) {
	img, err := Resize(getTestImage(), 50, 40)
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())

	_, err = Resize(getTestImage(), 0, 40)
	assert.Error(t, err)
}

func TestToRGBFloat32(t *testing.T) {
	pixels := ToRGBFloat32(getTestImage())
	require.Len(t, pixels, 100*100*3)

	// Solid red: R channel 1.0, G and B 0.0, everywhere.
	assert.InDelta(t, 1.0, pixels[0], 1e-6)
	assert.InDelta(t, 0.0, pixels[1], 1e-6)
	assert.InDelta(t, 0.0, pixels[2], 1e-6)

	for _, v := range pixels {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestHWCToCHW(t *testing.T) {
	// 1x2 image: pixel0 = (1,2,3), pixel1 = (4,5,6).
	hwc := []float32{1, 2, 3, 4, 5, 6}
	chw := HWCToCHW(hwc, 1, 2)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, chw)
}

func TestToUint8(t *testing.T) {
	out := ToUint8([]float32{0, 0.5, 1, -0.2, 1.7})
	assert.Equal(t, []uint8{0, 128, 255, 0, 255}, out)
}

func TestLoadRGB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.jpg")
	require.NoError(t, os.WriteFile(path, getJPEGBytes(t), 0o644))

	pixels, err := LoadRGB(path, 32, 32)
	require.NoError(t, err)
	assert.Len(t, pixels, 32*32*3)
}

func TestLoadRGBFailures(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRGB(filepath.Join(dir, "missing.jpg"), 32, 32)
	require.Error(t, err)
	assert.Equal(t, faults.KindData, faults.KindOf(err))

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
	_, err = LoadRGB(bad, 32, 32)
	require.Error(t, err)
	assert.Equal(t, faults.KindData, faults.KindOf(err))

	_, err = LoadRGB(filepath.Join(dir, "doc.txt"), 32, 32)
	require.Error(t, err)
	assert.Equal(t, faults.KindData, faults.KindOf(err))
}
