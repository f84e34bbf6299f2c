// Package images - Image decoding, resizing and tensor conversion shared
// by the dataset loader and the inference harness. Both sides must agree
// on this preprocessing exactly, otherwise exported-model accuracy checks
// compare apples to oranges.
package images

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"

	"github.com/docsight-ai/go-idclass/faults"
)

// Format represents supported image formats.
type Format int

const (
	// FormatJPEG is a JPEG image.
	FormatJPEG Format = iota
	// FormatPNG is a PNG image.
	FormatPNG
	// FormatWebP is a WebP image.
	FormatWebP
	// FormatUnknown is an unrecognized format.
	FormatUnknown
)

// DetectFormat maps a file extension to a Format.
//
// Arguments:
//   - path: File path or name; only the extension is inspected.
//
// Returns:
//   - Format: The detected format, FormatUnknown if unsupported.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	case ".webp":
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// Decode decodes raw image bytes in the given format.
//
// Arguments:
//   - data: Encoded image bytes.
//   - format: The format of the encoded bytes.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if decoding fails or the format is unsupported.
func Decode(data []byte, format Format) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	switch format {
	case FormatJPEG:
		return jpeg.Decode(bytes.NewReader(data))
	case FormatPNG:
		return png.Decode(bytes.NewReader(data))
	case FormatWebP:
		return webp.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported image format: %d", format)
	}
}

// Resize scales an image to the given spatial resolution using Lanczos3.
//
// Arguments:
//   - img: The source image.
//   - width: Target width in pixels.
//   - height: Target height in pixels.
//
// Returns:
//   - image.Image: The resized image.
//   - error: An error for non-positive dimensions.
func Resize(img image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}
	return resize.Resize(uint(width), uint(height), img, resize.Lanczos3), nil
}

// ToRGBFloat32 converts an image to an HWC float32 tensor backing with RGB
// channel order and values scaled to [0, 1].
//
// Arguments:
//   - img: The source image.
//
// Returns:
//   - []float32: Pixel data, length height*width*3.
func ToRGBFloat32(img image.Image) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]float32, h*w*3)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out[i] = float32(r>>8) / 255.0
			out[i+1] = float32(g>>8) / 255.0
			out[i+2] = float32(b>>8) / 255.0
			i += 3
		}
	}
	return out
}

// HWCToCHW reorders an HWC pixel buffer into CHW layout, the layout the
// numerical backend expects for convolution inputs.
//
// Arguments:
//   - pixels: HWC float32 buffer of length height*width*3.
//   - height: Spatial height.
//   - width: Spatial width.
//
// Returns:
//   - []float32: CHW float32 buffer of the same length.
func HWCToCHW(pixels []float32, height, width int) []float32 {
	out := make([]float32, len(pixels))
	plane := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			base := (y*width + x) * 3
			idx := y*width + x
			out[idx] = pixels[base]
			out[plane+idx] = pixels[base+1]
			out[2*plane+idx] = pixels[base+2]
		}
	}
	return out
}

// ToUint8 rescales a [0, 1] float32 buffer to raw uint8 pixel values, used
// when a quantized artifact expects integer input.
func ToUint8(pixels []float32) []uint8 {
	out := make([]uint8, len(pixels))
	for i, v := range pixels {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		out[i] = uint8(v*255.0 + 0.5)
	}
	return out
}

// LoadRGB reads an image file, resizes it and converts it to an HWC
// float32 buffer in one step. This is the single entry point used both at
// dataset-load time and at inference time.
//
// Arguments:
//   - path: Image file path.
//   - width: Target width.
//   - height: Target height.
//
// Returns:
//   - []float32: HWC pixel data in [0, 1], length height*width*3.
//   - error: A data fault if the file cannot be read or decoded.
func LoadRGB(path string, width, height int) ([]float32, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, faults.Dataf("unsupported image extension: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Wrap(faults.KindData, err, "reading image")
	}

	img, err := Decode(data, format)
	if err != nil {
		return nil, faults.Wrap(faults.KindData, err, "decoding image")
	}

	resized, err := Resize(img, width, height)
	if err != nil {
		return nil, faults.Wrap(faults.KindData, err, "resizing image")
	}

	return ToRGBFloat32(resized), nil
}
