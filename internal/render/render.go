// Package render produces share and thumbnail JPEG derivatives from a
// source photo: oriented upright per EXIF, downscaled to a maximum
// long edge, and re-encoded with all embedded metadata dropped.
package render

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	ximage "golang.org/x/image/draw"

	"github.com/samjhill/ghostroll/pkg/ghosterr"
)

// shareLongEdgeThreshold is the boundary above which the higher-quality
// (and more expensive) CatmullRom resampler is used instead of bilinear.
const shareLongEdgeThreshold = 512

// Options controls one derivative render.
type Options struct {
	MaxLongEdge int
	Quality     int
}

// RenderDerivative reads the JPEG at srcPath, orients it upright per
// its EXIF orientation tag, downscales it proportionally so neither
// dimension exceeds opts.MaxLongEdge (never upscaling), and writes a
// metadata-free JPEG to dstPath at opts.Quality.
//
// Progressive encoding is not performed: the standard library's
// image/jpeg encoder only supports baseline JPEG, and no library in
// reach offers a progressive encoder (see the render entry in
// DESIGN.md).
func RenderDerivative(srcPath, dstPath string, opts Options) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return ghosterr.Wrap(ghosterr.CodeRenderFailed, err, "opening source image").WithComponent("render")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return ghosterr.Wrap(ghosterr.CodeRenderFailed, err, "reading source image").WithComponent("render")
	}

	orientation := readOrientation(data)

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return ghosterr.Wrap(ghosterr.CodeUnsupportedImage, err, "decoding source image").WithComponent("render")
	}

	img = applyOrientation(img, orientation)
	img = downscale(img, opts.MaxLongEdge)

	out, err := os.Create(dstPath)
	if err != nil {
		return ghosterr.Wrap(ghosterr.CodeRenderFailed, err, "creating derivative output").WithComponent("render")
	}
	defer out.Close()

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: quality}); err != nil {
		return ghosterr.Wrap(ghosterr.CodeRenderFailed, err, "encoding derivative").WithComponent("render")
	}
	return nil
}

// downscale returns img scaled so neither dimension exceeds
// maxLongEdge, preserving aspect ratio. Images already within bounds
// are returned unchanged — derivatives are never upscaled. The
// resampler is chosen by target size: CatmullRom above the share
// threshold, bilinear (cheaper) at or below it.
func downscale(img image.Image, maxLongEdge int) image.Image {
	if maxLongEdge <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longEdge := w
	if h > longEdge {
		longEdge = h
	}
	if longEdge <= maxLongEdge {
		return img
	}

	scale := float64(maxLongEdge) / float64(longEdge)
	newW := int(float64(w)*scale + 0.5)
	newH := int(float64(h)*scale + 0.5)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	scaler := ximage.BiLinear
	if maxLongEdge > shareLongEdgeThreshold {
		scaler = ximage.CatmullRom
	}
	scaler.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// readOrientation extracts the EXIF orientation tag from raw JPEG
// bytes, defaulting to 1 (no transform needed) when EXIF is absent or
// malformed — missing EXIF is not a render failure.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// applyOrientation rotates/flips img so its visible top matches the
// raster top, per the EXIF orientation values 1-8.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return flipHorizontal(img)
	case 3:
		return rotate180(img)
	case 4:
		return flipVertical(img)
	case 5:
		return flipHorizontal(rotate90CW(img))
	case 6:
		return rotate90CW(img)
	case 7:
		return flipHorizontal(rotate90CCW(img))
	case 8:
		return rotate90CCW(img)
	default:
		return img
	}
}

func rotate90CW(im image.Image) image.Image {
	b := im.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, im.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate90CCW(im image.Image) image.Image {
	b := im.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(y, w-1-x, im.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate180(im image.Image) image.Image {
	b := im.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, h-1-y, im.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func flipHorizontal(im image.Image) image.Image {
	b := im.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, y, im.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func flipVertical(im image.Image) image.Image {
	b := im.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(x, h-1-y, im.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// Caption is the gallery-ordering metadata pulled from a source
// image's EXIF, when present.
type Caption struct {
	CapturedAt    time.Time
	HasCapturedAt bool
	Camera        string
}

// ExtractCaption reads captured-at and camera-model EXIF tags from
// srcPath. Missing or malformed EXIF is not an error: the returned
// Caption simply has HasCapturedAt false and an empty Camera.
func ExtractCaption(srcPath string) (Caption, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return Caption{}, ghosterr.Wrap(ghosterr.CodeRenderFailed, err, "opening source image for EXIF").WithComponent("render")
	}
	defer f.Close()

	var c Caption
	x, err := exif.Decode(f)
	if err != nil {
		return c, nil
	}

	if t, err := x.DateTime(); err == nil {
		c.CapturedAt = t
		c.HasCapturedAt = true
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			c.Camera = s
		}
	}
	return c, nil
}
