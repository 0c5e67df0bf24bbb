// Package vision holds the pixel operations behind the depth, segmentation
// and normal-map pipelines, plus the in-process depth and segmentation
// runtimes built on them.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// Image preprocessing errors
var (
	ErrInvalidImage      = errors.New("vision: invalid image data")
	ErrInvalidDimensions = errors.New("vision: invalid dimensions")
	ErrEmptyImage        = errors.New("vision: empty image data")
)

// DecodeImage decodes image data from common formats (PNG, JPEG, GIF).
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if img.Bounds().Empty() {
		return nil, ErrInvalidDimensions
	}
	return img, nil
}

// Resize scales img to exactly width x height with CatmullRom filtering.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// FitWithin scales img so its longer side is at most maxSide, keeping the
// aspect ratio. Smaller images are returned unchanged.
func FitWithin(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if maxSide <= 0 || longest <= maxSide {
		return img
	}
	scale := float64(maxSide) / float64(longest)
	w := max(int(float64(b.Dx())*scale), 1)
	h := max(int(float64(b.Dy())*scale), 1)
	return Resize(img, w, h)
}

// ConvertToRGB converts any image to RGBA with origin (0,0).
func ConvertToRGB(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Luminance returns the Rec. 601 luma of img in [0,1].
func Luminance(img image.Image) *FloatMap {
	b := img.Bounds()
	m := NewFloatMap(b.Dx(), b.Dy())
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			m.Set(x, y, float32(0.299*float64(r)+0.587*float64(g)+0.114*float64(bl))/65535)
		}
	}
	return m
}

// GrayToFloat converts an 8-bit grayscale image to a [0,1] map.
func GrayToFloat(img image.Image) *FloatMap {
	b := img.Bounds()
	m := NewFloatMap(b.Dx(), b.Dy())
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.Set(x, y, float32(g.Y)/255)
		}
	}
	return m
}
