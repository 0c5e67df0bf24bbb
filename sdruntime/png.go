package sdruntime

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
)

var (
	ErrImageNotPNG      = errors.New("sdruntime: image data is not a PNG")
	ErrImageInvalidSize = errors.New("sdruntime: invalid image dimensions")
)

const pngSignature = "\x89PNG\r\n\x1a\n"

// EncodePNG encodes img with the default compression level.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrImageInvalidSize
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("sdruntime: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// PNGDataURL returns data as a data:image/png;base64 URL.
func PNGDataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// pngSize reads the dimensions from a PNG header without decoding pixels.
func pngSize(data []byte) (image.Point, error) {
	if !bytes.HasPrefix(data, []byte(pngSignature)) {
		return image.Point{}, ErrImageNotPNG
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Point{}, fmt.Errorf("%w: %v", ErrImageNotPNG, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Point{}, ErrImageInvalidSize
	}
	return image.Pt(cfg.Width, cfg.Height), nil
}
