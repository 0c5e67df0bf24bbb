package vision

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
)

// SegmentationModels lists the segmentation checkpoints this runtime serves.
var SegmentationModels = map[string]bool{
	"deeplabv3": true,
}

// Segmenter separates foreground from background with an Otsu threshold on
// luminance. The class touching less of the image border is foreground.
type Segmenter struct {
	modelID string
	device  string
	closed  atomic.Bool
}

// NewSegmenter loads modelID for device.
func NewSegmenter(ctx context.Context, modelID, device string) (*Segmenter, error) {
	if !SegmentationModels[modelID] {
		return nil, fmt.Errorf("%w: segmentation model %q", ErrModelNotFound, modelID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Segmenter{modelID: modelID, device: device}, nil
}

// ModelID returns the checkpoint id.
func (s *Segmenter) ModelID() string { return s.modelID }

// Device returns the backend the model was loaded for.
func (s *Segmenter) Device() string { return s.device }

// Close releases the model.
func (s *Segmenter) Close() error {
	s.closed.Store(true)
	return nil
}

// Segment returns a binary mask the size of img.
func (s *Segmenter) Segment(ctx context.Context, img image.Image) (*image.Gray, error) {
	if s.closed.Load() {
		return nil, ErrModelClosed
	}
	if img.Bounds().Empty() {
		return nil, ErrInvalidDimensions
	}

	lum := Luminance(img)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hist [256]int
	levels := make([]uint8, len(lum.Pix))
	for i, v := range lum.Pix {
		l := uint8(min(max(v*255+0.5, 0), 255))
		levels[i] = l
		hist[l]++
	}
	threshold := OtsuThreshold(hist)

	mask := image.NewGray(image.Rect(0, 0, lum.W, lum.H))
	for i, l := range levels {
		if l > threshold {
			mask.Pix[i] = Foreground
		}
	}

	// Pick the class that owns the border as background.
	border, borderFG := 0, 0
	for y := 0; y < lum.H; y++ {
		for x := 0; x < lum.W; x++ {
			if x != 0 && y != 0 && x != lum.W-1 && y != lum.H-1 {
				continue
			}
			border++
			if mask.Pix[y*lum.W+x] == Foreground {
				borderFG++
			}
		}
	}
	if borderFG*2 > border {
		for i, v := range mask.Pix {
			mask.Pix[i] = Foreground - v
		}
	}
	return mask, nil
}

// OtsuThreshold returns the level that maximizes between-class variance.
// Pixels above the returned level form the upper class. A histogram with a
// single populated level returns that level, putting every pixel in the
// lower class.
func OtsuThreshold(hist [256]int) uint8 {
	total := 0
	var sum float64
	for i, n := range hist {
		total += n
		sum += float64(i * n)
	}
	if total == 0 {
		return 0
	}

	var (
		sumB     float64
		wB       int
		best     float64
		bestT    int
		lastFull = -1
	)
	for t := 0; t < 256; t++ {
		if hist[t] > 0 {
			lastFull = t
		}
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			bestT = t
		}
	}
	if best == 0 {
		return uint8(max(lastFull, 0))
	}
	return uint8(bestT)
}
