package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
)

// Runtime errors shared by the depth and segmentation models.
var (
	ErrModelNotFound = errors.New("vision: unknown model")
	ErrModelClosed   = errors.New("vision: model is closed")
)

// DepthModels lists the depth checkpoints this runtime serves, mapped to the
// working resolution of their estimator.
var DepthModels = map[string]int{
	"MiDaS_small": 256,
	"DPT_Hybrid":  384,
	"DPT_Large":   384,
}

// DepthModel estimates relative depth from luminance and local contrast.
// It works on a copy downscaled to the model's working resolution and
// upsamples the estimate back, so output size always matches input size.
type DepthModel struct {
	modelID    string
	device     string
	resolution int
	closed     atomic.Bool
}

// NewDepthModel loads modelID for device.
func NewDepthModel(ctx context.Context, modelID, device string) (*DepthModel, error) {
	res, ok := DepthModels[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: depth model %q", ErrModelNotFound, modelID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &DepthModel{modelID: modelID, device: device, resolution: res}, nil
}

// ModelID returns the checkpoint id.
func (m *DepthModel) ModelID() string { return m.modelID }

// Device returns the backend the model was loaded for.
func (m *DepthModel) Device() string { return m.device }

// Close releases the model.
func (m *DepthModel) Close() error {
	m.closed.Store(true)
	return nil
}

// EstimateDepth returns a raw depth map the size of img, larger is nearer.
// Values are unnormalized; callers min-max normalize for display.
func (m *DepthModel) EstimateDepth(ctx context.Context, img image.Image) (*FloatMap, error) {
	if m.closed.Load() {
		return nil, ErrModelClosed
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrInvalidDimensions
	}

	work := FitWithin(img, m.resolution)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Brighter, smoother regions read as nearer; edges get pushed back.
	lum := GaussianBlur(Luminance(work), 2)
	gx, gy := Sobel(lum)
	est := NewFloatMap(lum.W, lum.H)
	for i, v := range lum.Pix {
		edge := gx.Pix[i]*gx.Pix[i] + gy.Pix[i]*gy.Pix[i]
		est.Pix[i] = v - 0.25*edge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if est.W == b.Dx() && est.H == b.Dy() {
		return est, nil
	}
	return resizeFloat(est, b.Dx(), b.Dy()), nil
}

// resizeFloat bilinearly resamples m to w x h.
func resizeFloat(m *FloatMap, w, h int) *FloatMap {
	out := NewFloatMap(w, h)
	sx := float32(m.W) / float32(w)
	sy := float32(m.H) / float32(h)
	for y := 0; y < h; y++ {
		fy := (float32(y)+0.5)*sy - 0.5
		y0 := int(fy)
		if fy < 0 {
			y0 = -1
		}
		ty := fy - float32(y0)
		for x := 0; x < w; x++ {
			fx := (float32(x)+0.5)*sx - 0.5
			x0 := int(fx)
			if fx < 0 {
				x0 = -1
			}
			tx := fx - float32(x0)
			top := m.At(x0, y0)*(1-tx) + m.At(x0+1, y0)*tx
			bot := m.At(x0, y0+1)*(1-tx) + m.At(x0+1, y0+1)*tx
			out.Set(x, y, top*(1-ty)+bot*ty)
		}
	}
	return out
}
