package vision

import (
	"image"
	"image/color"
	"math"
)

// FloatMap is a single-channel float32 raster, row-major.
type FloatMap struct {
	W, H int
	Pix  []float32
}

// NewFloatMap allocates a zeroed w x h map.
func NewFloatMap(w, h int) *FloatMap {
	return &FloatMap{W: w, H: h, Pix: make([]float32, w*h)}
}

// At returns the value at (x, y), clamping coordinates to the edge.
func (m *FloatMap) At(x, y int) float32 {
	x = min(max(x, 0), m.W-1)
	y = min(max(y, 0), m.H-1)
	return m.Pix[y*m.W+x]
}

// at101 reads with reflect-101 borders (dcb|abcd|cba), the default border
// mode of the blur and gradient filters.
func (m *FloatMap) at101(x, y int) float32 {
	return m.Pix[reflect101(y, m.H)*m.W+reflect101(x, m.W)]
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

// Set stores v at (x, y).
func (m *FloatMap) Set(x, y int, v float32) {
	m.Pix[y*m.W+x] = v
}

// Range returns the minimum and maximum values.
func (m *FloatMap) Range() (lo, hi float32) {
	if len(m.Pix) == 0 {
		return 0, 0
	}
	lo, hi = m.Pix[0], m.Pix[0]
	for _, v := range m.Pix[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

// NormalizeMinMax maps the map's range onto 0..255. A flat map, where max
// equals min, yields an all-zero image rather than dividing by zero.
func NormalizeMinMax(m *FloatMap) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, m.W, m.H))
	lo, hi := m.Range()
	span := hi - lo
	if span <= 0 || math.IsNaN(float64(span)) || math.IsInf(float64(span), 0) {
		return out
	}
	for i, v := range m.Pix {
		n := (v - lo) / span
		out.Pix[i] = uint8(math.Round(float64(n) * 255))
	}
	return out
}

// GaussianBlur convolves m with a separable Gaussian of kernel size
// 2*radius+1. Radii 1 to 3 use the fixed binomial kernels; larger radii
// derive sigma from the kernel size as 0.3*(radius-1)+0.8. Borders are
// reflected. Radius 0 returns a copy.
func GaussianBlur(m *FloatMap, radius int) *FloatMap {
	out := &FloatMap{W: m.W, H: m.H, Pix: append([]float32(nil), m.Pix...)}
	if radius <= 0 {
		return out
	}

	kernel := gaussianKernel(radius)
	tmp := NewFloatMap(m.W, m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			var acc float32
			for k, w := range kernel {
				acc += w * out.at101(x+k-radius, y)
			}
			tmp.Set(x, y, acc)
		}
	}
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			var acc float32
			for k, w := range kernel {
				acc += w * tmp.at101(x, y+k-radius)
			}
			out.Set(x, y, acc)
		}
	}
	return out
}

// Fixed kernels used for sizes 3, 5 and 7 when no sigma is given.
var smallGaussian = [][]float32{
	{0.25, 0.5, 0.25},
	{0.0625, 0.25, 0.375, 0.25, 0.0625},
	{0.03125, 0.109375, 0.21875, 0.28125, 0.21875, 0.109375, 0.03125},
}

// gaussianKernel returns the normalized 1D kernel of size 2*radius+1.
func gaussianKernel(radius int) []float32 {
	if radius <= len(smallGaussian) {
		return append([]float32(nil), smallGaussian[radius-1]...)
	}
	sigma := 0.3*float64(radius-1) + 0.8
	kernel := make([]float32, 2*radius+1)
	var sum float32
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = float32(math.Exp(-d * d / (2 * sigma * sigma)))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// Sobel returns the horizontal and vertical 3x3 Sobel gradients of m, with
// reflect-101 borders.
func Sobel(m *FloatMap) (gx, gy *FloatMap) {
	gx, gy = NewFloatMap(m.W, m.H), NewFloatMap(m.W, m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			tl, t, tr := m.at101(x-1, y-1), m.at101(x, y-1), m.at101(x+1, y-1)
			l, r := m.at101(x-1, y), m.at101(x+1, y)
			bl, b, br := m.at101(x-1, y+1), m.at101(x, y+1), m.at101(x+1, y+1)
			gx.Set(x, y, (tr+2*r+br)-(tl+2*l+bl))
			gy.Set(x, y, (bl+2*b+br)-(tl+2*t+tr))
		}
	}
	return gx, gy
}

// NormalMap derives a tangent-space normal map from a depth map in [0,1].
// Each pixel is normalize(-gx*strength, -gy*strength, 1) encoded as
// (c+1)*127.5. blurRadius smooths the depth first.
func NormalMap(depth *FloatMap, strength float64, blurRadius int) *image.RGBA {
	gx, gy := Sobel(GaussianBlur(depth, blurRadius))
	out := image.NewRGBA(image.Rect(0, 0, depth.W, depth.H))
	for y := 0; y < depth.H; y++ {
		for x := 0; x < depth.W; x++ {
			nx := -float64(gx.At(x, y)) * strength
			ny := -float64(gy.At(x, y)) * strength
			nz := 1.0
			l := math.Sqrt(nx*nx + ny*ny + nz*nz)
			out.SetRGBA(x, y, color.RGBA{
				R: encodeNormal(nx / l),
				G: encodeNormal(ny / l),
				B: encodeNormal(nz / l),
				A: 255,
			})
		}
	}
	return out
}

// encodeNormal truncates like a uint8 cast: 0 maps to 127, 1 to 255.
func encodeNormal(c float64) uint8 {
	return uint8(math.Max(0, math.Min(255, (c+1)*127.5)))
}
