package vision

import (
	"image/color"
	"math"
	"testing"
)

func TestNormalizeMinMax(t *testing.T) {
	m := &FloatMap{W: 3, H: 1, Pix: []float32{2, 4, 6}}
	got := NormalizeMinMax(m)
	want := []uint8{0, 128, 255}
	for i, v := range want {
		if got.Pix[i] != v {
			t.Errorf("pixel %d = %d, want %d", i, got.Pix[i], v)
		}
	}
}

func TestNormalizeMinMax_Flat(t *testing.T) {
	m := NewFloatMap(50, 50)
	for i := range m.Pix {
		m.Pix[i] = 0.42
	}
	got := NormalizeMinMax(m)
	for i, v := range got.Pix {
		if v != 0 {
			t.Fatalf("pixel %d = %d, want 0 for flat input", i, v)
		}
	}
}

func TestGaussianBlur(t *testing.T) {
	// A single spike spreads out but keeps its mass.
	m := NewFloatMap(9, 9)
	m.Set(4, 4, 1)
	blurred := GaussianBlur(m, 2)

	var sum float64
	for _, v := range blurred.Pix {
		sum += float64(v)
	}
	if math.Abs(sum-1) > 1e-4 {
		t.Errorf("mass = %v, want 1", sum)
	}
	if blurred.At(4, 4) >= 1 || blurred.At(4, 4) <= blurred.At(3, 4) {
		t.Errorf("center %v should be below 1 and above neighbor %v", blurred.At(4, 4), blurred.At(3, 4))
	}

	if same := GaussianBlur(m, 0); same.At(4, 4) != 1 {
		t.Error("radius 0 should copy input")
	}
}

func TestGaussianKernel(t *testing.T) {
	if got := gaussianKernel(1); got[0] != 0.25 || got[1] != 0.5 || got[2] != 0.25 {
		t.Errorf("radius 1 kernel = %v, want [0.25 0.5 0.25]", got)
	}

	// Radius 4 is a 9-tap kernel with sigma 0.3*(4-1)+0.8 = 1.7.
	k := gaussianKernel(4)
	if len(k) != 9 {
		t.Fatalf("len = %d, want 9", len(k))
	}
	var sum float64
	for _, w := range k {
		sum += float64(w)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("kernel sum = %v, want 1", sum)
	}
	ratio := float64(k[4] / k[5])
	if want := math.Exp(1 / (2 * 1.7 * 1.7)); math.Abs(ratio-want) > 1e-4 {
		t.Errorf("center/neighbor ratio = %v, want %v", ratio, want)
	}
}

func TestReflect101(t *testing.T) {
	tests := []struct{ i, n, want int }{
		{-1, 5, 1},
		{-2, 5, 2},
		{0, 5, 0},
		{5, 5, 3},
		{6, 5, 2},
		{-3, 1, 0},
		{-3, 2, 1},
	}
	for _, tt := range tests {
		if got := reflect101(tt.i, tt.n); got != tt.want {
			t.Errorf("reflect101(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.want)
		}
	}
}

func TestGaussianBlur_ReflectedBorder(t *testing.T) {
	// Row 1 0 0: the left tap mirrors onto the right neighbor.
	m := &FloatMap{W: 3, H: 1, Pix: []float32{1, 0, 0}}
	got := GaussianBlur(m, 1)
	if got.Pix[0] != 0.5 {
		t.Errorf("edge = %v, want 0.5", got.Pix[0])
	}
	if got.Pix[1] != 0.25 {
		t.Errorf("middle = %v, want 0.25", got.Pix[1])
	}
}

func TestSobel(t *testing.T) {
	// Horizontal ramp: gx is constant, gy is zero.
	m := NewFloatMap(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			m.Set(x, y, float32(x))
		}
	}
	gx, gy := Sobel(m)
	if gx.At(2, 2) != 8 {
		t.Errorf("gx center = %v, want 8", gx.At(2, 2))
	}
	if gy.At(2, 2) != 0 {
		t.Errorf("gy center = %v, want 0", gy.At(2, 2))
	}
	// The mirrored neighbor equals the inner one, so the edge has no gradient.
	if gx.At(0, 2) != 0 || gx.At(4, 2) != 0 {
		t.Errorf("gx at edges = %v, %v, want 0", gx.At(0, 2), gx.At(4, 2))
	}
}

func TestNormalMap_Flat(t *testing.T) {
	depth := GrayToFloat(flatGray(16, 16, 128))
	for _, blur := range []int{0, 2} {
		out := NormalMap(depth, 1.0, blur)
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				if c := out.RGBAAt(x, y); c != (color.RGBA{127, 127, 255, 255}) {
					t.Fatalf("blur %d pixel (%d,%d) = %v, want (127,127,255)", blur, x, y, c)
				}
			}
		}
	}
}

func TestNormalMap_SlopeTiltsNormal(t *testing.T) {
	depth := NewFloatMap(8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			depth.Set(x, y, float32(x)/8)
		}
	}
	c := NormalMap(depth, 2.0, 0).RGBAAt(4, 4)
	if c.R >= 127 {
		t.Errorf("R = %d, want < 127 for depth rising to the right", c.R)
	}
	if c.G != 127 {
		t.Errorf("G = %d, want 127 with no vertical slope", c.G)
	}
}
