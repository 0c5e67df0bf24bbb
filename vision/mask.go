package vision

import (
	"image"
	"image/color"
)

// Mask values.
const (
	Background uint8 = 0
	Foreground uint8 = 255
)

// MorphKernel is the square structuring element used by CleanMask.
const MorphKernel = 5

// Dilate sets a pixel to foreground when any pixel in the k x k window is
// foreground. Pixels outside the image are ignored.
func Dilate(mask *image.Gray, k int) *image.Gray {
	return morph(mask, k, Foreground)
}

// Erode keeps a pixel foreground only when the whole k x k window is
// foreground. Pixels outside the image are ignored.
func Erode(mask *image.Gray, k int) *image.Gray {
	return morph(mask, k, Background)
}

// morph implements both operations: a window containing a pixel equal to
// trigger turns the output pixel into trigger.
func morph(mask *image.Gray, k int, trigger uint8) *image.Gray {
	b := mask.Bounds()
	out := image.NewGray(b)
	r := k / 2
	other := Foreground
	if trigger == Foreground {
		other = Background
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := other
		window:
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					p := image.Pt(x+dx, y+dy)
					if !p.In(b) {
						continue
					}
					px := mask.GrayAt(p.X, p.Y).Y
					if (trigger == Foreground && px == Foreground) || (trigger == Background && px != Foreground) {
						v = trigger
						break window
					}
				}
			}
			out.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return out
}

// Close fills small holes: dilate then erode.
func Close(mask *image.Gray, k int) *image.Gray {
	return Erode(Dilate(mask, k), k)
}

// Open removes small specks: erode then dilate.
func Open(mask *image.Gray, k int) *image.Gray {
	return Dilate(Erode(mask, k), k)
}

// CleanMask applies a MorphKernel closing followed by an opening.
func CleanMask(mask *image.Gray) *image.Gray {
	return Open(Close(mask, MorphKernel), MorphKernel)
}

// Binarize maps every non-zero pixel to Foreground.
func Binarize(mask *image.Gray) *image.Gray {
	out := image.NewGray(mask.Bounds())
	for i, v := range mask.Pix {
		if v != 0 {
			out.Pix[i] = Foreground
		}
	}
	return out
}

// Coverage is the foreground fraction of mask in [0,1].
func Coverage(mask *image.Gray) float64 {
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	fg := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y == Foreground {
				fg++
			}
		}
	}
	return float64(fg) / float64(total)
}

// ApplyMask keeps src pixels where mask is foreground and makes the rest
// transparent. src and mask must have the same size.
func ApplyMask(src image.Image, mask *image.Gray) (*image.NRGBA, error) {
	sb, mb := src.Bounds(), mask.Bounds()
	if sb.Dx() != mb.Dx() || sb.Dy() != mb.Dy() {
		return nil, ErrInvalidDimensions
	}
	out := image.NewNRGBA(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	for y := 0; y < sb.Dy(); y++ {
		for x := 0; x < sb.Dx(); x++ {
			if mask.GrayAt(mb.Min.X+x, mb.Min.Y+y).Y != Foreground {
				continue
			}
			c := color.NRGBAModel.Convert(src.At(sb.Min.X+x, sb.Min.Y+y)).(color.NRGBA)
			out.SetNRGBA(x, y, c)
		}
	}
	return out, nil
}
