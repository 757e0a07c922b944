package dither

import (
	"image"
	"image/color"
	"math"

	"github.com/deepteams/gif/palette"
)

// Ordered is the classic two-candidate ordered ditherer. For each pixel it
// finds the nearest palette colour, mirrors the error to find a second
// candidate on the other side of the source colour, and picks between the
// two by comparing the relative distance against the matrix threshold.
type Ordered struct {
	transparentIndex int
	factor           float64
}

// NewOrdered returns an Ordered ditherer. transparentIndex is -1 for
// opaque output.
func NewOrdered(transparentIndex int) *Ordered {
	return &Ordered{transparentIndex: transparentIndex, factor: 1}
}

func (o *Ordered) Start(_ *image.NRGBA, _ *image.Paletted, factor float64) { o.factor = factor }
func (o *Ordered) Finish()                                                 {}

func (o *Ordered) DitherRGBPixelToIndex(m Matrix, c color.NRGBA, x, y int, rgbmap RGBMap, pal *palette.Palette) int {
	if o.transparentIndex >= 0 && c.A == 0 {
		return o.transparentIndex
	}
	if dark, light, ok := twoColors(pal, o.transparentIndex); ok {
		return DitherTwoColors(m, c, x, y, dark, light)
	}

	n1 := mapColor(rgbmap, pal, c, o.transparentIndex)
	p1 := pal.At(n1)

	// The colour on the other side of c at the same distance as p1.
	mirrored := color.NRGBA{
		R: clamp255(2*int(c.R) - int(p1.R)),
		G: clamp255(2*int(c.G) - int(p1.G)),
		B: clamp255(2*int(c.B) - int(p1.B)),
		A: clamp255(2*int(c.A) - int(p1.A)),
	}
	n2 := mapColor(rgbmap, pal, mirrored, o.transparentIndex)
	if n1 == n2 {
		return n1
	}
	p2 := pal.At(n2)

	span := euclid(p1, p2)
	if span == 0 {
		return n1
	}
	t := euclid(c, p1) / span * o.factor
	if int(t*float64(m.MaxValue()+1)) > m.At(y, x) {
		return n2
	}
	return n1
}

// Ordered2 perturbs each pixel by the matrix threshold, scaled to the
// average spacing between palette colours, before looking up its nearest
// entry.
type Ordered2 struct {
	transparentIndex int
	factor           float64
	spread           float64
}

// NewOrdered2 returns an Ordered2 ditherer. transparentIndex is -1 for
// opaque output.
func NewOrdered2(transparentIndex int) *Ordered2 {
	return &Ordered2{transparentIndex: transparentIndex, factor: 1}
}

func (o *Ordered2) Start(_ *image.NRGBA, _ *image.Paletted, factor float64) {
	o.factor = factor
	o.spread = 0
}

func (o *Ordered2) Finish() {}

func (o *Ordered2) DitherRGBPixelToIndex(m Matrix, c color.NRGBA, x, y int, rgbmap RGBMap, pal *palette.Palette) int {
	if o.transparentIndex >= 0 && c.A == 0 {
		return o.transparentIndex
	}
	if dark, light, ok := twoColors(pal, o.transparentIndex); ok {
		return DitherTwoColors(m, c, x, y, dark, light)
	}
	if o.spread == 0 {
		o.spread = paletteSpread(pal)
	}

	// Threshold centred on zero, in [-0.5, 0.5).
	t := (float64(m.At(y, x))+0.5)/float64(m.MaxValue()+1) - 0.5
	off := int(math.Round(t * o.spread * o.factor))
	q := color.NRGBA{
		R: clamp255(int(c.R) + off),
		G: clamp255(int(c.G) + off),
		B: clamp255(int(c.B) + off),
		A: c.A,
	}
	return mapColor(rgbmap, pal, q, o.transparentIndex)
}

// paletteSpread estimates the per-channel step between colours of a
// palette spread evenly over the RGB cube.
func paletteSpread(pal *palette.Palette) float64 {
	n := pal.Len()
	if n < 2 {
		return 0
	}
	return 256 / math.Cbrt(float64(n))
}

// Luma returns the Rec. 709 luma of c in [0, 255].
func Luma(c color.NRGBA) int {
	return (int(c.R)*2126 + int(c.G)*7152 + int(c.B)*722) / 10000
}

// DitherTwoColors is the closed form used when the palette has exactly two
// colours: the light index wins iff luma(c)*(max+1) > 255*matrix(y, x).
func DitherTwoColors(m Matrix, c color.NRGBA, x, y, darkIndex, lightIndex int) int {
	if Luma(c)*(m.MaxValue()+1) > 255*m.At(y, x) {
		return lightIndex
	}
	return darkIndex
}

// twoColors reports the dark and light entries of a two-colour palette.
// Palettes that use one of the two entries for transparency do not count.
func twoColors(pal *palette.Palette, transparentIndex int) (dark, light int, ok bool) {
	if pal.Len() != 2 || transparentIndex == 0 || transparentIndex == 1 {
		return 0, 0, false
	}
	if Luma(pal.At(0)) > Luma(pal.At(1)) {
		return 1, 0, true
	}
	return 0, 1, true
}

func euclid(a, b color.NRGBA) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	da := float64(a.A) - float64(b.A)
	return math.Sqrt(dr*dr + dg*dg + db*db + da*da)
}
