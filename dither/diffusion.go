package dither

import (
	"image"
	"image/color"

	"github.com/deepteams/gif/internal/pool"
	"github.com/deepteams/gif/palette"
)

// ErrorDiffusion spreads each pixel's quantization error over the pixels
// that have not been visited yet. Errors are kept per channel (R, G, B, A)
// in one row buffer per kernel row, each as wide as the image.
type ErrorDiffusion struct {
	kernel           Kernel
	transparentIndex int
	zigzag           bool

	src    *image.NRGBA
	factor float64
	width  int
	height int
	row    int
	err    [4][]int32
}

// NewErrorDiffusion returns a ditherer diffusing with k. transparentIndex
// is -1 for opaque output.
func NewErrorDiffusion(k Kernel, transparentIndex int, zigzag bool) *ErrorDiffusion {
	return &ErrorDiffusion{kernel: k, transparentIndex: transparentIndex, zigzag: zigzag}
}

func (d *ErrorDiffusion) ZigZag() bool { return d.zigzag }

func (d *ErrorDiffusion) Start(src *image.NRGBA, _ *image.Paletted, factor float64) {
	d.src = src
	d.factor = factor
	d.width = src.Rect.Dx()
	d.height = d.kernel.Height
	if d.height < 1 {
		d.height = 1
	}
	d.row = 0
	for c := range d.err {
		if d.err[c] != nil {
			pool.PutInt32(d.err[c])
		}
		d.err[c] = pool.GetInt32(d.width * d.height)
	}
}

func (d *ErrorDiffusion) Finish() {
	d.src = nil
	for c := range d.err {
		pool.PutInt32(d.err[c])
		d.err[c] = nil
	}
}

func (d *ErrorDiffusion) slot(y int) int { return (y % d.height) * d.width }

func (d *ErrorDiffusion) DitherRGBToIndex2D(x, y int, rgbmap RGBMap, pal *palette.Palette) int {
	for d.row < y {
		// Row d.row is finished; its buffer becomes row d.row+height.
		s := d.slot(d.row)
		for c := range d.err {
			clear(d.err[c][s : s+d.width])
		}
		d.row++
	}

	c := d.src.NRGBAAt(d.src.Rect.Min.X+x, d.src.Rect.Min.Y+y)
	if d.transparentIndex >= 0 && c.A == 0 {
		return d.transparentIndex
	}

	div := int32(d.kernel.Divisor)
	if div == 0 {
		div = 1
	}
	s := d.slot(y) + x
	want := [4]int{
		int(c.R) + int(d.err[0][s]/div),
		int(c.G) + int(d.err[1][s]/div),
		int(c.B) + int(d.err[2][s]/div),
		int(c.A) + int(d.err[3][s]/div),
	}
	q := color.NRGBA{R: clamp255(want[0]), G: clamp255(want[1]), B: clamp255(want[2]), A: clamp255(want[3])}
	if c.A == 0xff {
		q.A = 0xff
	}

	idx := mapColor(rgbmap, pal, q, d.transparentIndex)
	got := pal.At(idx)

	var e [4]int32
	e[0] = int32(float64(int(q.R)-int(got.R)) * d.factor)
	e[1] = int32(float64(int(q.G)-int(got.G)) * d.factor)
	e[2] = int32(float64(int(q.B)-int(got.B)) * d.factor)
	e[3] = int32(float64(int(q.A)-int(got.A)) * d.factor)
	if e == [4]int32{} {
		return idx
	}

	n := d.kernel.Neighborhood()
	n.MirrorX = d.zigzag && y&1 == 1
	bottom := d.src.Rect.Dy()
	n.Each(x, y, d.width, bottom, EdgeSkip, func(col, row, px, py int) bool {
		k := int32(d.kernel.Coeffs[row][col])
		if k == 0 || (py == y && px == x) {
			return true
		}
		t := d.slot(py) + px
		for ch := range e {
			d.err[ch][t] += e[ch] * k
		}
		return true
	})
	return idx
}
