package quant

import (
	"image/color"

	"github.com/deepteams/gif/palette"
)

// RGB5A3Map maps colours to palette entries through a lazily filled table
// indexed by the RGB5A3 cell of the colour. It is the colour mapper of the
// RGB5A3 quantization mode.
type RGB5A3Map struct {
	pal       *palette.Palette
	maskIndex int
	table     []int16
}

// NewRGB5A3Map returns a mapper answering against pal, never returning
// maskIndex.
func NewRGB5A3Map(pal *palette.Palette, maskIndex int) *RGB5A3Map {
	t := make([]int16, 1<<18)
	for i := range t {
		t[i] = -1
	}
	return &RGB5A3Map{pal: pal, maskIndex: maskIndex, table: t}
}

// MaskIndex returns the skipped palette entry, or -1.
func (m *RGB5A3Map) MaskIndex() int { return m.maskIndex }

// MapColor returns the best fit for the centre of c's cell.
func (m *RGB5A3Map) MapColor(c color.NRGBA) int {
	k := rgb5a3Key(c)
	if v := m.table[k]; v >= 0 {
		return int(v)
	}
	centre := color.NRGBA{
		R: c.R&^7 | 4,
		G: c.G&^7 | 4,
		B: c.B&^7 | 4,
		A: c.A&^31 | 16,
	}
	if c.A>>5 == 7 {
		centre.A = 0xff
	}
	idx := m.pal.FindBestFit(centre, m.maskIndex)
	m.table[k] = int16(idx)
	return idx
}
