// Package palette provides the colour tables shared by the GIF decoder,
// the encoder and the quantizers.
//
// A Palette is an ordered list of RGBA entries tagged with the first
// animation frame it applies to. Picks records which entries of a colormap
// are referenced by a frame, and Remap is the 256-entry index table used to
// reorder or merge palettes without losing per-pixel colour identity.
package palette

import (
	"image/color"
)

// MaxColors is the largest palette a GIF frame can reference.
const MaxColors = 256

// Palette is an ordered sequence of RGBA colours. Frame is the first frame
// of an animation that uses this palette.
type Palette struct {
	Frame   int
	entries []color.NRGBA
}

// New returns a palette with n opaque black entries.
func New(frame, n int) *Palette {
	p := &Palette{Frame: frame}
	p.Resize(n)
	return p
}

// FromColors returns a palette holding a copy of cs.
func FromColors(frame int, cs []color.NRGBA) *Palette {
	p := &Palette{Frame: frame, entries: make([]color.NRGBA, len(cs))}
	copy(p.entries, cs)
	return p
}

// FromColorPalette converts a standard library colour palette.
func FromColorPalette(frame int, cp color.Palette) *Palette {
	p := &Palette{Frame: frame, entries: make([]color.NRGBA, len(cp))}
	for i, c := range cp {
		p.entries[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
	}
	return p
}

// Len returns the number of entries.
func (p *Palette) Len() int { return len(p.entries) }

// At returns entry i, or transparent black when i is out of range.
func (p *Palette) At(i int) color.NRGBA {
	if i < 0 || i >= len(p.entries) {
		return color.NRGBA{}
	}
	return p.entries[i]
}

// Set replaces entry i. The palette grows with opaque black entries when
// i is past the end.
func (p *Palette) Set(i int, c color.NRGBA) {
	if i >= len(p.entries) {
		p.Resize(i + 1)
	}
	p.entries[i] = c
}

// Append adds c as the last entry.
func (p *Palette) Append(c color.NRGBA) {
	p.entries = append(p.entries, c)
}

// Resize truncates the palette or extends it with opaque black entries.
func (p *Palette) Resize(n int) {
	if n < 0 {
		n = 0
	}
	if n <= len(p.entries) {
		p.entries = p.entries[:n]
		return
	}
	for len(p.entries) < n {
		p.entries = append(p.entries, color.NRGBA{A: 0xff})
	}
}

// Clone returns a deep copy of p.
func (p *Palette) Clone() *Palette {
	return FromColors(p.Frame, p.entries)
}

// Colors returns a copy of the entries.
func (p *Palette) Colors() []color.NRGBA {
	out := make([]color.NRGBA, len(p.entries))
	copy(out, p.entries)
	return out
}

// ColorPalette converts p into a color.Palette. When transparentIndex is a
// valid entry it is emitted with zero alpha.
func (p *Palette) ColorPalette(transparentIndex int) color.Palette {
	cp := make(color.Palette, len(p.entries))
	for i, c := range p.entries {
		if i == transparentIndex {
			c.A = 0
		}
		cp[i] = c
	}
	return cp
}

// Equal reports whether p and q hold the same entries in the same order.
// The frame tag is ignored.
func (p *Palette) Equal(q *Palette) bool {
	if len(p.entries) != len(q.entries) {
		return false
	}
	for i := range p.entries {
		if p.entries[i] != q.entries[i] {
			return false
		}
	}
	return true
}

// HasSemiTransparency reports whether any entry has alpha below 255.
func (p *Palette) HasSemiTransparency() bool {
	for _, c := range p.entries {
		if c.A < 0xff {
			return true
		}
	}
	return false
}

// FindExactMatch returns the first entry equal to c, skipping maskIndex,
// or -1 when there is none.
func (p *Palette) FindExactMatch(c color.NRGBA, maskIndex int) int {
	for i, e := range p.entries {
		if i != maskIndex && e == c {
			return i
		}
	}
	return -1
}

// FindBestFit returns the entry closest to c, skipping maskIndex. The
// first entry found wins ties. Distances weight green over red over blue
// the way the eye does; alpha differences count fully.
func (p *Palette) FindBestFit(c color.NRGBA, maskIndex int) int {
	best, bestDist := -1, int(^uint(0)>>1)
	for i, e := range p.entries {
		if i == maskIndex {
			continue
		}
		if d := Distance(c, e); d < bestDist {
			best, bestDist = i, d
			if d == 0 {
				break
			}
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// Distance is the weighted squared distance between two colours.
func Distance(a, b color.NRGBA) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	da := int(a.A) - int(b.A)
	return 3*dr*dr + 4*dg*dg + 2*db*db + 4*da*da
}

// ApplyRemap moves every entry i to position r.At(i).
func (p *Palette) ApplyRemap(r *Remap) {
	orig := p.Colors()
	for i, c := range orig {
		if i >= MaxColors {
			break
		}
		p.Set(r.At(i), c)
	}
}
