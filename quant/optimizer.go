package quant

import (
	"image"
	"image/color"
	"sort"

	"github.com/deepteams/gif/palette"
)

// Optimizer counts exact colour occurrences and turns them into a palette.
// When there are more distinct colours than palette entries, the counts are
// binned on a 5-bit-per-channel, 3-bit alpha grid (RGB5A3) and split with
// median cut.
type Optimizer struct {
	withAlpha bool
	counts    map[color.NRGBA]uint64
	order     []color.NRGBA
}

// NewOptimizer returns an empty optimizer. withAlpha keeps semi-transparent
// samples and reserves a fully transparent mask entry in Calculate.
func NewOptimizer(withAlpha bool) *Optimizer {
	return &Optimizer{withAlpha: withAlpha, counts: make(map[color.NRGBA]uint64)}
}

// FeedWithImage counts every visible pixel of img.
func (o *Optimizer) FeedWithImage(img image.Image) {
	forEachPixel(img, o.FeedWithColor)
}

// FeedWithColor counts one sample. Fully transparent samples are ignored.
func (o *Optimizer) FeedWithColor(c color.NRGBA) {
	if c.A == 0 {
		return
	}
	if !o.withAlpha {
		c.A = 0xff
	}
	if _, ok := o.counts[c]; !ok {
		o.order = append(o.order, c)
	}
	o.counts[c]++
}

// Distinct returns the number of distinct colours seen.
func (o *Optimizer) Distinct() int { return len(o.order) }

// Calculate fills pal with an optimized palette no larger than its current
// size. When maskIndex is a valid entry of a palette of at least two
// entries, that slot is reserved and set to transparent black (opaque black
// when alpha is not tracked) and the computed colours flow around it.
func (o *Optimizer) Calculate(pal *palette.Palette, maskIndex int) {
	addMask := pal.Len() > 1 && maskIndex >= 0 && maskIndex < pal.Len()
	if addMask {
		pal.Resize(pal.Len() - 1)
	}

	used := o.createOptimizedPalette(pal)

	if !addMask {
		pal.Resize(max(1, used))
		return
	}
	cols := pal.Colors()[:used]
	pal.Resize(used + 1)
	r := palette.NewRemap()
	for i := maskIndex; i < used && i+1 < palette.MaxColors; i++ {
		r.Map(i, i+1)
	}
	for i, c := range cols {
		pal.Set(r.At(i), c)
	}
	if maskIndex < pal.Len() {
		var a uint8 = 0xff
		if o.withAlpha {
			a = 0
		}
		pal.Set(maskIndex, color.NRGBA{A: a})
	}
}

// createOptimizedPalette writes up to pal.Len() colours into pal and
// returns how many were written.
func (o *Optimizer) createOptimizedPalette(pal *palette.Palette) int {
	n := pal.Len()
	if n == 0 {
		return 0
	}
	if len(o.order) <= n {
		for i, c := range o.order {
			pal.Set(i, c)
		}
		return len(o.order)
	}

	bins := o.binRGB5A3()
	boxes := medianCut(bins, n)
	for i, b := range boxes {
		pal.Set(i, b.average())
	}
	return len(boxes)
}

// bin accumulates the samples falling into one RGB5A3 cell.
type bin struct {
	key            uint32
	r, g, b, a, n  uint64
	cr, cg, cb, ca uint8 // representative colour used for splitting
}

func rgb5a3Key(c color.NRGBA) uint32 {
	return uint32(c.R>>3)<<13 | uint32(c.G>>3)<<8 | uint32(c.B>>3)<<3 | uint32(c.A>>5)
}

func (o *Optimizer) binRGB5A3() []*bin {
	byKey := make(map[uint32]*bin)
	for _, c := range o.order {
		k := rgb5a3Key(c)
		b, ok := byKey[k]
		if !ok {
			b = &bin{key: k}
			byKey[k] = b
		}
		w := o.counts[c]
		b.r += uint64(c.R) * w
		b.g += uint64(c.G) * w
		b.b += uint64(c.B) * w
		b.a += uint64(c.A) * w
		b.n += w
	}
	bins := make([]*bin, 0, len(byKey))
	for _, b := range byKey {
		b.cr = uint8(b.r / b.n)
		b.cg = uint8(b.g / b.n)
		b.cb = uint8(b.b / b.n)
		b.ca = uint8(b.a / b.n)
		bins = append(bins, b)
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i].key < bins[j].key })
	return bins
}

type box struct {
	bins []*bin
}

func (b *box) channel(i int, bn *bin) uint8 {
	switch i {
	case 0:
		return bn.cr
	case 1:
		return bn.cg
	case 2:
		return bn.cb
	}
	return bn.ca
}

// widest returns the channel with the largest extent and that extent.
func (b *box) widest() (int, int) {
	bestCh, bestExt := 0, -1
	for ch := 0; ch < 4; ch++ {
		lo, hi := 255, 0
		for _, bn := range b.bins {
			v := int(b.channel(ch, bn))
			lo = min(lo, v)
			hi = max(hi, v)
		}
		if hi-lo > bestExt {
			bestCh, bestExt = ch, hi-lo
		}
	}
	return bestCh, bestExt
}

func (b *box) population() uint64 {
	var n uint64
	for _, bn := range b.bins {
		n += bn.n
	}
	return n
}

func (b *box) average() color.NRGBA {
	var r, g, bl, a, n uint64
	for _, bn := range b.bins {
		r += bn.r
		g += bn.g
		bl += bn.b
		a += bn.a
		n += bn.n
	}
	if n == 0 {
		return color.NRGBA{}
	}
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: uint8(a / n)}
}

// medianCut splits bins into at most n boxes, always cutting the box with
// the widest channel at its population median.
func medianCut(bins []*bin, n int) []*box {
	boxes := []*box{{bins: bins}}
	for len(boxes) < n {
		pick, pickCh, pickExt := -1, 0, 0
		for i, b := range boxes {
			if len(b.bins) < 2 {
				continue
			}
			ch, ext := b.widest()
			if ext > pickExt || pick < 0 {
				pick, pickCh, pickExt = i, ch, ext
			}
		}
		if pick < 0 {
			break
		}
		b := boxes[pick]
		sort.SliceStable(b.bins, func(i, j int) bool {
			return b.channel(pickCh, b.bins[i]) < b.channel(pickCh, b.bins[j])
		})
		half := b.population() / 2
		var acc uint64
		cut := 1
		for i, bn := range b.bins[:len(b.bins)-1] {
			acc += bn.n
			cut = i + 1
			if acc >= half {
				break
			}
		}
		lo := &box{bins: b.bins[:cut:cut]}
		hi := &box{bins: b.bins[cut:]}
		boxes[pick] = lo
		boxes = append(boxes, hi)
	}
	return boxes
}
