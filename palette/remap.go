package palette

// Remap is a 256-entry table mapping a source palette index to a
// destination index. The zero value maps every index to 0; use NewRemap for
// the identity.
type Remap [MaxColors]uint8

// NewRemap returns the identity remap.
func NewRemap() Remap {
	var r Remap
	for i := range r {
		r[i] = uint8(i)
	}
	return r
}

// Map sets the destination of index from. Indexes outside [0,256) are
// ignored.
func (r *Remap) Map(from, to int) {
	if from < 0 || from >= MaxColors || to < 0 || to >= MaxColors {
		return
	}
	r[from] = uint8(to)
}

// At returns the destination of index i.
func (r *Remap) At(i int) int {
	if i < 0 || i >= MaxColors {
		return i
	}
	return int(r[i])
}

// Compose returns the remap equivalent to applying r and then next.
func (r *Remap) Compose(next *Remap) Remap {
	var c Remap
	for i := range r {
		c[i] = next[r[i]]
	}
	return c
}

// Apply rewrites every index in pix through r.
func (r *Remap) Apply(pix []uint8) {
	for i, v := range pix {
		pix[i] = r[v]
	}
}

// IsIdentity reports whether r maps every index to itself.
func (r *Remap) IsIdentity() bool {
	for i, v := range r {
		if int(v) != i {
			return false
		}
	}
	return true
}

// CreateRemapToChangePalette builds the remap that keeps pixels drawn with
// oldPal looking the same when the palette is replaced by newPal. Colours
// missing from newPal map to their best fit. The mask entry keeps its index
// unless remapMask is set and the two palettes disagree on its colour, in
// which case the old mask colour is searched in newPal.
func CreateRemapToChangePalette(oldPal, newPal *Palette, oldMaskIndex int, remapMask bool) Remap {
	r := NewRemap()
	maskIndex := oldMaskIndex

	if maskIndex >= 0 {
		if remapMask && oldPal.At(maskIndex) != newPal.At(maskIndex) {
			maskIndex = newPal.FindExactMatch(oldPal.At(maskIndex), -1)
			if maskIndex >= 0 {
				r.Map(oldMaskIndex, maskIndex)
			}
		} else {
			r.Map(maskIndex, maskIndex)
		}
	}

	for i := 0; i < oldPal.Len() && i < MaxColors; i++ {
		if i == oldMaskIndex {
			continue
		}
		c := oldPal.At(i)
		if i < newPal.Len() && c == newPal.At(i) {
			r.Map(i, i)
			continue
		}
		j := newPal.FindExactMatch(c, maskIndex)
		if j < 0 {
			j = newPal.FindBestFit(c, maskIndex)
		}
		r.Map(i, j)
	}
	return r
}
