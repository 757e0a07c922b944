package palette

// Picks is a set of palette entries, usually the entries a frame uses.
type Picks []bool

// NewPicks returns an empty set sized for an n-entry palette.
func NewPicks(n int) Picks {
	return make(Picks, n)
}

// All marks every entry as picked.
func (p Picks) All() {
	for i := range p {
		p[i] = true
	}
}

// Count returns the number of picked entries.
func (p Picks) Count() int {
	n := 0
	for _, v := range p {
		if v {
			n++
		}
	}
	return n
}

// Has reports whether entry i is picked. Out of range entries are not.
func (p Picks) Has(i int) bool {
	return i >= 0 && i < len(p) && p[i]
}
