// Package quant builds reduced palettes from truecolor samples and answers
// nearest-colour queries against them.
//
// Octree is the adaptive quantizer used by default. Optimizer is the
// histogram based alternative selected by the RGB5A3 mode, and RGB5A3Map
// is its lookup-table colour mapper.
package quant

import (
	"image"
	"image/color"
	"sort"

	"github.com/deepteams/gif/palette"
)

const (
	// DefaultDepth is the tree depth used when feeding whole images. The
	// least significant bit of each channel is ignored.
	DefaultDepth = 7
	// MaxDepth keeps every bit of every channel.
	MaxDepth = 8
)

// node is an octree cell stored in Octree.nodes. Children are arena
// indexes; 0 means no child since the root is never anybody's child.
type node struct {
	children   [8]int32
	parent     int32
	level      uint8
	leaf       bool
	dead       bool
	r, g, b, a uint64
	count      uint64
	index      int32
}

func (n *node) hasChildren() bool {
	for _, c := range n.children {
		if c != 0 {
			return true
		}
	}
	return false
}

func (n *node) average() color.NRGBA {
	if n.count == 0 {
		return color.NRGBA{}
	}
	half := n.count / 2
	return color.NRGBA{
		R: uint8((n.r + half) / n.count),
		G: uint8((n.g + half) / n.count),
		B: uint8((n.b + half) / n.count),
		A: uint8((n.a + half) / n.count),
	}
}

// Octree accumulates colours into an 8-ary tree keyed by successive RGB
// bits, prunes it to a palette and maps colours back to palette indexes.
// An Octree is not safe for concurrent use.
type Octree struct {
	nodes     []node
	maskColor color.NRGBA
	hasMask   bool
	pal       *palette.Palette
	maskIndex int
}

// NewOctree returns an empty tree with no mask colour.
func NewOctree() *Octree {
	o := &Octree{}
	o.reset()
	return o
}

func (o *Octree) reset() {
	o.nodes = append(o.nodes[:0], node{parent: -1, index: -1})
	o.pal = nil
	o.maskIndex = -1
}

// SetMaskColor registers the transparent colour. MakePalette reserves
// entry 0 for it.
func (o *Octree) SetMaskColor(c color.NRGBA) {
	o.maskColor = c
	o.hasMask = true
}

// SetOpaque removes the mask colour.
func (o *Octree) SetOpaque() {
	o.hasMask = false
}

// MaskIndex returns the palette entry skipped by MapColor, or -1.
func (o *Octree) MaskIndex() int { return o.maskIndex }

// Palette returns the palette MapColor answers against, if any.
func (o *Octree) Palette() *palette.Palette { return o.pal }

func octet(c color.NRGBA, level int) int {
	bit := uint(7 - level)
	return int((c.R>>bit)&1)<<2 | int((c.G>>bit)&1)<<1 | int((c.B>>bit)&1)
}

func (o *Octree) child(parent int32, slot int) int32 {
	if c := o.nodes[parent].children[slot]; c != 0 {
		return c
	}
	o.nodes = append(o.nodes, node{
		parent: parent,
		level:  o.nodes[parent].level + 1,
		index:  -1,
	})
	id := int32(len(o.nodes) - 1)
	o.nodes[parent].children[slot] = id
	return id
}

// AddColor adds one sample, descending depth levels.
func (o *Octree) AddColor(c color.NRGBA, depth int) {
	o.addColor(c, depth, -1)
}

func (o *Octree) addColor(c color.NRGBA, depth int, paletteIndex int) {
	if depth < 1 {
		depth = 1
	} else if depth > MaxDepth {
		depth = MaxDepth
	}
	cur := int32(0)
	for level := 0; level < depth; level++ {
		if o.nodes[cur].leaf {
			break
		}
		cur = o.child(cur, octet(c, level))
	}
	n := &o.nodes[cur]
	n.leaf = true
	n.r += uint64(c.R)
	n.g += uint64(c.G)
	n.b += uint64(c.B)
	n.a += uint64(c.A)
	n.count++
	if n.index < 0 && paletteIndex >= 0 {
		n.index = int32(paletteIndex)
	}
}

// FeedWithImage adds every visible pixel of img. Fully transparent pixels
// are skipped. Unless withAlpha is set, samples are made opaque.
func (o *Octree) FeedWithImage(img image.Image, withAlpha bool, depth int) {
	forEachPixel(img, func(c color.NRGBA) {
		if c.A == 0 {
			return
		}
		if !withAlpha {
			c.A = 0xff
		}
		o.AddColor(c, depth)
	})
}

// MakePalette prunes the tree until at most maxColors entries remain
// (one of them the mask colour when registered) and returns the average
// colour of every surviving leaf. Pruning starts with the parents of the
// level depth-1 and collapses the least populated subtrees first. It
// reports false when maxColors leaves no room for a single colour, and
// when a tree fed with fewer than MaxDepth bits has room to spare: such a
// tree has folded colours that a full-depth tree would keep apart.
func (o *Octree) MakePalette(maxColors, depth int) (*palette.Palette, bool) {
	target := maxColors
	if o.hasMask {
		target--
	}
	if depth < 1 || depth > MaxDepth {
		depth = MaxDepth
	}

	leaves := o.leafCount()
	if depth < MaxDepth && leaves > 0 && leaves < target {
		return nil, false
	}
	if leaves > target {
		if target < 1 {
			return nil, false
		}
		for level := depth - 1; level >= 0 && leaves > target; level-- {
			for _, id := range o.collectPrunable(level) {
				if leaves <= target {
					break
				}
				leaves -= o.collapse(id) - 1
			}
		}
		if leaves > target {
			return nil, false
		}
	}

	pal := palette.New(0, 0)
	o.maskIndex = -1
	if o.hasMask {
		pal.Append(o.maskColor)
		o.maskIndex = 0
	}
	o.walkLeaves(0, func(id int32) {
		n := &o.nodes[id]
		n.index = int32(pal.Len())
		pal.Append(n.average())
	})
	o.pal = pal
	return pal, true
}

type prunable struct {
	id         int32
	population uint64
}

// collectPrunable lists the live internal nodes at level, least populated
// first, in a pass that does not touch the tree.
func (o *Octree) collectPrunable(level int) []int32 {
	var cands []prunable
	for i := range o.nodes {
		n := &o.nodes[i]
		if n.dead || n.leaf || int(n.level) != level || !n.hasChildren() {
			continue
		}
		cands = append(cands, prunable{id: int32(i), population: o.population(int32(i))})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].population < cands[j].population })
	ids := make([]int32, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	return ids
}

func (o *Octree) population(id int32) uint64 {
	var total uint64
	o.walkLeaves(id, func(l int32) { total += o.nodes[l].count })
	return total
}

// collapse folds the subtree under id into id itself and returns how many
// leaves it replaced.
func (o *Octree) collapse(id int32) int {
	removed := 0
	var sum node
	o.walkLeaves(id, func(l int32) {
		n := &o.nodes[l]
		sum.r += n.r
		sum.g += n.g
		sum.b += n.b
		sum.a += n.a
		sum.count += n.count
		removed++
	})
	o.markDead(id)
	n := &o.nodes[id]
	n.children = [8]int32{}
	n.leaf = true
	n.r, n.g, n.b, n.a, n.count = sum.r, sum.g, sum.b, sum.a, sum.count
	return removed
}

func (o *Octree) markDead(id int32) {
	for _, c := range o.nodes[id].children {
		if c != 0 {
			o.nodes[c].dead = true
			o.markDead(c)
		}
	}
}

// walkLeaves calls fn for every leaf under id in child order.
func (o *Octree) walkLeaves(id int32, fn func(int32)) {
	n := &o.nodes[id]
	if n.leaf {
		fn(id)
		return
	}
	for _, c := range n.children {
		if c != 0 {
			o.walkLeaves(c, fn)
		}
	}
}

func (o *Octree) leafCount() int {
	count := 0
	o.walkLeaves(0, func(int32) { count++ })
	return count
}

// RegenerateMap rebuilds the tree from pal so MapColor answers against it.
// Entry maskIndex is never returned. When several entries share a colour
// the first one wins.
func (o *Octree) RegenerateMap(pal *palette.Palette, maskIndex int) {
	o.reset()
	for i := 0; i < pal.Len(); i++ {
		if i == maskIndex {
			continue
		}
		o.addColor(pal.At(i), MaxDepth, i)
	}
	o.pal = pal
	o.maskIndex = maskIndex
}

// MapColor returns the palette index for c. Colours that reach a leaf get
// that leaf's entry. Otherwise the nearest entry is searched once and
// remembered in a new leaf, so ties go to the first entry found rather
// than the globally nearest leaf.
func (o *Octree) MapColor(c color.NRGBA) int {
	if o.pal == nil {
		return 0
	}
	cur := int32(0)
	for level := 0; level < MaxDepth; level++ {
		n := &o.nodes[cur]
		if n.leaf && n.index >= 0 {
			return int(n.index)
		}
		next := n.children[octet(c, level)]
		if next == 0 {
			break
		}
		cur = next
	}
	if n := &o.nodes[cur]; n.leaf && n.index >= 0 {
		return int(n.index)
	}

	q := c
	q.A = 0xff
	best := o.pal.FindBestFit(q, o.maskIndex)
	for level := int(o.nodes[cur].level); level < MaxDepth; level++ {
		cur = o.child(cur, octet(c, level))
	}
	n := &o.nodes[cur]
	n.leaf = true
	n.index = int32(best)
	return best
}
