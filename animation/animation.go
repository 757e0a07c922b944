package animation

import (
	"errors"
	"image"
	"sort"
	"time"

	"github.com/deepteams/gif/palette"
)

// Animation is a decoded or to-be-encoded GIF animation.
type Animation struct {
	// Format is the storage format of Frames.
	Format PixelFormat

	// CanvasWidth and CanvasHeight are the logical screen size.
	CanvasWidth  int
	CanvasHeight int

	// Frames holds the composited frames in display order.
	Frames []Frame

	// Palettes holds the colour tables sorted by their Frame field. A
	// palette applies from its frame until the next palette starts.
	Palettes []*palette.Palette

	// TransparentIndex is the palette entry that stands for transparent
	// pixels in Indexed frames. It is meaningless when Opaque is set.
	TransparentIndex int

	// Opaque reports that the animation has a solid background: the
	// first GIF frame carried no transparent colour.
	Opaque bool

	// LoopCount is the NETSCAPE2.0 repeat count. 0 loops forever and -1
	// means the stream had no loop extension, so it plays once.
	LoopCount int
}

var (
	ErrNoFrames        = errors.New("animation: no frames")
	ErrEmptyCanvas     = errors.New("animation: invalid canvas dimensions")
	ErrPaletteTooLarge = errors.New("animation: palette has more than 256 entries")
	ErrQuantize        = errors.New("animation: cannot build a palette of the requested size")
	ErrFrameRange      = errors.New("animation: frame index out of range")
	ErrNilImage        = errors.New("animation: frame image is nil")
)

// maxDelay is the largest delay a graphics control extension can hold.
const maxDelay = 0xFFFF

// maxLoopCount is the largest NETSCAPE2.0 repeat count.
const maxLoopCount = 0xFFFF

// clampLoopCount clamps a loop count to [0, maxLoopCount].
func clampLoopCount(v int) int {
	if v < 0 {
		return 0
	}
	if v > maxLoopCount {
		return maxLoopCount
	}
	return v
}

// Canvas returns the canvas rectangle.
func (a *Animation) Canvas() image.Rectangle {
	return image.Rect(0, 0, a.CanvasWidth, a.CanvasHeight)
}

// TotalDuration returns the sum of all frame durations.
func (a *Animation) TotalDuration() time.Duration {
	var total time.Duration
	for i := range a.Frames {
		total += a.Frames[i].Duration
	}
	return total
}

// PaletteAt returns the palette in effect at frame: the one with the
// highest Frame not after it. Frames before the first palette use the
// first one. It returns nil when there are no palettes.
func (a *Animation) PaletteAt(frame int) *palette.Palette {
	if len(a.Palettes) == 0 {
		return nil
	}
	i := sort.Search(len(a.Palettes), func(i int) bool { return a.Palettes[i].Frame > frame })
	if i == 0 {
		return a.Palettes[0]
	}
	return a.Palettes[i-1]
}

// SetPalette installs p for its frame, replacing any palette that starts
// at the same frame.
func (a *Animation) SetPalette(p *palette.Palette) {
	i := sort.Search(len(a.Palettes), func(i int) bool { return a.Palettes[i].Frame >= p.Frame })
	if i < len(a.Palettes) && a.Palettes[i].Frame == p.Frame {
		a.Palettes[i] = p
		return
	}
	a.Palettes = append(a.Palettes, nil)
	copy(a.Palettes[i+1:], a.Palettes[i:])
	a.Palettes[i] = p
}

// transparent returns the index rendered as transparent, or -1.
func (a *Animation) transparent() int {
	if a.Opaque || a.Format != Indexed {
		return -1
	}
	return a.TransparentIndex
}

// RenderFrame returns frame i as a canvas-sized NRGBA image. Indexed
// frames are looked up in the palette in effect at i.
func (a *Animation) RenderFrame(i int) (*image.NRGBA, error) {
	dst := image.NewNRGBA(a.Canvas())
	if err := a.renderFrame(i, a.Canvas(), dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// renderFrame draws the r part of frame i into dst, which must be at
// least r's size.
func (a *Animation) renderFrame(i int, r image.Rectangle, dst *image.NRGBA) error {
	if i < 0 || i >= len(a.Frames) {
		return ErrFrameRange
	}
	img := a.Frames[i].Image
	if img == nil {
		return ErrNilImage
	}
	var pal *palette.Palette
	if _, ok := img.(*image.Paletted); ok && a.Format == Indexed {
		pal = a.PaletteAt(i)
	}
	renderInto(dst, img, r.Add(img.Bounds().Min), pal, a.transparent())
	return nil
}

// validate checks the fields the encoder relies on.
func (a *Animation) validate() error {
	if len(a.Frames) == 0 {
		return ErrNoFrames
	}
	if a.CanvasWidth <= 0 || a.CanvasHeight <= 0 || a.CanvasWidth > 0xFFFF || a.CanvasHeight > 0xFFFF {
		return ErrEmptyCanvas
	}
	for i := range a.Frames {
		if a.Frames[i].Image == nil {
			return ErrNilImage
		}
	}
	for _, p := range a.Palettes {
		if a.Format == Indexed && p.Len() > palette.MaxColors {
			return ErrPaletteTooLarge
		}
	}
	return nil
}
