// Package animation holds the sprite model shared by the GIF decoder and
// encoder and the codec itself.
//
// An Animation is a fixed-size canvas with a sequence of full-canvas
// frames, each already composited over the ones before it. Frames are
// stored in one of three pixel formats; Indexed frames reference the
// palette in effect at their frame number. Decoder turns a GIF stream into
// an Animation, keeping it Indexed while the merged palette fits in 256
// entries. Encoder does the reverse, choosing per-frame dirty rectangles,
// disposal methods and colour tables.
package animation

import (
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"

	"github.com/deepteams/gif/palette"
)

// PixelFormat is the storage format of an animation's frames.
type PixelFormat int

const (
	// Indexed frames are *image.Paletted holding palette indexes.
	Indexed PixelFormat = iota
	// RGB frames are *image.NRGBA.
	RGB
	// Grayscale frames are *image.Gray or *image.Gray16.
	Grayscale
)

func (f PixelFormat) String() string {
	switch f {
	case Indexed:
		return "indexed"
	case RGB:
		return "rgb"
	case Grayscale:
		return "grayscale"
	}
	return "unknown"
}

// DisposalMethod says what happens to a frame's area before the next frame
// is drawn. The values match the GIF graphics control extension.
type DisposalMethod int

const (
	// DisposalNone leaves the canvas alone (decoders treat it like
	// DoNotDispose).
	DisposalNone DisposalMethod = 0
	// DoNotDispose keeps the frame as the base of the next one.
	DoNotDispose DisposalMethod = 1
	// RestoreBackground clears the frame rectangle to the background,
	// which for transparent animations is the transparent colour.
	RestoreBackground DisposalMethod = 2
	// RestorePrevious puts back what was under the frame rectangle.
	RestorePrevious DisposalMethod = 3
)

func (d DisposalMethod) String() string {
	switch d {
	case DisposalNone:
		return "none"
	case DoNotDispose:
		return "do-not-dispose"
	case RestoreBackground:
		return "restore-background"
	case RestorePrevious:
		return "restore-previous"
	}
	return "reserved"
}

// Frame is one canvas-sized image of an animation.
type Frame struct {
	// Image covers the whole canvas. Its type follows the animation's
	// PixelFormat; the encoder accepts any image.Image and renders it.
	Image image.Image

	// Duration is how long the frame is shown. GIF stores it in
	// hundredths of a second.
	Duration time.Duration
}

// toNRGBA returns src as an NRGBA image with its origin at (0, 0). The
// result shares no memory with src.
func toNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	renderInto(dst, src, b, nil, -1)
	return dst
}

// renderInto draws the r part of src at the origin of dst, overwriting it.
// Paletted sources are looked up in pal when it is non-nil, with entry
// transparent (if >= 0) rendered fully transparent. NRGBA sources are
// copied byte for byte so semi-transparent pixels keep their exact value;
// everything else goes through draw.Draw.
func renderInto(dst *image.NRGBA, src image.Image, r image.Rectangle, pal *palette.Palette, transparent int) {
	r = r.Intersect(src.Bounds())
	if r.Empty() {
		return
	}
	w, h := r.Dx(), r.Dy()
	switch s := src.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			si := s.PixOffset(r.Min.X, r.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w*4], s.Pix[si:si+w*4])
		}
		return
	case *image.Paletted:
		colors := paletteLookup(s, pal, transparent)
		for y := 0; y < h; y++ {
			si := s.PixOffset(r.Min.X, r.Min.Y+y)
			row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
			for x, idx := range s.Pix[si : si+w] {
				c := colors[idx]
				row[x*4+0] = c.R
				row[x*4+1] = c.G
				row[x*4+2] = c.B
				row[x*4+3] = c.A
			}
		}
		return
	}
	draw.Draw(dst, image.Rect(0, 0, w, h), src, r.Min, draw.Src)
}

// paletteLookup builds a full 256-entry table for a paletted image. Indexes
// past the end of the palette render as transparent black.
func paletteLookup(img *image.Paletted, pal *palette.Palette, transparent int) *[palette.MaxColors]color.NRGBA {
	var t [palette.MaxColors]color.NRGBA
	if pal != nil {
		for i := 0; i < pal.Len() && i < palette.MaxColors; i++ {
			t[i] = pal.At(i)
		}
	} else {
		for i, c := range img.Palette {
			if i >= palette.MaxColors {
				break
			}
			t[i] = colorToNRGBA(c)
		}
	}
	if transparent >= 0 && transparent < palette.MaxColors {
		t[transparent] = color.NRGBA{}
	}
	return &t
}

// colorToNRGBA converts any color.Color to an NRGBA value.
func colorToNRGBA(c color.Color) color.NRGBA {
	if nrgba, ok := c.(color.NRGBA); ok {
		return nrgba
	}
	return color.NRGBAModel.Convert(c).(color.NRGBA)
}
