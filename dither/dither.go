// Package dither converts truecolor images to palette indexes.
//
// Two families of strategy are provided. Ordered and Ordered2 decide each
// pixel on its own using a tileable threshold Matrix such as Bayer(8).
// ErrorDiffusion walks the image in raster order (optionally serpentine)
// and pushes each pixel's quantization error onto its unprocessed
// neighbours through a Kernel.
//
// ToIndexed drives any strategy over a whole image. The strategy is chosen
// once per call; the per-pixel loop is specialised for each family.
package dither

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/deepteams/gif/palette"
)

// RGBMap answers nearest palette index queries. quant.Octree implements it.
type RGBMap interface {
	MapColor(c color.NRGBA) int
}

// Algorithm is the capability set shared by every strategy. Start resets
// all per-image state; Finish releases it.
type Algorithm interface {
	Start(src *image.NRGBA, dst *image.Paletted, factor float64)
	Finish()
}

// PixelDitherer decides one pixel from its colour, position and a matrix.
type PixelDitherer interface {
	Algorithm
	DitherRGBPixelToIndex(m Matrix, c color.NRGBA, x, y int, rgbmap RGBMap, pal *palette.Palette) int
}

// Ditherer2D needs the whole image to decide a pixel.
type Ditherer2D interface {
	Algorithm
	DitherRGBToIndex2D(x, y int, rgbmap RGBMap, pal *palette.Palette) int
	// ZigZag reports whether odd rows are scanned right to left.
	ZigZag() bool
}

// Kind selects a strategy family.
type Kind int

const (
	None Kind = iota
	Ordered2Kind
	OrderedKind
	ErrorDiffusionKind
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Ordered2Kind:
		return "ordered"
	case OrderedKind:
		return "old"
	case ErrorDiffusionKind:
		return "error-diffusion"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Dithering is the per-call configuration of a dithering pass.
type Dithering struct {
	Kind      Kind
	Matrix    Matrix        // thresholds for Ordered and Ordered2
	Factor    float64       // strength in [0, 1]
	Diffusion DiffusionKind // kernel for ErrorDiffusionKind
	ZigZag    bool          // serpentine scan for ErrorDiffusionKind
}

// DefaultDithering returns an 8x8 Bayer ordered dither at full strength.
func DefaultDithering() Dithering {
	return Dithering{Kind: Ordered2Kind, Matrix: MustBayer(8), Factor: 1}
}

// NewAlgorithm builds the strategy d selects. It returns nil for None.
// transparentIndex is the palette entry used for fully transparent pixels,
// or -1 when the destination is opaque.
func (d Dithering) NewAlgorithm(transparentIndex int) Algorithm {
	switch d.Kind {
	case OrderedKind:
		return NewOrdered(transparentIndex)
	case Ordered2Kind:
		return NewOrdered2(transparentIndex)
	case ErrorDiffusionKind:
		return NewErrorDiffusion(KernelFor(d.Diffusion), transparentIndex, d.ZigZag)
	}
	return nil
}

// ToIndexed writes into dst the palette index of every pixel of src. dst
// must have the same size as src. A nil alg maps each pixel to its nearest
// colour without dithering. rgbmap may be nil, in which case pal is
// searched directly. progress, when non-nil, receives the completed
// fraction after each row. Cancellation is checked once per row and
// returns the context error.
func ToIndexed(ctx context.Context, alg Algorithm, d Dithering, src *image.NRGBA, dst *image.Paletted, rgbmap RGBMap, pal *palette.Palette, progress func(float64)) error {
	sb := src.Bounds()
	if sb.Dx() != dst.Rect.Dx() || sb.Dy() != dst.Rect.Dy() {
		return fmt.Errorf("dither: size mismatch %v vs %v", sb, dst.Rect)
	}
	w, h := sb.Dx(), sb.Dy()

	report := func(y int) {
		if progress != nil {
			progress(float64(y+1) / float64(h))
		}
	}

	switch a := alg.(type) {
	case nil:
		for y := 0; y < h; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			s := src.Pix[y*src.Stride : y*src.Stride+w*4]
			o := dst.Pix[y*dst.Stride : y*dst.Stride+w]
			for x := range o {
				c := color.NRGBA{R: s[x*4], G: s[x*4+1], B: s[x*4+2], A: s[x*4+3]}
				o[x] = uint8(mapColor(rgbmap, pal, c, -1))
			}
			report(y)
		}
		return nil

	case Ditherer2D:
		a.Start(src, dst, d.Factor)
		defer a.Finish()
		zigzag := a.ZigZag()
		for y := 0; y < h; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			o := dst.Pix[y*dst.Stride : y*dst.Stride+w]
			if zigzag && y&1 == 1 {
				for x := w - 1; x >= 0; x-- {
					o[x] = uint8(a.DitherRGBToIndex2D(x, y, rgbmap, pal))
				}
			} else {
				for x := 0; x < w; x++ {
					o[x] = uint8(a.DitherRGBToIndex2D(x, y, rgbmap, pal))
				}
			}
			report(y)
		}
		return nil

	case PixelDitherer:
		a.Start(src, dst, d.Factor)
		defer a.Finish()
		for y := 0; y < h; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			s := src.Pix[y*src.Stride : y*src.Stride+w*4]
			o := dst.Pix[y*dst.Stride : y*dst.Stride+w]
			for x := range o {
				c := color.NRGBA{R: s[x*4], G: s[x*4+1], B: s[x*4+2], A: s[x*4+3]}
				o[x] = uint8(a.DitherRGBPixelToIndex(d.Matrix, c, x, y, rgbmap, pal))
			}
			report(y)
		}
		return nil
	}
	return fmt.Errorf("dither: unsupported algorithm %T", alg)
}

func mapColor(rgbmap RGBMap, pal *palette.Palette, c color.NRGBA, mask int) int {
	if rgbmap != nil {
		return rgbmap.MapColor(c)
	}
	return pal.FindBestFit(c, mask)
}

func clamp255(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
