package animation

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/ericpauley/go-quantize/quantize"

	"github.com/deepteams/gif/internal/logging"
	"github.com/deepteams/gif/palette"
	"github.com/deepteams/gif/quant"
)

// Quantization selects how a palette is built from truecolour pixels.
type Quantization int

const (
	// QuantOctree prunes an adaptive colour octree.
	QuantOctree Quantization = iota
	// QuantRGB5A3 counts colours and splits an RGB5A3 histogram with
	// median cut.
	QuantRGB5A3
	// QuantMedianCut runs a full-precision median cut over the opaque
	// samples.
	QuantMedianCut
)

func (q Quantization) String() string {
	switch q {
	case QuantOctree:
		return "octree"
	case QuantRGB5A3:
		return "rgb5a3"
	case QuantMedianCut:
		return "mediancut"
	}
	return fmt.Sprintf("Quantization(%d)", int(q))
}

// ParseQuantization parses the names returned by Quantization.String.
func ParseQuantization(s string) (Quantization, error) {
	switch s {
	case "octree", "":
		return QuantOctree, nil
	case "rgb5a3":
		return QuantRGB5A3, nil
	case "mediancut":
		return QuantMedianCut, nil
	}
	return 0, fmt.Errorf("animation: unknown quantization %q", s)
}

// PaletteOptions configures CreatePalette.
type PaletteOptions struct {
	Quantization Quantization

	// MaxColors bounds the palette size, transparent entry included. 0
	// means 256.
	MaxColors int

	// WithAlpha keeps semi-transparent colours instead of making every
	// sample opaque.
	WithAlpha bool

	// Transparent reserves entry 0 for the transparent colour.
	Transparent bool

	// Frames lists the frames to sample; nil means all of them.
	Frames []int

	// Bounds restricts sampling to part of the canvas; empty means all.
	Bounds image.Rectangle
}

// CreatePalette builds one palette for the rendered frames of a. With the
// octree it first samples 7 bits per channel and samples again with all 8
// bits when the 7-bit tree leaves entries unused or cannot be pruned to
// the requested size. ErrQuantize is returned when both attempts fail.
func CreatePalette(ctx context.Context, a *Animation, opts PaletteOptions) (*palette.Palette, error) {
	maxColors := opts.MaxColors
	if maxColors <= 0 || maxColors > palette.MaxColors {
		maxColors = palette.MaxColors
	}
	frames, err := frameSequence(a, opts.Frames)
	if err != nil {
		return nil, err
	}
	roi := opts.Bounds.Intersect(a.Canvas())
	if opts.Bounds.Empty() {
		roi = a.Canvas()
	}
	if roi.Empty() {
		return nil, ErrEmptyCanvas
	}
	flat := image.NewNRGBA(image.Rect(0, 0, roi.Dx(), roi.Dy()))

	feed := func(fn func(*image.NRGBA)) error {
		for _, f := range frames {
			if err := ctx.Err(); err != nil {
				return err
			}
			clear(flat.Pix)
			if err := a.renderFrame(f, roi, flat); err != nil {
				return err
			}
			fn(flat)
		}
		return nil
	}

	if opts.Quantization == QuantRGB5A3 {
		o := quant.NewOptimizer(opts.WithAlpha)
		if err := feed(func(img *image.NRGBA) { o.FeedWithImage(img) }); err != nil {
			return nil, err
		}
		pal := palette.New(0, maxColors)
		mask := -1
		if opts.Transparent {
			mask = 0
		}
		o.Calculate(pal, mask)
		return pal, nil
	}

	if opts.Quantization == QuantMedianCut {
		var samples []uint8
		err := feed(func(img *image.NRGBA) {
			for i := 0; i < len(img.Pix); i += 4 {
				if img.Pix[i+3] == 0 {
					continue
				}
				alpha := img.Pix[i+3]
				if !opts.WithAlpha {
					alpha = 0xff
				}
				samples = append(samples, img.Pix[i], img.Pix[i+1], img.Pix[i+2], alpha)
			}
		})
		if err != nil {
			return nil, err
		}
		return medianCut(samples, maxColors, opts.Transparent)
	}

	for _, depth := range []int{quant.DefaultDepth, quant.MaxDepth} {
		o := quant.NewOctree()
		if opts.Transparent {
			o.SetMaskColor(color.NRGBA{})
		}
		if err := feed(func(img *image.NRGBA) { o.FeedWithImage(img, opts.WithAlpha, depth) }); err != nil {
			return nil, err
		}
		if pal, ok := o.MakePalette(maxColors, depth); ok {
			return pal, nil
		}
		logging.L().Debug("gif: octree palette rejected", "colors", maxColors, "depth", depth)
	}
	return nil, ErrQuantize
}

// medianCut builds a palette from NRGBA samples, reserving entry 0 for
// the transparent colour when transparent is set.
func medianCut(samples []uint8, maxColors int, transparent bool) (*palette.Palette, error) {
	pal := palette.New(0, 0)
	n := maxColors
	if transparent {
		pal.Append(color.NRGBA{})
		n--
	}
	if n < 1 {
		return nil, ErrQuantize
	}
	if len(samples) == 0 {
		return pal, nil
	}
	img := &image.NRGBA{Pix: samples, Stride: len(samples), Rect: image.Rect(0, 0, len(samples)/4, 1)}
	for _, c := range (quantize.MedianCutQuantizer{}).Quantize(make(color.Palette, 0, n), img) {
		pal.Append(color.NRGBAModel.Convert(c).(color.NRGBA))
	}
	return pal, nil
}

// frameSequence validates a frame list, defaulting to every frame.
func frameSequence(a *Animation, frames []int) ([]int, error) {
	if frames == nil {
		frames = make([]int, len(a.Frames))
		for i := range frames {
			frames[i] = i
		}
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	for _, f := range frames {
		if f < 0 || f >= len(a.Frames) {
			return nil, fmt.Errorf("%w: %d", ErrFrameRange, f)
		}
	}
	return frames, nil
}
