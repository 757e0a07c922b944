package animation

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"slices"
	"time"

	"github.com/deepteams/gif/colorspace"
	"github.com/deepteams/gif/dither"
	"github.com/deepteams/gif/internal/container"
	"github.com/deepteams/gif/internal/logging"
	"github.com/deepteams/gif/internal/pool"
	"github.com/deepteams/gif/palette"
	"github.com/deepteams/gif/quant"
)

// EncodeOptions configures an Encoder.
type EncodeOptions struct {
	// Interlaced stores every image in four-pass interlaced row order.
	Interlaced bool

	// Loop writes a NETSCAPE2.0 extension with LoopCount (0 loops
	// forever). Without it viewers play the animation once.
	Loop      bool
	LoopCount int

	// PreservePaletteOrder writes the frames' palette indexes untouched
	// with a global colour table. It only applies to Indexed animations
	// with one palette and is implied for opaque ones.
	PreservePaletteOrder bool

	// FixLastFrameDuration shortens the last frame to a quarter of its
	// delay and raises every delay to at least 2 hundredths, the
	// smallest value browsers honour.
	FixLastFrameDuration bool

	// Frames lists the frames to write in order; nil means all.
	Frames []int

	// Bounds crops the output to part of the canvas; empty means all.
	Bounds image.Rectangle

	// Quantization builds the palette when the animation needs one.
	Quantization Quantization

	// Dithering is applied when truecolour pixels are mapped to a
	// palette. Kind None maps each pixel to its nearest colour.
	Dithering dither.Dithering

	// ColorSpace converts palette colours just before they are written;
	// nil writes them as they are.
	ColorSpace colorspace.Func

	// Progress, when non-nil, receives the fraction of frames written.
	Progress func(float64)
}

// DefaultEncodeOptions returns options for a looping animation without
// dithering.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{Loop: true}
}

// Encoder writes an Animation as a GIF89a stream.
//
// Each frame is compared with the previous and the next one to find the
// smallest rectangle that must be redrawn and the disposal method that
// lets the next frame reach its transparent pixels. Unless the palette
// order is preserved, every rectangle gets a palette reduced to the
// colours it uses.
type Encoder struct {
	w        io.Writer
	anim     *Animation
	opts     EncodeOptions
	canceled bool

	cw     *container.Writer
	frames []int
	roi    image.Rectangle
	width  int
	height int

	hasBackground    bool
	preserve         bool
	bgIndex          int
	transparentIndex int
	bitsPerPixel     int
	globalPal        *palette.Palette
	globalMap        container.ColorMap
	octree           *quant.Octree

	lastBounds   image.Rectangle
	lastDisposal DisposalMethod

	// Rolling canvases: previous, current and next rendered frame.
	// Indexed copies are used when the palette order is preserved.
	rgb   [3]*image.NRGBA
	idx   [3]*image.Paletted
	delta *image.NRGBA
}

// errCanceled unwinds the frame loop when ctx is done.
var errCanceled = errors.New("animation: encode canceled")

// NewEncoder returns an encoder writing anim to w. A nil opts means
// DefaultEncodeOptions.
func NewEncoder(w io.Writer, anim *Animation, opts *EncodeOptions) *Encoder {
	e := &Encoder{w: w, anim: anim, opts: DefaultEncodeOptions()}
	if opts != nil {
		e.opts = *opts
		e.opts.Frames = slices.Clone(opts.Frames)
	}
	if e.opts.ColorSpace == nil {
		e.opts.ColorSpace = colorspace.Identity
	}
	return e
}

// Canceled reports whether the last Encode stopped because ctx was done.
func (e *Encoder) Canceled() bool { return e.canceled }

// Encode writes the whole animation. If ctx is cancelled between frames
// the frames written so far are flushed without a trailer, the error is
// nil and Canceled reports true. On a write error the buffered output is
// flushed and the error returned.
func (e *Encoder) Encode(ctx context.Context) error {
	e.canceled = false
	if err := e.anim.validate(); err != nil {
		return err
	}
	frames, err := frameSequence(e.anim, e.opts.Frames)
	if err != nil {
		return err
	}
	e.frames = frames
	e.roi = e.anim.Canvas()
	if !e.opts.Bounds.Empty() {
		e.roi = e.opts.Bounds.Intersect(e.anim.Canvas())
	}
	if e.roi.Empty() {
		return ErrEmptyCanvas
	}
	e.width, e.height = e.roi.Dx(), e.roi.Dy()
	e.cw = container.NewWriter(e.w)
	e.octree = quant.NewOctree()
	e.lastBounds = image.Rect(0, 0, e.width, e.height)
	e.lastDisposal = DisposalNone

	err = e.setup(ctx)
	if err == nil {
		err = e.writeHeader()
	}
	if err == nil {
		err = e.writeFrames(ctx)
	}
	if errors.Is(err, errCanceled) || (err != nil && ctx.Err() != nil) {
		e.canceled = true
		return e.cw.Flush()
	}
	if err != nil {
		e.cw.Flush()
		return err
	}
	return e.cw.Close()
}

// setup picks the global colour table, the background and transparent
// indexes and the kind of rolling canvas.
func (e *Encoder) setup(ctx context.Context) error {
	a := e.anim
	e.hasBackground = a.Opaque
	e.bgIndex = 0
	e.bitsPerPixel = 8
	e.globalPal, e.globalMap = nil, nil

	if a.Format == Indexed {
		bits := 1
		for _, p := range a.Palettes {
			bits = max(bits, container.BitSize(p.Len()))
		}
		e.bitsPerPixel = bits
	}

	if a.Format == Indexed && len(a.Palettes) == 1 && e.allPaletted() {
		e.globalPal = a.Palettes[0].Clone()
		e.bgIndex = min(max(a.TransparentIndex, 0), palette.MaxColors-1)
		e.preserve = e.hasBackground || e.opts.PreservePaletteOrder
	} else {
		e.preserve = false
	}

	e.transparentIndex = e.bgIndex
	if e.hasBackground {
		e.transparentIndex = -1
	}

	if e.globalPal != nil {
		found := false
		for i := 0; i < e.globalPal.Len(); i++ {
			if e.globalPal.At(i).A == 0 {
				e.transparentIndex = i
				found = true
				break
			}
		}
		// A transparent sprite whose palette has no transparent entry
		// gets a new palette with the transparent colour at 0.
		if !found && !e.preserve && !e.hasBackground {
			pal, err := CreatePalette(ctx, a, PaletteOptions{
				Quantization: e.opts.Quantization,
				Transparent:  true,
				Frames:       e.frames,
				Bounds:       e.roi,
			})
			if err != nil {
				return err
			}
			e.globalPal = pal
			e.transparentIndex = 0
		}
		e.globalMap = e.createColorMap(e.globalPal)
	}

	for i := range 3 {
		if e.preserve {
			e.idx[i] = image.NewPaletted(image.Rect(0, 0, e.width, e.height), nil)
		} else {
			e.rgb[i] = image.NewNRGBA(image.Rect(0, 0, e.width, e.height))
		}
	}
	if !e.preserve {
		e.delta = image.NewNRGBA(image.Rect(0, 0, e.width, e.height))
	}
	logging.L().Debug("gif: encoder setup",
		"frames", len(e.frames), "global", e.globalMap != nil, "preserve", e.preserve,
		"background", e.bgIndex, "transparent", e.transparentIndex, "bits", e.bitsPerPixel)
	return nil
}

// allPaletted reports whether every selected frame stores indexes.
func (e *Encoder) allPaletted() bool {
	for _, f := range e.frames {
		if _, ok := e.anim.Frames[f].Image.(*image.Paletted); !ok {
			return false
		}
	}
	return true
}

func (e *Encoder) writeHeader() error {
	err := e.cw.PutScreenDesc(container.ScreenDesc{
		Width:           e.width,
		Height:          e.height,
		ColorResolution: e.bitsPerPixel,
		BackgroundIndex: e.bgIndex,
		ColorMap:        e.globalMap,
	})
	if err != nil {
		return err
	}
	if e.opts.Loop {
		return e.cw.PutLoop(clampLoopCount(e.opts.LoopCount))
	}
	return nil
}

// writeFrames renders one frame ahead so each frame can be compared with
// its successor.
func (e *Encoder) writeFrames(ctx context.Context) error {
	n := len(e.frames)
	if err := e.render(e.frames[0], 2); err != nil {
		return err
	}
	for i := range n {
		if ctx.Err() != nil {
			return errCanceled
		}
		e.rotate()
		hasNext := i+1 < n
		if hasNext {
			if err := e.render(e.frames[i+1], 2); err != nil {
				return err
			}
		}

		var bounds image.Rectangle
		var disposal DisposalMethod
		if e.preserve {
			bounds = image.Rect(0, 0, e.width, e.height)
			disposal = RestoreBackground
		} else if i == 0 {
			bounds, disposal = e.firstFrameDelta(hasNext)
		} else {
			bounds, disposal = e.deltaFrame(hasNext)
		}
		if bounds.Empty() {
			bounds = image.Rect(0, 0, 1, 1)
		}
		e.lastDisposal = disposal

		if err := e.writeImage(ctx, e.frames[i], bounds, disposal, i == n-1); err != nil {
			return err
		}
		if e.opts.Progress != nil {
			e.opts.Progress(float64(i+1) / float64(n))
		}
	}
	return nil
}

// rotate makes next the current canvas and current the previous one.
// Slots are 0 previous, 1 current, 2 next.
func (e *Encoder) rotate() {
	if e.preserve {
		e.idx[0], e.idx[1], e.idx[2] = e.idx[1], e.idx[2], e.idx[0]
		return
	}
	e.rgb[0], e.rgb[1], e.rgb[2] = e.rgb[1], e.rgb[2], e.rgb[0]
}

// render draws the region of interest of frame f into canvas slot.
func (e *Encoder) render(f, slot int) error {
	if e.preserve {
		dst := e.idx[slot]
		for i := range dst.Pix {
			dst.Pix[i] = uint8(e.bgIndex)
		}
		src := e.anim.Frames[f].Image.(*image.Paletted)
		r := e.roi.Add(src.Rect.Min).Intersect(src.Rect)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			si := src.PixOffset(r.Min.X, y)
			di := (y - r.Min.Y) * dst.Stride
			copy(dst.Pix[di:di+r.Dx()], src.Pix[si:si+r.Dx()])
		}
		return nil
	}
	dst := e.rgb[slot]
	clear(dst.Pix)
	if err := e.anim.renderFrame(f, e.roi, dst); err != nil {
		return err
	}
	// Fully transparent pixels compare equal whatever their colour.
	for i := 0; i < len(dst.Pix); i += 4 {
		if dst.Pix[i+3] == 0 {
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = 0, 0, 0
		}
	}
	return nil
}

// firstFrameDelta writes the whole first frame. It is disposed to the
// background when a pixel it draws turns transparent in the next frame.
func (e *Encoder) firstFrameDelta(hasNext bool) (image.Rectangle, DisposalMethod) {
	cur, next := e.rgb[1], e.rgb[2]
	copy(e.delta.Pix, cur.Pix)
	disposal := DoNotDispose
	if !e.hasBackground && hasNext {
		for i := 3; i < len(cur.Pix); i += 4 {
			if cur.Pix[i] != 0 && next.Pix[i] == 0 {
				disposal = RestoreBackground
				break
			}
		}
	}
	e.lastBounds = image.Rect(0, 0, e.width, e.height)
	return e.lastBounds, disposal
}

// deltaFrame finds the rectangle of pixels that changed since the
// previous frame, plus those transparent in the next frame. Unchanged
// pixels inside it stay transparent so the previous frame shows through,
// unless either this frame or the last one is disposed to the
// background or there is no transparent entry, in which case the full
// current pixels are written.
func (e *Encoder) deltaFrame(hasNext bool) (image.Rectangle, DisposalMethod) {
	prev, cur, next := e.rgb[0], e.rgb[1], e.rgb[2]
	w := e.width

	x1, y1, x2, y2 := w-1, e.height-1, 0, 0
	if e.lastDisposal == RestoreBackground {
		x1, y1 = e.lastBounds.Min.X, e.lastBounds.Min.Y
		x2, y2 = e.lastBounds.Max.X-1, e.lastBounds.Max.Y-1
	}

	clear(e.delta.Pix)
	disposal := DoNotDispose
	matches := true
	for i := 0; i < len(cur.Pix); i += 4 {
		c := cur.Pix[i : i+4 : i+4]
		p := prev.Pix[i : i+4 : i+4]
		nextClear := hasNext && next.Pix[i+3] == 0
		changed := c[3] != 0 && (c[0] != p[0] || c[1] != p[1] || c[2] != p[2] || c[3] != p[3])
		if changed || nextClear {
			matches = false
			copy(e.delta.Pix[i:i+4], c)
			px, py := (i/4)%w, (i/4)/w
			x1, y1 = min(x1, px), min(y1, py)
			x2, y2 = max(x2, px), max(y2, py)
		}
		if c[3] != 0 && nextClear {
			disposal = RestoreBackground
		}
	}

	bounds := e.lastBounds
	if !matches {
		bounds = image.Rect(x1, y1, x2+1, y2+1)
	}
	if disposal == RestoreBackground || e.lastDisposal == RestoreBackground {
		copy(e.delta.Pix, cur.Pix)
	} else {
		disposal = DoNotDispose
		// With no transparent entry an unchanged pixel cannot show the
		// previous frame through, so it is written again.
		if e.transparentIndex < 0 {
			copy(e.delta.Pix, cur.Pix)
		}
	}
	e.lastBounds = bounds
	return bounds, disposal
}

// writeImage quantizes the bounds part of the delta canvas and writes it
// with its graphics control extension.
func (e *Encoder) writeImage(ctx context.Context, f int, bounds image.Rectangle, disposal DisposalMethod, last bool) error {
	w, h := bounds.Dx(), bounds.Dy()
	pix := pool.Get(w * h)
	defer pool.Put(pix)
	frame := &image.Paletted{Pix: pix[:w*h], Stride: w, Rect: image.Rect(0, 0, w, h)}

	colorMap := e.globalMap
	localTransparent := e.transparentIndex
	remap := palette.NewRemap()

	if e.preserve {
		src := e.idx[1]
		for y := 0; y < h; y++ {
			si := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(frame.Pix[y*w:(y+1)*w], src.Pix[si:si+w])
		}
	} else {
		framePal := e.globalPal
		if framePal == nil {
			pal, err := e.calculatePalette(bounds)
			if err != nil {
				return err
			}
			framePal = pal
		}
		ti := e.transparentIndex
		e.octree.RegenerateMap(framePal, ti)
		if err := e.mapPixels(ctx, bounds, frame, framePal, ti); err != nil {
			return err
		}

		if colorMap == nil {
			used := palette.NewPicks(framePal.Len())
			for _, p := range frame.Pix {
				if int(p) < len(used) {
					used[p] = true
				}
			}
			if !used.Has(localTransparent) {
				localTransparent = -1
			}
			reduced := palette.New(framePal.Frame, 0)
			for i := 0; i < framePal.Len(); i++ {
				if used[i] {
					remap.Map(i, reduced.Len())
					reduced.Append(framePal.At(i))
				}
			}
			colorMap = e.createColorMap(reduced)
			if localTransparent >= 0 {
				localTransparent = remap.At(localTransparent)
			}
		}
	}

	if err := e.cw.PutGraphicsControl(container.GraphicsControl{
		Disposal:         int(disposal),
		Delay:            e.delay(e.anim.Frames[f].Duration, last),
		TransparentIndex: localTransparent,
	}); err != nil {
		return err
	}

	desc := container.ImageDesc{
		Left:      bounds.Min.X,
		Top:       bounds.Min.Y,
		Width:     w,
		Height:    h,
		Interlace: e.opts.Interlaced,
	}
	if e.globalMap == nil {
		desc.ColorMap = colorMap
	}
	if err := e.cw.PutImageDesc(desc, colorMap.BitSize()); err != nil {
		return err
	}
	if !remap.IsIdentity() {
		remap.Apply(frame.Pix)
	}
	logging.L().Debug("gif: frame",
		"frame", f, "bounds", bounds, "disposal", disposal,
		"colors", len(colorMap), "transparent", localTransparent)
	return e.cw.PutPixels(frame.Pix, frame.Stride)
}

// mapPixels fills frame with palette indexes for the bounds part of the
// delta canvas. Pixels at least half opaque get their exact colour or the
// nearest one; the rest get the transparent entry, or the background
// when there is none.
func (e *Encoder) mapPixels(ctx context.Context, bounds image.Rectangle, frame *image.Paletted, pal *palette.Palette, ti int) error {
	w, h := bounds.Dx(), bounds.Dy()
	clearIndex := uint8(e.bgIndex)
	if ti >= 0 {
		clearIndex = uint8(ti)
	}
	src := e.delta.SubImage(bounds).(*image.NRGBA)

	if e.opts.Dithering.Kind != dither.None {
		sub := &image.NRGBA{Pix: src.Pix, Stride: src.Stride, Rect: image.Rect(0, 0, w, h)}
		alg := e.opts.Dithering.NewAlgorithm(ti)
		if err := dither.ToIndexed(ctx, alg, e.opts.Dithering, sub, frame, e.octree, pal, nil); err != nil {
			return err
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if sub.Pix[y*sub.Stride+x*4+3] < 128 {
					frame.Pix[y*w+x] = clearIndex
				}
			}
		}
		return nil
	}

	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := 0; x < w; x++ {
			c := color.NRGBA{row[4*x], row[4*x+1], row[4*x+2], row[4*x+3]}
			if c.A < 128 {
				frame.Pix[y*w+x] = clearIndex
				continue
			}
			c.A = 0xff
			i := pal.FindExactMatch(c, ti)
			if i < 0 {
				i = e.octree.MapColor(c)
			}
			frame.Pix[y*w+x] = uint8(i)
		}
	}
	return nil
}

// calculatePalette builds a palette for the bounds part of the delta
// canvas. When the rectangle has transparent pixels, entry 0 is reserved
// for them.
func (e *Encoder) calculatePalette(bounds image.Rectangle) (*palette.Palette, error) {
	o := quant.NewOctree()
	hasMask := false
	src := e.delta.SubImage(bounds).(*image.NRGBA)
	for y := 0; y < bounds.Dy(); y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+bounds.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			if row[x+3] == 0 {
				hasMask = true
				continue
			}
			o.AddColor(color.NRGBA{row[x], row[x+1], row[x+2], 0xff}, quant.MaxDepth)
		}
	}
	e.transparentIndex = -1
	if hasMask {
		o.SetMaskColor(color.NRGBA{})
		e.transparentIndex = 0
	}
	pal, ok := o.MakePalette(palette.MaxColors, quant.MaxDepth)
	if !ok {
		return nil, ErrQuantize
	}
	return pal, nil
}

// delay converts d to hundredths of a second, applying the last frame
// fix when enabled.
func (e *Encoder) delay(d time.Duration, last bool) int {
	v := int(d / (10 * time.Millisecond))
	if e.opts.FixLastFrameDuration {
		if last {
			v /= 4
		}
		v = max(v, 2)
	}
	return min(max(v, 0), maxDelay)
}

// createColorMap converts pal to a colour table padded with black to a
// power of two.
func (e *Encoder) createColorMap(pal *palette.Palette) container.ColorMap {
	n := 1 << container.BitSize(pal.Len())
	cm := make(container.ColorMap, n)
	for i := range cm {
		c := color.NRGBA{A: 0xff}
		if i < pal.Len() {
			c = e.opts.ColorSpace(pal.At(i))
			c.A = 0xff
		}
		cm[i] = c
	}
	return cm
}
