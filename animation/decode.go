package animation

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"io/fs"
	"time"

	"github.com/deepteams/gif/internal/container"
	"github.com/deepteams/gif/internal/logging"
	"github.com/deepteams/gif/palette"
	"github.com/deepteams/gif/quant"
)

// DecodeOptions configures a Decoder. The zero value decodes every frame.
type DecodeOptions struct {
	// OneFrame stops after the first image, for thumbnails.
	OneFrame bool

	// Progress, when non-nil, receives the fraction of the input consumed
	// after each record. It is only called when the input size is known
	// (the reader has a Size or Stat method).
	Progress func(float64)
}

// Decoder turns a GIF stream into an Animation.
//
// GIF frames are composed over RGB output, and every frame may bring its
// own colour table, so the combined picture can use far more than 256
// colours. The decoder keeps the animation Indexed by merging each frame's
// colour table into a running palette, and switches the whole animation
// to RGB once that palette outgrows 256 entries.
type Decoder struct {
	src      io.Reader
	opts     DecodeOptions
	size     int64
	canceled bool

	r      *container.Reader
	screen container.ScreenDesc
	anim   *Animation

	frameNum         int
	opaque           bool
	bgIndex          int
	disposal         DisposalMethod
	localTransparent int
	delay            int
	remap            palette.Remap

	// Colour table bookkeeping for the final remap to the file's order.
	hasLocalColorMaps bool
	firstLocal        container.ColorMap

	// Canvas before and after the current frame. Only one pair is live,
	// depending on the animation format.
	curIdx, prevIdx *image.Paletted
	curRGB, prevRGB *image.NRGBA
}

// NewDecoder returns a decoder reading from r. A nil opts means defaults.
func NewDecoder(r io.Reader, opts *DecodeOptions) *Decoder {
	d := &Decoder{src: r, size: streamSize(r)}
	if opts != nil {
		d.opts = *opts
	}
	return d
}

func streamSize(r io.Reader) int64 {
	switch s := r.(type) {
	case interface{ Size() int64 }:
		return s.Size()
	case interface{ Stat() (fs.FileInfo, error) }:
		if fi, err := s.Stat(); err == nil && fi.Mode().IsRegular() {
			return fi.Size()
		}
	}
	return 0
}

// Canceled reports whether the last Decode stopped because ctx was done.
func (d *Decoder) Canceled() bool { return d.canceled }

// Decode reads the whole stream. If ctx is cancelled between records the
// frames read so far are returned with a nil error and Canceled reports
// true. Malformed input fails the whole decode with a nil Animation.
func (d *Decoder) Decode(ctx context.Context) (*Animation, error) {
	r, err := container.NewReader(d.src)
	if err != nil {
		return nil, err
	}
	d.r = r
	d.screen = r.Screen()
	d.canceled = false
	d.frameNum = 0
	d.bgIndex = d.screen.BackgroundIndex
	d.resetExtension()
	d.anim = nil
	loopCount := -1

	log := logging.L()
	log.Debug("gif: screen",
		"width", d.screen.Width, "height", d.screen.Height,
		"background", d.bgIndex, "global_colors", len(d.screen.ColorMap))

	for {
		rt, err := r.ReadRecordType()
		if err != nil {
			return nil, err
		}
		if rt == container.RecordTerminate {
			break
		}
		switch rt {
		case container.RecordImageDesc:
			if err := d.readImage(); err != nil {
				return nil, fmt.Errorf("animation: frame %d: %w", d.frameNum, err)
			}
		case container.RecordExtension:
			ext, err := r.ReadExtension()
			if err != nil {
				return nil, err
			}
			if n, ok := ext.LoopCount(); ok {
				loopCount = n
			}
			d.readExtension(ext)
		}

		if d.opts.OneFrame && d.frameNum > 0 {
			break
		}
		if ctx.Err() != nil {
			d.canceled = true
			break
		}
		if d.opts.Progress != nil && d.size > 0 {
			d.opts.Progress(float64(r.Offset()) / float64(d.size))
		}
	}

	if d.anim == nil {
		return nil, ErrNoFrames
	}
	d.anim.LoopCount = loopCount
	if err := d.finish(); err != nil {
		return nil, err
	}
	return d.anim, nil
}

func (d *Decoder) resetExtension() {
	d.disposal = DisposalNone
	d.localTransparent = -1
	d.delay = 1
}

func (d *Decoder) readExtension(ext container.Extension) {
	if ext.Label != container.LabelGraphicsControl {
		return
	}
	gc, err := ext.GraphicsControl()
	if err != nil {
		return
	}
	d.disposal = DisposalMethod(gc.Disposal)
	d.localTransparent = gc.TransparentIndex
	d.delay = gc.Delay
	logging.L().Debug("gif: graphics control",
		"frame", d.frameNum, "disposal", d.disposal,
		"transparent", d.localTransparent, "delay", d.delay)
}

func (d *Decoder) readImage() error {
	desc, err := d.r.ReadImageDesc()
	if err != nil {
		return err
	}
	bounds := desc.Bounds()

	if d.anim == nil {
		d.createAnimation(desc)
	}

	var frameImg *image.Paletted
	if !bounds.Empty() {
		frameImg = image.NewPaletted(image.Rect(0, 0, desc.Width, desc.Height), nil)
		if err := d.r.ReadPixels(frameImg.Pix, frameImg.Stride); err != nil {
			return err
		}
	}

	if d.frameNum == 0 {
		d.opaque = d.localTransparent < 0
		d.anim.Opaque = d.opaque
	}

	if frameImg != nil && d.anim.PaletteAt(d.frameNum).Len() <= palette.MaxColors {
		if err := d.updatePalette(frameImg, desc); err != nil {
			return err
		}
	}

	if d.anim.Format == Indexed && d.anim.PaletteAt(d.frameNum).Len() > palette.MaxColors {
		logging.L().Info("gif: converting to RGB",
			"frame", d.frameNum, "colors", d.anim.PaletteAt(d.frameNum).Len())
		d.promoteToRGB()
	}

	if frameImg != nil {
		if d.anim.Format == Indexed {
			d.compositeIndexed(bounds, frameImg)
		} else if err := d.compositeRGB(bounds, frameImg, desc); err != nil {
			return err
		}
	}

	d.addFrame()
	d.dispose(bounds)

	if d.anim.Format == Indexed {
		copy(d.prevIdx.Pix, d.curIdx.Pix)
	} else {
		copy(d.prevRGB.Pix, d.curRGB.Pix)
	}

	d.anim.Frames[d.frameNum].Duration = time.Duration(d.delay*10) * time.Millisecond

	logging.L().Debug("gif: frame",
		"frame", d.frameNum, "bounds", bounds, "interlace", desc.Interlace,
		"local_colors", len(desc.ColorMap), "disposal", d.disposal)

	d.resetExtension()
	d.frameNum++
	return nil
}

// createAnimation sets up the Indexed animation and its canvases on the
// first image descriptor. A screen without a size takes the size of the
// first image.
func (d *Decoder) createAnimation(desc container.ImageDesc) {
	w, h := d.screen.Width, d.screen.Height
	if w == 0 || h == 0 {
		b := desc.Bounds()
		w, h = b.Max.X, b.Max.Y
	}
	cm := d.screen.ColorMap
	if cm == nil {
		cm = desc.ColorMap
	}
	ncolors := max(len(cm), 1)

	d.anim = &Animation{
		Format:           Indexed,
		CanvasWidth:      w,
		CanvasHeight:     h,
		TransparentIndex: d.bgIndex,
	}
	d.anim.SetPalette(palette.New(0, ncolors))

	canvas := image.Rect(0, 0, w, h)
	d.curIdx = image.NewPaletted(canvas, nil)
	d.prevIdx = image.NewPaletted(canvas, nil)
	fillIndex(d.curIdx, canvas, uint8(d.bgIndex))
	fillIndex(d.prevIdx, canvas, uint8(d.bgIndex))
}

// frameColorMap returns the colour table of the current image and keeps
// track of whether local tables differ from the global one.
func (d *Decoder) frameColorMap(desc container.ImageDesc) (container.ColorMap, error) {
	global := d.screen.ColorMap
	cm := desc.ColorMap
	if cm == nil {
		cm = global
	} else if !d.hasLocalColorMaps {
		if global == nil {
			if d.firstLocal == nil {
				d.firstLocal = append(container.ColorMap(nil), cm...)
			}
			global = d.firstLocal
		}
		if !sameColorMap(global, cm) {
			d.hasLocalColorMaps = true
		}
	}
	if cm == nil {
		return nil, container.ErrNoColorMap
	}
	return cm, nil
}

func sameColorMap(a, b container.ColorMap) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// updatePalette merges the colours used by the current image into the
// running palette and fills d.remap from image indexes to palette entries.
//
// Frame 0 seeds the palette: with the whole global table when the image
// has no local one, otherwise with only the entries the image uses. Later
// frames start from a copy of the previous palette and append the colours
// it lacks. Once an entry lands past 255 the merge stops, since the
// animation is about to become RGB.
func (d *Decoder) updatePalette(img *image.Paletted, desc container.ImageDesc) error {
	cm, err := d.frameColorMap(desc)
	if err != nil {
		return err
	}
	ncolors := len(cm)
	isLocal := desc.ColorMap != nil
	lt := d.localTransparent

	used := palette.NewPicks(ncolors)
	extraEntry := 0
	if d.frameNum == 0 && !isLocal {
		used.All()
	} else {
		for _, i := range img.Pix {
			if int(i) < ncolors {
				used[i] = true
			}
		}
		// A later frame's transparent index just shows what is
		// underneath, so its colour is not needed.
		if lt >= 0 && lt < ncolors && d.frameNum > 0 {
			used[lt] = false
		}
	}
	// A transparent animation always needs its transparent entry, even if
	// no pixel ends up using it.
	if d.frameNum == 0 && !d.opaque {
		if lt < ncolors {
			used[lt] = true
		} else {
			extraEntry = 1
		}
	}

	d.remap = palette.NewRemap()

	if d.frameNum == 0 {
		pal := palette.New(0, used.Count()+extraEntry)
		j := 0
		for i := 0; i < ncolors; i++ {
			if !used[i] {
				continue
			}
			pal.Set(j, cm[i])
			d.remap.Map(i, j)
			j++
		}
		if !d.opaque {
			// The transparent entry is where its colour landed in the
			// compacted palette, or an extra entry past the used ones.
			if lt < ncolors {
				d.bgIndex = d.remap.At(lt)
			} else {
				d.bgIndex = pal.Len() - 1
				d.remap.Map(lt, d.bgIndex)
				logging.L().Warn("gif: transparent index outside the color table",
					"index", lt, "colors", ncolors)
			}
			canvas := d.anim.Canvas()
			fillIndex(d.curIdx, canvas, uint8(d.bgIndex))
			fillIndex(d.prevIdx, canvas, uint8(d.bgIndex))
		}
		d.anim.TransparentIndex = d.bgIndex
		d.anim.SetPalette(pal)
		return nil
	}

	prev := d.anim.PaletteAt(d.frameNum - 1)
	pal := prev.Clone()
	pal.Frame = d.frameNum
	mask := d.bgIndex
	if d.opaque {
		mask = -1
	}
	for i := 0; i < ncolors; i++ {
		if !used[i] {
			continue
		}
		c := cm[i]
		if i < pal.Len() && (i != d.bgIndex || d.opaque) && c == pal.At(i) {
			continue
		}
		j := pal.FindExactMatch(c, mask)
		if j < 0 {
			pal.Append(c)
			j = pal.Len() - 1
		}
		if j >= palette.MaxColors {
			break
		}
		d.remap.Map(i, j)
	}
	if !pal.Equal(prev) {
		d.anim.SetPalette(pal)
	}
	return nil
}

func (d *Decoder) compositeIndexed(bounds image.Rectangle, img *image.Paletted) {
	clip := bounds.Intersect(d.anim.Canvas())
	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		src := img.Pix[img.PixOffset(clip.Min.X-bounds.Min.X, y-bounds.Min.Y):]
		dst := d.curIdx.Pix[d.curIdx.PixOffset(clip.Min.X, y):]
		for x := 0; x < clip.Dx(); x++ {
			i := src[x]
			if int(i) == d.localTransparent {
				continue
			}
			dst[x] = d.remap[i]
		}
	}
}

func (d *Decoder) compositeRGB(bounds image.Rectangle, img *image.Paletted, desc container.ImageDesc) error {
	cm, err := d.frameColorMap(desc)
	if err != nil {
		return err
	}
	clip := bounds.Intersect(d.anim.Canvas())
	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		src := img.Pix[img.PixOffset(clip.Min.X-bounds.Min.X, y-bounds.Min.Y):]
		dst := d.curRGB.Pix[d.curRGB.PixOffset(clip.Min.X, y):]
		for x := 0; x < clip.Dx(); x++ {
			i := int(src[x])
			if i == d.localTransparent {
				continue
			}
			c := color.NRGBA{A: 0xff}
			if i < len(cm) {
				c = cm[i]
			}
			dst[x*4+0], dst[x*4+1], dst[x*4+2], dst[x*4+3] = c.R, c.G, c.B, 0xff
		}
	}
	return nil
}

// addFrame stores a copy of the current canvas as the next frame.
func (d *Decoder) addFrame() {
	var img image.Image
	if d.anim.Format == Indexed {
		c := image.NewPaletted(d.curIdx.Rect, nil)
		copy(c.Pix, d.curIdx.Pix)
		img = c
	} else {
		c := image.NewNRGBA(d.curRGB.Rect)
		copy(c.Pix, d.curRGB.Pix)
		img = c
	}
	d.anim.Frames = append(d.anim.Frames, Frame{Image: img})
}

// dispose applies the current frame's disposal to the canvas the next
// frame starts from.
func (d *Decoder) dispose(bounds image.Rectangle) {
	r := bounds.Intersect(d.anim.Canvas())
	if r.Empty() {
		return
	}
	switch d.disposal {
	case RestoreBackground:
		if d.anim.Format == Indexed {
			fillIndex(d.curIdx, r, uint8(d.bgIndex))
		} else {
			fillNRGBA(d.curRGB, r, d.backgroundColor())
		}
	case RestorePrevious:
		if d.anim.Format == Indexed {
			for y := r.Min.Y; y < r.Max.Y; y++ {
				i := d.curIdx.PixOffset(r.Min.X, y)
				copy(d.curIdx.Pix[i:i+r.Dx()], d.prevIdx.Pix[i:i+r.Dx()])
			}
		} else {
			for y := r.Min.Y; y < r.Max.Y; y++ {
				i := d.curRGB.PixOffset(r.Min.X, y)
				copy(d.curRGB.Pix[i:i+4*r.Dx()], d.prevRGB.Pix[i:i+4*r.Dx()])
			}
		}
	}
}

// backgroundColor is the RGB fill for RestoreBackground: transparent, or
// the global background entry for opaque animations.
func (d *Decoder) backgroundColor() color.NRGBA {
	if !d.opaque {
		return color.NRGBA{}
	}
	if d.bgIndex < len(d.screen.ColorMap) {
		return d.screen.ColorMap[d.bgIndex]
	}
	return color.NRGBA{A: 0xff}
}

// promoteToRGB converts every frame decoded so far and both canvases to
// RGB. It happens at most once per decode.
func (d *Decoder) promoteToRGB() {
	mask := d.bgIndex
	if d.opaque {
		mask = -1
	}
	toRGB := func(img *image.Paletted, pal *palette.Palette) *image.NRGBA {
		dst := image.NewNRGBA(img.Rect)
		renderInto(dst, img, img.Rect, pal, mask)
		return dst
	}
	for i := range d.anim.Frames {
		d.anim.Frames[i].Image = toRGB(d.anim.Frames[i].Image.(*image.Paletted), d.anim.PaletteAt(i))
	}
	d.curRGB = toRGB(d.curIdx, d.anim.PaletteAt(d.frameNum))
	d.prevRGB = toRGB(d.prevIdx, d.anim.PaletteAt(max(0, d.frameNum-1)))
	d.curIdx, d.prevIdx = nil, nil
	d.anim.Format = RGB
	d.anim.TransparentIndex = 0
}

// finish runs the end-of-stream palette fixes.
func (d *Decoder) finish() error {
	a := d.anim
	// The transparent entry must exist in every palette.
	for _, p := range a.Palettes {
		if d.bgIndex >= p.Len() {
			p.Resize(d.bgIndex + 1)
		}
	}

	switch a.Format {
	case Indexed:
		global := d.screen.ColorMap
		if global == nil {
			global = d.firstLocal
		}
		last := a.Palettes[len(a.Palettes)-1]
		if global != nil && len(global) >= last.Len() && !d.hasLocalColorMaps {
			d.remapToGlobalColorMap(global, last)
		}
		for i := range a.Frames {
			img := a.Frames[i].Image.(*image.Paletted)
			img.Palette = a.PaletteAt(i).ColorPalette(a.transparent())
		}
	case RGB:
		if p := a.Palettes[len(a.Palettes)-1]; p.Len() > palette.MaxColors {
			return d.reduceToAnOptimizedPalette(p)
		}
	}
	return nil
}

// remapToGlobalColorMap restores the file's colour table order, which the
// used-entries merge discards. The transparent entry follows its colour.
func (d *Decoder) remapToGlobalColorMap(global container.ColorMap, old *palette.Palette) {
	newPal := palette.FromColors(0, global)
	r := palette.CreateRemapToChangePalette(old, newPal, d.bgIndex, true)
	if !r.IsIdentity() {
		for i := range d.anim.Frames {
			r.Apply(d.anim.Frames[i].Image.(*image.Paletted).Pix)
		}
	}
	d.bgIndex = r.At(d.bgIndex)
	d.anim.TransparentIndex = d.bgIndex
	d.anim.Palettes = []*palette.Palette{newPal}
	logging.L().Debug("gif: remapped to global color table", "colors", len(global))
}

// reduceToAnOptimizedPalette replaces an RGB animation's oversized palette
// with at most 256 representative colours.
func (d *Decoder) reduceToAnOptimizedPalette(p *palette.Palette) error {
	o := quant.NewOctree()
	for _, c := range p.Colors() {
		o.AddColor(c, quant.MaxDepth)
	}
	pal, ok := o.MakePalette(palette.MaxColors, quant.MaxDepth)
	if !ok {
		return fmt.Errorf("%w: reducing %d colours", ErrQuantize, p.Len())
	}
	d.anim.Palettes = []*palette.Palette{pal}
	logging.L().Info("gif: reduced palette", "from", p.Len(), "to", pal.Len())
	return nil
}

func fillIndex(img *image.Paletted, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		i := img.PixOffset(r.Min.X, y)
		row := img.Pix[i : i+r.Dx()]
		for x := range row {
			row[x] = v
		}
	}
}

func fillNRGBA(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		i := img.PixOffset(r.Min.X, y)
		row := img.Pix[i : i+4*r.Dx()]
		for x := 0; x < len(row); x += 4 {
			row[x], row[x+1], row[x+2], row[x+3] = c.R, c.G, c.B, c.A
		}
	}
}
