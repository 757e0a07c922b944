package gif

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/deepteams/gif/animation"
	"github.com/deepteams/gif/internal/container"
	"github.com/deepteams/gif/internal/logging"
	"github.com/deepteams/gif/mux"
	"github.com/deepteams/gif/palette"
)

func init() {
	image.RegisterFormat("gif", "GIF8?a", Decode, DecodeConfig)
}

// ErrNoFrames is returned when a stream or a frame list holds no image.
var ErrNoFrames = animation.ErrNoFrames

// Options configures Encode and EncodeAll.
type Options = animation.EncodeOptions

// DefaultOptions returns options for a looping animation without
// dithering.
func DefaultOptions() *Options {
	o := animation.DefaultEncodeOptions()
	return &o
}

// Features describes a GIF file's structure.
type Features struct {
	Width           int
	Height          int
	Version         string // "87a" or "89a"
	HasTransparency bool
	HasAnimation    bool
	GlobalColors    int // entries in the global colour table, 0 if absent
	LoopCount       int // 0 = infinite, -1 = no loop extension
	FrameCount      int
}

// SetLogger routes the codec's diagnostics to l. A nil logger turns
// logging off, which is the default.
func SetLogger(l *slog.Logger) { logging.Set(l) }

// Logger returns the logger set with SetLogger.
func Logger() *slog.Logger { return logging.L() }

// readAll reads all data from r. If r implements Len() int (e.g.
// *bytes.Reader), a single exact-sized allocation is used.
func readAll(r io.Reader) ([]byte, error) {
	if lr, ok := r.(interface{ Len() int }); ok {
		if n := lr.Len(); n > 0 {
			data := make([]byte, n)
			_, err := io.ReadFull(r, data)
			return data, err
		}
	}
	return io.ReadAll(r)
}

// Decode reads the first frame of a GIF image from r. The result is an
// *image.Paletted canvas, or an *image.NRGBA when the frame's colours do
// not fit one palette.
func Decode(r io.Reader) (image.Image, error) {
	a, err := animation.NewDecoder(r, &animation.DecodeOptions{OneFrame: true}).Decode(context.Background())
	if err != nil {
		return nil, fmt.Errorf("gif: %w", err)
	}
	return a.Frames[0].Image, nil
}

// DecodeConfig returns the colour model and canvas size of a GIF image
// without decoding any image data. The colour model is the global colour
// table when the file has one.
func DecodeConfig(r io.Reader) (image.Config, error) {
	cr, err := container.NewReader(r)
	if err != nil {
		return image.Config{}, fmt.Errorf("gif: %w", err)
	}
	s := cr.Screen()
	var cm color.Model = color.NRGBAModel
	if s.ColorMap != nil {
		p := make(color.Palette, len(s.ColorMap))
		for i, c := range s.ColorMap {
			p[i] = c
		}
		cm = p
	}
	return image.Config{ColorModel: cm, Width: s.Width, Height: s.Height}, nil
}

// DecodeAll reads a whole animation. A nil opts decodes every frame. When
// ctx is cancelled the frames decoded so far are returned along with
// ctx.Err().
func DecodeAll(ctx context.Context, r io.Reader, opts *animation.DecodeOptions) (*animation.Animation, error) {
	dec := animation.NewDecoder(r, opts)
	a, err := dec.Decode(ctx)
	if err != nil {
		return nil, fmt.Errorf("gif: %w", err)
	}
	if dec.Canceled() {
		return a, ctx.Err()
	}
	return a, nil
}

// GetFeatures reads a GIF's structure without decoding pixel data.
func GetFeatures(r io.Reader) (*Features, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, fmt.Errorf("gif: reading data: %w", err)
	}
	d, err := mux.NewDemuxer(data)
	if err != nil {
		return nil, fmt.Errorf("gif: %w", err)
	}
	f := d.GetFeatures()
	return &Features{
		Width:           f.Width,
		Height:          f.Height,
		Version:         f.Version,
		HasTransparency: f.HasTransparency,
		HasAnimation:    f.HasAnimation,
		GlobalColors:    f.GlobalColors,
		LoopCount:       d.LoopCount(),
		FrameCount:      f.FrameCount,
	}, nil
}

// Encode writes img as a one-frame GIF. Paletted images keep their
// palette and indexes; anything else is quantized. A nil opts means
// DefaultOptions.
func Encode(w io.Writer, img image.Image, opts *Options) error {
	a, err := FromImages([]image.Image{img}, 0)
	if err != nil {
		return err
	}
	return EncodeAll(context.Background(), w, a, opts)
}

// EncodeAll writes an animation. When ctx is cancelled the frames written
// so far are flushed and ctx.Err() is returned.
func EncodeAll(ctx context.Context, w io.Writer, a *animation.Animation, opts *Options) error {
	enc := animation.NewEncoder(w, a, opts)
	if err := enc.Encode(ctx); err != nil {
		return fmt.Errorf("gif: %w", err)
	}
	if enc.Canceled() {
		return ctx.Err()
	}
	return nil
}

// FromImages builds an animation showing each image for delay. The
// canvas is large enough for every image; each image is placed at the
// top-left corner.
//
// When every image is paletted with the same size and palette the
// animation is Indexed and its first transparent palette entry becomes
// the transparent index. Otherwise the frames are converted to RGB.
func FromImages(imgs []image.Image, delay time.Duration) (*animation.Animation, error) {
	if len(imgs) == 0 {
		return nil, ErrNoFrames
	}
	a := &animation.Animation{}
	for _, img := range imgs {
		if img == nil {
			return nil, animation.ErrNilImage
		}
		a.CanvasWidth = max(a.CanvasWidth, img.Bounds().Dx())
		a.CanvasHeight = max(a.CanvasHeight, img.Bounds().Dy())
	}
	if a.CanvasWidth == 0 || a.CanvasHeight == 0 {
		return nil, animation.ErrEmptyCanvas
	}

	if pal, ok := sharedPalette(imgs); ok {
		a.Format = animation.Indexed
		a.SetPalette(palette.FromColorPalette(0, pal))
		a.Opaque = true
		for i, c := range pal {
			if _, _, _, alpha := c.RGBA(); alpha == 0 {
				a.TransparentIndex = i
				a.Opaque = false
				break
			}
		}
		for _, img := range imgs {
			src := img.(*image.Paletted)
			dst := image.NewPaletted(image.Rect(0, 0, a.CanvasWidth, a.CanvasHeight), src.Palette)
			for y := 0; y < src.Rect.Dy(); y++ {
				off := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
				copy(dst.Pix[y*dst.Stride:], src.Pix[off:off+src.Rect.Dx()])
			}
			a.Frames = append(a.Frames, animation.Frame{Image: dst, Duration: delay})
		}
		return a, nil
	}

	a.Format = animation.RGB
	a.Opaque = true
	for _, img := range imgs {
		src := imaging.Clone(img)
		dst := src
		if src.Rect.Dx() != a.CanvasWidth || src.Rect.Dy() != a.CanvasHeight {
			dst = image.NewNRGBA(image.Rect(0, 0, a.CanvasWidth, a.CanvasHeight))
			draw.Draw(dst, src.Rect, src, image.Point{}, draw.Src)
		}
		if a.Opaque && !isOpaque(dst) {
			a.Opaque = false
		}
		a.Frames = append(a.Frames, animation.Frame{Image: dst, Duration: delay})
	}
	return a, nil
}

// sharedPalette returns the palette of imgs when all of them are
// paletted images of one size sharing the same colours.
func sharedPalette(imgs []image.Image) (color.Palette, bool) {
	first, ok := imgs[0].(*image.Paletted)
	if !ok || len(first.Palette) == 0 || len(first.Palette) > palette.MaxColors {
		return nil, false
	}
	ref := palette.FromColorPalette(0, first.Palette)
	for _, img := range imgs[1:] {
		p, ok := img.(*image.Paletted)
		if !ok || p.Rect.Size() != first.Rect.Size() {
			return nil, false
		}
		if !ref.Equal(palette.FromColorPalette(0, p.Palette)) {
			return nil, false
		}
	}
	return first.Palette, true
}

func isOpaque(img *image.NRGBA) bool {
	for y := 0; y < img.Rect.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+img.Rect.Dx()*4]
		for i := 3; i < len(row); i += 4 {
			if row[i] != 0xff {
				return false
			}
		}
	}
	return true
}
