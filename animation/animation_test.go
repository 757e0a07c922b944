package animation

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/deepteams/gif/palette"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.NRGBA{A: 255}
)

func paletted(w, h int, pix ...uint8) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, w, h), nil)
	copy(img.Pix, pix)
	return img
}

func solidNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// --- Model tests ---

func TestPaletteAt(t *testing.T) {
	a := &Animation{}
	if a.PaletteAt(0) != nil {
		t.Fatal("PaletteAt on empty animation should be nil")
	}
	p0 := palette.FromColors(0, []color.NRGBA{red})
	p3 := palette.FromColors(3, []color.NRGBA{green})
	a.SetPalette(p3)
	a.SetPalette(p0)

	for _, tc := range []struct {
		frame int
		want  *palette.Palette
	}{
		{0, p0}, {2, p0}, {3, p3}, {10, p3},
	} {
		if got := a.PaletteAt(tc.frame); got != tc.want {
			t.Errorf("PaletteAt(%d) = frame %d palette, want frame %d", tc.frame, got.Frame, tc.want.Frame)
		}
	}
}

func TestSetPaletteReplaces(t *testing.T) {
	a := &Animation{}
	a.SetPalette(palette.FromColors(0, []color.NRGBA{red}))
	a.SetPalette(palette.FromColors(2, []color.NRGBA{green}))
	a.SetPalette(palette.FromColors(2, []color.NRGBA{blue}))
	if len(a.Palettes) != 2 {
		t.Fatalf("len(Palettes) = %d, want 2", len(a.Palettes))
	}
	if got := a.Palettes[1].At(0); got != blue {
		t.Errorf("replaced palette entry = %v, want %v", got, blue)
	}
}

func TestTotalDuration(t *testing.T) {
	a := &Animation{Frames: []Frame{
		{Duration: 100 * time.Millisecond},
		{Duration: 250 * time.Millisecond},
		{Duration: 50 * time.Millisecond},
	}}
	if got := a.TotalDuration(); got != 400*time.Millisecond {
		t.Errorf("TotalDuration() = %v, want 400ms", got)
	}
}

func TestRenderFrameIndexed(t *testing.T) {
	a := &Animation{
		Format:           Indexed,
		CanvasWidth:      2,
		CanvasHeight:     1,
		Frames:           []Frame{{Image: paletted(2, 1, 0, 1)}},
		Palettes:         []*palette.Palette{palette.FromColors(0, []color.NRGBA{red, green})},
		TransparentIndex: 0,
	}
	img, err := a.RenderFrame(0)
	if err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if got := img.NRGBAAt(0, 0); got.A != 0 {
		t.Errorf("transparent pixel = %v, want alpha 0", got)
	}
	if got := img.NRGBAAt(1, 0); got != green {
		t.Errorf("pixel 1 = %v, want %v", got, green)
	}

	a.Opaque = true
	img, err = a.RenderFrame(0)
	if err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if got := img.NRGBAAt(0, 0); got != red {
		t.Errorf("opaque pixel 0 = %v, want %v", got, red)
	}
}

func TestRenderFrameGray(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range g.Pix {
		g.Pix[i] = 128
	}
	a := &Animation{Format: Grayscale, CanvasWidth: 2, CanvasHeight: 2, Frames: []Frame{{Image: g}}}
	img, err := a.RenderFrame(0)
	if err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	want := color.NRGBA{128, 128, 128, 255}
	if got := img.NRGBAAt(1, 1); got != want {
		t.Errorf("gray pixel = %v, want %v", got, want)
	}
}

func TestRenderFrameErrors(t *testing.T) {
	a := &Animation{CanvasWidth: 1, CanvasHeight: 1, Frames: []Frame{{}}}
	if _, err := a.RenderFrame(1); !errors.Is(err, ErrFrameRange) {
		t.Errorf("RenderFrame(1) error = %v, want ErrFrameRange", err)
	}
	if _, err := a.RenderFrame(0); !errors.Is(err, ErrNilImage) {
		t.Errorf("RenderFrame(0) error = %v, want ErrNilImage", err)
	}
}

func TestValidate(t *testing.T) {
	big := palette.New(0, 300)
	tests := []struct {
		name string
		a    *Animation
		want error
	}{
		{"no frames", &Animation{CanvasWidth: 1, CanvasHeight: 1}, ErrNoFrames},
		{"empty canvas", &Animation{Frames: []Frame{{Image: paletted(1, 1)}}}, ErrEmptyCanvas},
		{"nil image", &Animation{CanvasWidth: 1, CanvasHeight: 1, Frames: []Frame{{}}}, ErrNilImage},
		{"palette too large", &Animation{
			CanvasWidth: 1, CanvasHeight: 1,
			Frames:   []Frame{{Image: paletted(1, 1)}},
			Palettes: []*palette.Palette{big},
		}, ErrPaletteTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.a.validate(); !errors.Is(err, tc.want) {
				t.Errorf("validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestClampLoopCount(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{-5, 0}, {0, 0}, {7, 7}, {0xFFFF, 0xFFFF}, {100000, 0xFFFF},
	} {
		if got := clampLoopCount(tc.in); got != tc.want {
			t.Errorf("clampLoopCount(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestEnumStrings(t *testing.T) {
	if Indexed.String() != "indexed" || RGB.String() != "rgb" || Grayscale.String() != "grayscale" {
		t.Error("unexpected PixelFormat strings")
	}
	if RestoreBackground.String() != "restore-background" || DisposalMethod(5).String() != "reserved" {
		t.Error("unexpected DisposalMethod strings")
	}
	if q, err := ParseQuantization("rgb5a3"); err != nil || q != QuantRGB5A3 {
		t.Errorf("ParseQuantization(rgb5a3) = %v, %v", q, err)
	}
	if q, err := ParseQuantization("mediancut"); err != nil || q.String() != "mediancut" {
		t.Errorf("ParseQuantization(mediancut) = %v, %v", q, err)
	}
	if _, err := ParseQuantization("median"); err == nil {
		t.Error("ParseQuantization(median) should fail")
	}
}

func TestToNRGBA(t *testing.T) {
	src := solidNRGBA(3, 2, blue)
	sub := src.SubImage(image.Rect(1, 1, 3, 2))
	got := toNRGBA(sub)
	if got.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Fatalf("bounds = %v, want (0,0)-(2,1)", got.Bounds())
	}
	if got.NRGBAAt(1, 0) != blue {
		t.Errorf("pixel = %v, want %v", got.NRGBAAt(1, 0), blue)
	}
	got.Pix[0] = 1
	if src.Pix[src.PixOffset(1, 1)] == 1 {
		t.Error("toNRGBA shares memory with its source")
	}
}
