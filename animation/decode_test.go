package animation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/deepteams/gif/internal/container"
	"github.com/deepteams/gif/palette"
)

type testImage struct {
	gc   *container.GraphicsControl
	desc container.ImageDesc
	pix  []byte
}

// buildGIF writes a stream with the given screen and images. loop < 0
// omits the NETSCAPE2.0 extension.
func buildGIF(t *testing.T, screen container.ScreenDesc, loop int, images ...testImage) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := container.NewWriter(&buf)
	if err := w.PutScreenDesc(screen); err != nil {
		t.Fatalf("PutScreenDesc: %v", err)
	}
	if loop >= 0 {
		if err := w.PutLoop(loop); err != nil {
			t.Fatalf("PutLoop: %v", err)
		}
	}
	for i, img := range images {
		if img.gc != nil {
			if err := w.PutGraphicsControl(*img.gc); err != nil {
				t.Fatalf("image %d: PutGraphicsControl: %v", i, err)
			}
		}
		cm := img.desc.ColorMap
		if cm == nil {
			cm = screen.ColorMap
		}
		if err := w.PutImageDesc(img.desc, cm.BitSize()); err != nil {
			t.Fatalf("image %d: PutImageDesc: %v", i, err)
		}
		if err := w.PutPixels(img.pix, img.desc.Width); err != nil {
			t.Fatalf("image %d: PutPixels: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func decodeBytes(t *testing.T, data []byte, opts *DecodeOptions) *Animation {
	t.Helper()
	a, err := NewDecoder(bytes.NewReader(data), opts).Decode(context.Background())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return a
}

func rect(x, y, w, h int) container.ImageDesc {
	return container.ImageDesc{Left: x, Top: y, Width: w, Height: h}
}

func pixOf(t *testing.T, a *Animation, i int) []uint8 {
	t.Helper()
	img, ok := a.Frames[i].Image.(*image.Paletted)
	if !ok {
		t.Fatalf("frame %d is %T, want *image.Paletted", i, a.Frames[i].Image)
	}
	return img.Pix
}

// --- Decoder tests ---

func TestDecodeGlobalColorMap(t *testing.T) {
	gm := container.ColorMap{red, green, blue, white}
	data := buildGIF(t, container.ScreenDesc{Width: 2, Height: 2, ColorMap: gm}, -1,
		testImage{desc: rect(0, 0, 2, 2), pix: []byte{0, 1, 2, 3}})

	a := decodeBytes(t, data, nil)
	if a.Format != Indexed || !a.Opaque {
		t.Fatalf("Format = %v, Opaque = %v; want indexed and opaque", a.Format, a.Opaque)
	}
	if a.CanvasWidth != 2 || a.CanvasHeight != 2 || len(a.Frames) != 1 {
		t.Fatalf("canvas %dx%d with %d frames, want 2x2 with 1", a.CanvasWidth, a.CanvasHeight, len(a.Frames))
	}
	if a.LoopCount != -1 {
		t.Errorf("LoopCount = %d, want -1", a.LoopCount)
	}
	if a.Frames[0].Duration != 10*time.Millisecond {
		t.Errorf("Duration = %v, want 10ms", a.Frames[0].Duration)
	}
	if len(a.Palettes) != 1 || a.Palettes[0].Len() != 4 {
		t.Fatalf("palettes = %d, want one of 4 entries", len(a.Palettes))
	}
	for i, c := range gm {
		if got := a.Palettes[0].At(i); got != c {
			t.Errorf("palette[%d] = %v, want %v", i, got, c)
		}
	}
	if got := pixOf(t, a, 0); !bytes.Equal(got, []byte{0, 1, 2, 3}) {
		t.Errorf("pixels = %v, want [0 1 2 3]", got)
	}
	img := a.Frames[0].Image.(*image.Paletted)
	if img.Palette[1] != color.Color(green) {
		t.Errorf("image palette[1] = %v, want %v", img.Palette[1], green)
	}
}

func TestDecodeTransparencyAndDisposal(t *testing.T) {
	gm := container.ColorMap{black, red, green, blue}
	data := buildGIF(t, container.ScreenDesc{Width: 4, Height: 1, ColorMap: gm}, 3,
		testImage{
			gc:   &container.GraphicsControl{Disposal: int(RestoreBackground), Delay: 5, TransparentIndex: 0},
			desc: rect(0, 0, 2, 1),
			pix:  []byte{1, 2},
		},
		testImage{
			gc:   &container.GraphicsControl{Delay: 7, TransparentIndex: 0},
			desc: rect(2, 0, 2, 1),
			pix:  []byte{3, 0},
		})

	a := decodeBytes(t, data, nil)
	if a.Opaque {
		t.Fatal("Opaque = true, want false")
	}
	if a.LoopCount != 3 {
		t.Errorf("LoopCount = %d, want 3", a.LoopCount)
	}
	if a.TransparentIndex != 0 {
		t.Errorf("TransparentIndex = %d, want 0", a.TransparentIndex)
	}
	if got := pixOf(t, a, 0); !bytes.Equal(got, []byte{1, 2, 0, 0}) {
		t.Errorf("frame 0 = %v, want [1 2 0 0]", got)
	}
	// Frame 0 was cleared to the background before frame 1 was drawn.
	if got := pixOf(t, a, 1); !bytes.Equal(got, []byte{0, 0, 3, 0}) {
		t.Errorf("frame 1 = %v, want [0 0 3 0]", got)
	}
	if len(a.Palettes) != 1 {
		t.Errorf("len(Palettes) = %d, want 1", len(a.Palettes))
	}
	if a.Frames[0].Duration != 50*time.Millisecond || a.Frames[1].Duration != 70*time.Millisecond {
		t.Errorf("durations = %v, %v; want 50ms, 70ms", a.Frames[0].Duration, a.Frames[1].Duration)
	}

	img, err := a.RenderFrame(1)
	if err != nil {
		t.Fatalf("RenderFrame: %v", err)
	}
	if img.NRGBAAt(0, 0).A != 0 || img.NRGBAAt(2, 0) != blue {
		t.Errorf("rendered frame 1 = %v %v, want transparent then blue", img.NRGBAAt(0, 0), img.NRGBAAt(2, 0))
	}
}

func TestDecodeRestorePrevious(t *testing.T) {
	gm := container.ColorMap{black, white}
	data := buildGIF(t, container.ScreenDesc{Width: 2, Height: 1, ColorMap: gm}, -1,
		testImage{desc: rect(0, 0, 2, 1), pix: []byte{1, 1}},
		testImage{
			gc:   &container.GraphicsControl{Disposal: int(RestorePrevious), Delay: 1, TransparentIndex: -1},
			desc: rect(0, 0, 1, 1),
			pix:  []byte{0},
		},
		testImage{desc: rect(1, 0, 1, 1), pix: []byte{0}})

	a := decodeBytes(t, data, nil)
	want := [][]byte{{1, 1}, {0, 1}, {1, 0}}
	if len(a.Frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(a.Frames), len(want))
	}
	for i, w := range want {
		if got := pixOf(t, a, i); !bytes.Equal(got, w) {
			t.Errorf("frame %d = %v, want %v", i, got, w)
		}
	}
}

func TestDecodeTransparentIndexOutOfRange(t *testing.T) {
	gm := container.ColorMap{red, green}
	data := buildGIF(t, container.ScreenDesc{Width: 2, Height: 1, ColorMap: gm}, -1,
		testImage{
			gc:   &container.GraphicsControl{Delay: 2, TransparentIndex: 5},
			desc: rect(0, 0, 2, 1),
			pix:  []byte{0, 1},
		})

	a := decodeBytes(t, data, nil)
	if a.Opaque {
		t.Fatal("Opaque = true, want false")
	}
	if a.TransparentIndex != 2 {
		t.Errorf("TransparentIndex = %d, want 2", a.TransparentIndex)
	}
	if n := a.Palettes[0].Len(); n != 3 {
		t.Errorf("palette has %d entries, want 3", n)
	}
	if got := pixOf(t, a, 0); !bytes.Equal(got, []byte{0, 1}) {
		t.Errorf("pixels = %v, want [0 1]", got)
	}
}

// localMapFrame returns a 16x16 image using all 256 entries of its own
// colour table, whose colours are unique to frame k.
func localMapFrame(k int) testImage {
	cm := make(container.ColorMap, 256)
	pix := make([]byte, 256)
	for i := range cm {
		cm[i] = color.NRGBA{R: uint8(i), G: uint8(k), B: 7, A: 255}
		pix[i] = uint8(i)
	}
	d := rect(0, 0, 16, 16)
	d.ColorMap = cm
	return testImage{desc: d, pix: pix}
}

func TestDecodePromotesToRGB(t *testing.T) {
	data := buildGIF(t, container.ScreenDesc{Width: 16, Height: 16}, 0,
		localMapFrame(0), localMapFrame(1), localMapFrame(2))

	a := decodeBytes(t, data, nil)
	if a.Format != RGB {
		t.Fatalf("Format = %v, want rgb", a.Format)
	}
	if len(a.Frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(a.Frames))
	}
	for k := range 3 {
		img, ok := a.Frames[k].Image.(*image.NRGBA)
		if !ok {
			t.Fatalf("frame %d is %T, want *image.NRGBA", k, a.Frames[k].Image)
		}
		want := color.NRGBA{R: 5*16 + 3, G: uint8(k), B: 7, A: 255}
		if got := img.NRGBAAt(3, 5); got != want {
			t.Errorf("frame %d pixel (3,5) = %v, want %v", k, got, want)
		}
	}
	if len(a.Palettes) != 1 || a.Palettes[0].Len() > 256 {
		t.Errorf("palette not reduced: %d palettes, first has %d entries", len(a.Palettes), a.Palettes[0].Len())
	}
}

func TestReduceToAnOptimizedPalette(t *testing.T) {
	// 253 colours far apart plus two pairs that differ in the low bit of
	// red: 257 leaves at full depth. One merge is enough, so one of the
	// pairs must keep both of its colours.
	var cs []color.NRGBA
	for i := range 253 {
		cs = append(cs, color.NRGBA{R: uint8(i%8) * 32, G: uint8(i/8%8) * 32, B: uint8(i/64) * 32, A: 255})
	}
	pairs := [][2]color.NRGBA{
		{{R: 10, A: 255}, {R: 11, A: 255}},
		{{R: 100, A: 255}, {R: 101, A: 255}},
	}
	for _, p := range pairs {
		cs = append(cs, p[0], p[1])
	}

	d := &Decoder{anim: &Animation{Format: RGB}}
	if err := d.reduceToAnOptimizedPalette(palette.FromColors(0, cs)); err != nil {
		t.Fatalf("reduceToAnOptimizedPalette: %v", err)
	}
	if len(d.anim.Palettes) != 1 {
		t.Fatalf("got %d palettes, want 1", len(d.anim.Palettes))
	}
	pal := d.anim.Palettes[0]
	if pal.Len() != palette.MaxColors {
		t.Fatalf("reduced palette has %d entries, want %d", pal.Len(), palette.MaxColors)
	}
	for _, c := range cs[:253] {
		if pal.FindExactMatch(c, -1) < 0 {
			t.Errorf("reduced palette lacks %v", c)
		}
	}
	kept := 0
	for _, p := range pairs {
		if pal.FindExactMatch(p[0], -1) >= 0 && pal.FindExactMatch(p[1], -1) >= 0 {
			kept++
		}
	}
	if kept != 1 {
		t.Errorf("%d low-bit pairs kept intact, want 1", kept)
	}
}

func TestDecodeOneFrame(t *testing.T) {
	data := buildGIF(t, container.ScreenDesc{Width: 16, Height: 16}, -1,
		localMapFrame(0), localMapFrame(1))

	a := decodeBytes(t, data, &DecodeOptions{OneFrame: true})
	if len(a.Frames) != 1 || a.Format != Indexed {
		t.Errorf("got %d frames in %v, want 1 indexed", len(a.Frames), a.Format)
	}
}

func TestDecodeCanceled(t *testing.T) {
	gm := container.ColorMap{black, white}
	img := testImage{desc: rect(0, 0, 2, 1), pix: []byte{0, 1}}
	data := buildGIF(t, container.ScreenDesc{Width: 2, Height: 1, ColorMap: gm}, -1, img, img, img)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDecoder(bytes.NewReader(data), nil)
	a, err := d.Decode(ctx)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !d.Canceled() {
		t.Error("Canceled() = false after cancellation")
	}
	if len(a.Frames) != 1 {
		t.Errorf("got %d frames, want 1", len(a.Frames))
	}
}

func TestDecodeProgress(t *testing.T) {
	gm := container.ColorMap{black, white}
	img := testImage{desc: rect(0, 0, 2, 1), pix: []byte{0, 1}}
	data := buildGIF(t, container.ScreenDesc{Width: 2, Height: 1, ColorMap: gm}, 0, img, img)

	var got []float64
	decodeBytes(t, data, &DecodeOptions{Progress: func(f float64) { got = append(got, f) }})
	if len(got) == 0 {
		t.Fatal("progress never reported")
	}
	for i, f := range got {
		if f <= 0 || f > 1 || (i > 0 && f < got[i-1]) {
			t.Errorf("progress values not increasing in (0,1]: %v", got)
			break
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	gm := container.ColorMap{black, white}
	valid := buildGIF(t, container.ScreenDesc{Width: 4, Height: 4, ColorMap: gm}, -1,
		testImage{desc: rect(0, 0, 4, 4), pix: make([]byte, 16)})
	empty := buildGIF(t, container.ScreenDesc{Width: 4, Height: 4, ColorMap: gm}, -1)
	noMap := buildGIF(t, container.ScreenDesc{Width: 1, Height: 1}, -1)
	// Splice an image without any colour table into the empty stream.
	noMap = append(noMap[:len(noMap)-1], 0x2C, 0, 0, 0, 0, 1, 0, 1, 0, 0, 2, 2, 0x4C, 0x01, 0, 0x3B)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not gif", []byte("PNG89a\x00\x00"), container.ErrNotGIF},
		{"no frames", empty, ErrNoFrames},
		{"no color map", noMap, container.ErrNoColorMap},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDecoder(bytes.NewReader(tc.data), nil).Decode(context.Background())
			if !errors.Is(err, tc.want) {
				t.Errorf("Decode() error = %v, want %v", err, tc.want)
			}
		})
	}

	t.Run("truncated", func(t *testing.T) {
		_, err := NewDecoder(bytes.NewReader(valid[:len(valid)-6]), nil).Decode(context.Background())
		if err == nil {
			t.Error("Decode() of truncated stream succeeded")
		}
	})
}
