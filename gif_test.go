package gif

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/deepteams/gif/animation"
	"github.com/deepteams/gif/internal/container"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
	none  = color.NRGBA{}
)

// stripes returns a w x h NRGBA image with vertical stripes of cs.
func stripes(w, h int, cs ...color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, cs[x%len(cs)])
		}
	}
	return img
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func encode(t *testing.T, img image.Image, opts *Options) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, img, opts); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf.Bytes()
}

// --- Decode/Encode round trips ---

func TestEncodeDecodeNRGBA(t *testing.T) {
	src := stripes(6, 4, red, green, blue)
	data := encode(t, src, nil)
	if !bytes.HasPrefix(data, []byte("GIF89a")) {
		t.Fatalf("header = %q", data[:6])
	}

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Bounds() != src.Bounds() {
		t.Fatalf("bounds = %v, want %v", img.Bounds(), src.Bounds())
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			if got, want := nrgbaAt(img, x, y), src.NRGBAAt(x, y); got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestEncodeDecodePaletted(t *testing.T) {
	pal := color.Palette{red, green, blue, none}
	src := image.NewPaletted(image.Rect(0, 0, 4, 2), pal)
	copy(src.Pix, []uint8{0, 1, 2, 3, 3, 2, 1, 0})
	data := encode(t, src, nil)

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := img.(*image.Paletted); !ok {
		t.Fatalf("Decode returned %T, want *image.Paletted", img)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			want := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			got := nrgbaAt(img, x, y)
			if want.A == 0 {
				if got.A != 0 {
					t.Errorf("pixel (%d,%d) = %v, want transparent", x, y, got)
				}
				continue
			}
			if got != want {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestImageDecodeRegistered(t *testing.T) {
	data := encode(t, stripes(2, 2, red), nil)
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("image.Decode: %v", err)
	}
	if format != "gif" {
		t.Errorf("format = %q, want gif", format)
	}
	if got := nrgbaAt(img, 1, 1); got != red {
		t.Errorf("pixel = %v, want %v", got, red)
	}
}

func TestDecodeConfig(t *testing.T) {
	pal := color.Palette{red, green}
	src := image.NewPaletted(image.Rect(0, 0, 5, 3), pal)
	cfg, err := DecodeConfig(bytes.NewReader(encode(t, src, nil)))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != 5 || cfg.Height != 3 {
		t.Errorf("size = %dx%d, want 5x3", cfg.Width, cfg.Height)
	}
	if p, ok := cfg.ColorModel.(color.Palette); !ok || len(p) != 2 {
		t.Errorf("ColorModel = %T, want a 2-entry color.Palette", cfg.ColorModel)
	}

	cfg, err = DecodeConfig(bytes.NewReader(encode(t, stripes(2, 2, red, blue), nil)))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.ColorModel != color.NRGBAModel {
		t.Errorf("ColorModel without global table = %v, want NRGBAModel", cfg.ColorModel)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(strings.NewReader("PNG not a gif")); !errors.Is(err, container.ErrNotGIF) {
		t.Errorf("Decode(garbage) = %v, want ErrNotGIF", err)
	}
	if _, err := DecodeConfig(strings.NewReader("")); err == nil {
		t.Error("DecodeConfig(empty) should fail")
	}
	if _, err := GetFeatures(strings.NewReader("GIF89a")); err == nil {
		t.Error("GetFeatures(truncated) should fail")
	}
}

// --- Animations ---

func TestEncodeAllDecodeAll(t *testing.T) {
	frames := []image.Image{
		stripes(4, 4, red),
		stripes(4, 4, red, green),
		stripes(4, 4, blue),
	}
	a, err := FromImages(frames, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("FromImages: %v", err)
	}
	var buf bytes.Buffer
	if err := EncodeAll(context.Background(), &buf, a, DefaultOptions()); err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}

	got, err := DecodeAll(context.Background(), bytes.NewReader(buf.Bytes()), nil)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(got.Frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(got.Frames))
	}
	if got.LoopCount != 0 {
		t.Errorf("LoopCount = %d, want 0", got.LoopCount)
	}
	for i, f := range got.Frames {
		if f.Duration != 100*time.Millisecond {
			t.Errorf("frame %d duration = %v, want 100ms", i, f.Duration)
		}
		img, err := got.RenderFrame(i)
		if err != nil {
			t.Fatalf("RenderFrame(%d): %v", i, err)
		}
		want := frames[i].(*image.NRGBA)
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				if img.NRGBAAt(x, y) != want.NRGBAAt(x, y) {
					t.Fatalf("frame %d pixel (%d,%d) = %v, want %v", i, x, y, img.NRGBAAt(x, y), want.NRGBAAt(x, y))
				}
			}
		}
	}
}

func TestEncodeAllCanceled(t *testing.T) {
	a, err := FromImages([]image.Image{stripes(2, 2, red), stripes(2, 2, blue)}, 0)
	if err != nil {
		t.Fatalf("FromImages: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if err := EncodeAll(ctx, &buf, a, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("EncodeAll = %v, want context.Canceled", err)
	}
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] == container.IntroTrailer {
		t.Error("canceled stream ends with a trailer")
	}
}

func TestGetFeatures(t *testing.T) {
	pal := color.Palette{red, none}
	f0 := image.NewPaletted(image.Rect(0, 0, 3, 2), pal)
	f1 := image.NewPaletted(image.Rect(0, 0, 3, 2), pal)
	f1.Pix[0] = 1
	a, err := FromImages([]image.Image{f0, f1}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("FromImages: %v", err)
	}
	var buf bytes.Buffer
	if err := EncodeAll(context.Background(), &buf, a, &Options{Loop: true, LoopCount: 4}); err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}

	feat, err := GetFeatures(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("GetFeatures: %v", err)
	}
	want := Features{
		Width: 3, Height: 2, Version: "89a",
		HasTransparency: true, HasAnimation: true,
		GlobalColors: 2, LoopCount: 4, FrameCount: 2,
	}
	if *feat != want {
		t.Errorf("GetFeatures = %+v, want %+v", *feat, want)
	}
}

func TestFromImages(t *testing.T) {
	t.Run("shared palette", func(t *testing.T) {
		pal := color.Palette{red, none, blue}
		f0 := image.NewPaletted(image.Rect(2, 2, 4, 3), pal)
		f0.Pix[1] = 2
		a, err := FromImages([]image.Image{f0, image.NewPaletted(image.Rect(0, 0, 2, 1), pal)}, 0)
		if err != nil {
			t.Fatalf("FromImages: %v", err)
		}
		if a.Format != animation.Indexed || a.Opaque || a.TransparentIndex != 1 {
			t.Errorf("format %v opaque %v transparent %d, want indexed/false/1", a.Format, a.Opaque, a.TransparentIndex)
		}
		img := a.Frames[0].Image.(*image.Paletted)
		if img.Rect != image.Rect(0, 0, 2, 1) || img.Pix[1] != 2 {
			t.Errorf("frame 0 = %v %v, want moved to the origin", img.Rect, img.Pix)
		}
	})

	t.Run("mixed", func(t *testing.T) {
		p := image.NewPaletted(image.Rect(0, 0, 1, 1), color.Palette{green})
		a, err := FromImages([]image.Image{stripes(3, 2, red), p}, 0)
		if err != nil {
			t.Fatalf("FromImages: %v", err)
		}
		if a.Format != animation.RGB || a.CanvasWidth != 3 || a.CanvasHeight != 2 {
			t.Fatalf("format %v canvas %dx%d, want rgb 3x2", a.Format, a.CanvasWidth, a.CanvasHeight)
		}
		// The small frame leaves transparent canvas around it.
		if a.Opaque {
			t.Error("animation with padded frame should not be opaque")
		}
		img := a.Frames[1].Image.(*image.NRGBA)
		if img.NRGBAAt(0, 0) != green || img.NRGBAAt(2, 1).A != 0 {
			t.Errorf("padded frame = %v / %v", img.NRGBAAt(0, 0), img.NRGBAAt(2, 1))
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := FromImages(nil, 0); !errors.Is(err, ErrNoFrames) {
			t.Errorf("FromImages(nil) = %v, want ErrNoFrames", err)
		}
		if _, err := FromImages([]image.Image{nil}, 0); !errors.Is(err, animation.ErrNilImage) {
			t.Errorf("FromImages(nil image) = %v, want ErrNilImage", err)
		}
		if _, err := FromImages([]image.Image{image.NewNRGBA(image.Rectangle{})}, 0); !errors.Is(err, animation.ErrEmptyCanvas) {
			t.Errorf("FromImages(empty) = %v, want ErrEmptyCanvas", err)
		}
	})
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer SetLogger(nil)

	encode(t, stripes(2, 2, red, blue), nil)
	if !strings.Contains(buf.String(), "encoder setup") {
		t.Errorf("debug log missing encoder setup:\n%s", buf.String())
	}

	SetLogger(nil)
	buf.Reset()
	encode(t, stripes(2, 2, red), nil)
	if buf.Len() != 0 {
		t.Errorf("logging after SetLogger(nil): %q", buf.String())
	}
	if Logger() == nil {
		t.Error("Logger() = nil")
	}
}
