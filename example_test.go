package gif_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/deepteams/gif"
	"github.com/deepteams/gif/dither"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func ExampleEncode() {
	var buf bytes.Buffer
	if err := gif.Encode(&buf, gradient(16, 8), nil); err != nil {
		fmt.Println(err)
		return
	}

	img, err := gif.Decode(&buf)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("bounds: %v\n", img.Bounds())
	// Output:
	// bounds: (0,0)-(16,8)
}

func ExampleEncode_dithered() {
	opts := gif.DefaultOptions()
	opts.Dithering = dither.Dithering{Kind: dither.ErrorDiffusionKind, Diffusion: dither.Atkinson, Factor: 1}

	var buf bytes.Buffer
	if err := gif.Encode(&buf, gradient(64, 64), opts); err != nil {
		fmt.Println(err)
		return
	}
	cfg, err := gif.DecodeConfig(&buf)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("%dx%d\n", cfg.Width, cfg.Height)
	// Output:
	// 64x64
}

func ExampleEncodeAll() {
	frames := []image.Image{gradient(8, 8), gradient(4, 4)}
	a, err := gif.FromImages(frames, 200*time.Millisecond)
	if err != nil {
		fmt.Println(err)
		return
	}

	var buf bytes.Buffer
	opts := gif.DefaultOptions()
	opts.LoopCount = 3
	if err := gif.EncodeAll(context.Background(), &buf, a, opts); err != nil {
		fmt.Println(err)
		return
	}

	feat, err := gif.GetFeatures(&buf)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("size: %dx%d\n", feat.Width, feat.Height)
	fmt.Printf("frames: %d\n", feat.FrameCount)
	fmt.Printf("loop: %d\n", feat.LoopCount)
	// Output:
	// size: 8x8
	// frames: 2
	// loop: 3
}

func ExampleDecodeAll() {
	a, err := gif.FromImages([]image.Image{gradient(4, 4), gradient(4, 4)}, 100*time.Millisecond)
	if err != nil {
		fmt.Println(err)
		return
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(context.Background(), &buf, a, nil); err != nil {
		fmt.Println(err)
		return
	}

	anim, err := gif.DecodeAll(context.Background(), &buf, nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("format: %v\n", anim.Format)
	fmt.Printf("frames: %d\n", len(anim.Frames))
	fmt.Printf("duration: %v\n", anim.TotalDuration())
	// Output:
	// format: indexed
	// frames: 2
	// duration: 200ms
}
