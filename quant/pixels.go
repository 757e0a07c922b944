package quant

import (
	"image"
	"image/color"
)

// forEachPixel calls fn with every pixel of img as non-premultiplied RGBA.
// The common concrete types are read directly.
func forEachPixel(img image.Image, fn func(color.NRGBA)) {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for i := 0; i < len(row); i += 4 {
				fn(color.NRGBA{R: row[i], G: row[i+1], B: row[i+2], A: row[i+3]})
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for _, v := range row {
				fn(color.NRGBA{R: v, G: v, B: v, A: 0xff})
			}
		}
	case *image.Paletted:
		lut := make([]color.NRGBA, len(src.Palette))
		for i, c := range src.Palette {
			lut[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):src.PixOffset(b.Max.X, y)]
			for _, v := range row {
				if int(v) < len(lut) {
					fn(lut[v])
				} else {
					fn(color.NRGBA{})
				}
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				fn(color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA))
			}
		}
	}
}
