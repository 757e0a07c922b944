// Package colorspace converts colormap entries from a working colour space
// to the sRGB space GIF viewers assume.
//
// The encoder applies a Func to every colour it writes into a global or
// local colormap and to nothing else. Conversions are 8-bit lookup tables
// built once per transfer function.
package colorspace

import (
	"fmt"
	"image/color"
	"math"
	"sync"
)

// Func maps one colour to another. Implementations must be pure.
type Func func(color.NRGBA) color.NRGBA

// Identity returns c unchanged.
func Identity(c color.NRGBA) color.NRGBA { return c }

// Transfer identifies the transfer function (H.273 numbering) of the
// working space.
type Transfer int

const (
	TransferBT709  Transfer = 1
	TransferLinear Transfer = 8
	TransferSRGB   Transfer = 13
)

func (t Transfer) String() string {
	switch t {
	case TransferBT709:
		return "bt709"
	case TransferLinear:
		return "linear"
	case TransferSRGB:
		return "srgb"
	}
	return fmt.Sprintf("Transfer(%d)", int(t))
}

// ParseTransfer accepts the names returned by Transfer.String.
func ParseTransfer(s string) (Transfer, error) {
	for _, t := range []Transfer{TransferBT709, TransferLinear, TransferSRGB} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("colorspace: unknown transfer %q", s)
}

// ToSRGB returns the conversion from t-encoded colours to sRGB.
func ToSRGB(t Transfer) Func {
	switch t {
	case TransferLinear:
		return LinearToSRGB
	case TransferBT709:
		return BT709ToSRGB
	}
	return Identity
}

type lut [256]uint8

func (l *lut) apply(c color.NRGBA) color.NRGBA {
	return color.NRGBA{R: l[c.R], G: l[c.G], B: l[c.B], A: c.A}
}

func buildLUT(f func(float64) float64) *lut {
	var l lut
	for i := range l {
		v := f(float64(i)/255)*255 + 0.5
		l[i] = uint8(math.Max(0, math.Min(255, v)))
	}
	return &l
}

func srgbEncode(linear float64) float64 {
	if linear <= 0.0031308 {
		return linear * 12.92
	}
	return 1.055*math.Pow(linear, 1/2.4) - 0.055
}

func srgbDecode(s float64) float64 {
	if s <= 0.04045 {
		return s / 12.92
	}
	return math.Pow((s+0.055)/1.055, 2.4)
}

// bt709Decode is the BT.709 inverse OETF.
func bt709Decode(g float64) float64 {
	const a = 0.09929682680944
	const thresh = 0.018053968510807
	if g <= thresh*4.5 {
		return g / 4.5
	}
	return math.Pow((g+a)/(1+a), 1/0.45)
}

var (
	linearToSRGB = sync.OnceValue(func() *lut { return buildLUT(srgbEncode) })
	srgbToLinear = sync.OnceValue(func() *lut { return buildLUT(srgbDecode) })
	bt709ToSRGB  = sync.OnceValue(func() *lut {
		return buildLUT(func(g float64) float64 { return srgbEncode(bt709Decode(g)) })
	})
)

// LinearToSRGB encodes linear-light colours with the sRGB curve.
func LinearToSRGB(c color.NRGBA) color.NRGBA { return linearToSRGB().apply(c) }

// SRGBToLinear decodes sRGB colours to linear light.
func SRGBToLinear(c color.NRGBA) color.NRGBA { return srgbToLinear().apply(c) }

// BT709ToSRGB re-encodes BT.709 gamma colours with the sRGB curve.
func BT709ToSRGB(c color.NRGBA) color.NRGBA { return bt709ToSRGB().apply(c) }

// Gamma returns a conversion from a pure power-law space with exponent g
// to sRGB. Gamma(2.2) is close to, but not the same as, Identity.
func Gamma(g float64) Func {
	if g <= 0 {
		return Identity
	}
	l := buildLUT(func(v float64) float64 { return srgbEncode(math.Pow(v, g)) })
	return l.apply
}
