package dither

import (
	"fmt"
	"math"

	mwdither "github.com/makeworld-the-better-one/dither/v2"
)

// DiffusionKind names an error diffusion kernel.
type DiffusionKind int

const (
	FloydSteinberg DiffusionKind = iota
	JarvisJudiceNinke
	Stucki
	Atkinson
	Burkes
	Sierra
)

var diffusionNames = [...]string{
	FloydSteinberg:    "floyd-steinberg",
	JarvisJudiceNinke: "jarvis-judice-ninke",
	Stucki:            "stucki",
	Atkinson:          "atkinson",
	Burkes:            "burkes",
	Sierra:            "sierra",
}

func (k DiffusionKind) String() string {
	if k < 0 || int(k) >= len(diffusionNames) {
		return fmt.Sprintf("DiffusionKind(%d)", int(k))
	}
	return diffusionNames[k]
}

// ParseDiffusionKind accepts the names returned by DiffusionKind.String.
func ParseDiffusionKind(s string) (DiffusionKind, error) {
	for i, n := range diffusionNames {
		if n == s {
			return DiffusionKind(i), nil
		}
	}
	return 0, fmt.Errorf("dither: unknown diffusion kernel %q", s)
}

// Kernel distributes quantization error to the neighbours of a pixel.
// Coeffs[row][col] / Divisor of the error goes to the pixel at offset
// (col-CenterX, row-CenterY). Cells at or before the centre on row
// CenterY are zero.
type Kernel struct {
	Width, Height    int
	CenterX, CenterY int
	Coeffs           [][]int
	Divisor          int
}

// Neighborhood returns the window covered by k.
func (k Kernel) Neighborhood() Neighborhood {
	return Neighborhood{Width: k.Width, Height: k.Height, CenterX: k.CenterX, CenterY: k.CenterY}
}

var kernels = map[DiffusionKind]Kernel{
	FloydSteinberg:    kernelFromMatrix(mwdither.FloydSteinberg),
	JarvisJudiceNinke: kernelFromMatrix(mwdither.JarvisJudiceNinke),
	Stucki:            kernelFromMatrix(mwdither.Stucki),
	Atkinson:          kernelFromMatrix(mwdither.Atkinson),
	Burkes:            kernelFromMatrix(mwdither.Burkes),
	Sierra:            kernelFromMatrix(mwdither.Sierra),
}

// KernelFor returns the integer kernel for kind. Unknown kinds fall back
// to Floyd-Steinberg.
func KernelFor(kind DiffusionKind) Kernel {
	if k, ok := kernels[kind]; ok {
		return k
	}
	return kernels[FloydSteinberg]
}

// kernelFromMatrix converts fractional weights into integer coefficients
// over the smallest common divisor. The current pixel is the last zero of
// the first row.
func kernelFromMatrix(m mwdither.ErrorDiffusionMatrix) Kernel {
	k := Kernel{Height: len(m)}
	for _, row := range m {
		if len(row) > k.Width {
			k.Width = len(row)
		}
	}
	if k.Height > 0 {
		for _, v := range m[0] {
			if v != 0 {
				break
			}
			k.CenterX++
		}
		k.CenterX--
	}
	if k.CenterX < 0 {
		k.CenterX = 0
	}

	k.Divisor = commonDivisor(m)
	k.Coeffs = make([][]int, k.Height)
	for r, row := range m {
		k.Coeffs[r] = make([]int, k.Width)
		for c, v := range row {
			k.Coeffs[r][c] = int(math.Round(float64(v) * float64(k.Divisor)))
		}
	}
	return k
}

func commonDivisor(m mwdither.ErrorDiffusionMatrix) int {
	const tolerance = 1e-3
	for d := 1; d <= 1024; d++ {
		ok := true
		for _, row := range m {
			for _, v := range row {
				x := float64(v) * float64(d)
				if math.Abs(x-math.Round(x)) > tolerance {
					ok = false
					break
				}
			}
			if !ok {
				break
			}
		}
		if ok {
			return d
		}
	}
	return 1024
}
