// Package container reads and writes the record structure of GIF files:
// the header and logical screen descriptor, image descriptors with their
// LZW-coded scanlines, extensions, and the trailer.
//
// It knows nothing about palettes beyond the raw colour tables; merging
// colormaps and compositing frames is left to the animation package.
package container

import (
	"encoding/binary"
	"errors"
	"image/color"
)

// Block introducers.
const (
	IntroImage     = 0x2C
	IntroExtension = 0x21
	IntroTrailer   = 0x3B
)

// Extension labels.
const (
	LabelPlainText       = 0x01
	LabelGraphicsControl = 0xF9
	LabelComment         = 0xFE
	LabelApplication     = 0xFF
)

// Packed field bits.
const (
	flagColorTable  = 0x80
	flagInterlace   = 0x40
	flagTransparent = 0x01
	maskTableSize   = 0x07
)

// Structure sizes.
const (
	HeaderSize          = 6
	ScreenDescSize      = 7
	ImageDescSize       = 9
	GraphicsControlSize = 4
)

// Disposal methods as stored in the graphics control extension.
const (
	DisposalNone              = 0
	DisposalDoNotDispose      = 1
	DisposalRestoreBackground = 2
	DisposalRestorePrevious   = 3
)

// MaxColors is the largest colour table GIF allows.
const MaxColors = 256

// Interlaced images store rows in four passes.
var (
	InterlaceOffsets = [4]int{0, 4, 2, 1}
	InterlaceJumps   = [4]int{8, 8, 4, 2}
)

// Errors.
var (
	ErrNotGIF        = errors.New("container: not a GIF file")
	ErrBadRecord     = errors.New("container: invalid GIF record")
	ErrBadImageDesc  = errors.New("container: invalid GIF image descriptor")
	ErrBadImageData  = errors.New("container: invalid image data")
	ErrBadInterlace  = errors.New("container: invalid interlaced image data")
	ErrBadExtension  = errors.New("container: invalid GIF extension record")
	ErrNoColorMap    = errors.New("container: there is no color map")
	ErrBadColorMap   = errors.New("container: color map size must be a power of two between 2 and 256")
	ErrBadPixel      = errors.New("container: pixel index exceeds the code size")
	ErrState         = errors.New("container: call out of order")
	ErrTooManyPixels = errors.New("container: more scanlines than the image height")
)

// ColorMap is a GIF colour table. Entries are opaque.
type ColorMap []color.NRGBA

// BitSize returns the number of bits needed to index every entry, at
// least 1 and at most 8.
func (cm ColorMap) BitSize() int {
	return BitSize(len(cm))
}

// BitSize returns the smallest b in [1, 8] with 1<<b >= n.
func BitSize(n int) int {
	b := 1
	for b < 8 && 1<<b < n {
		b++
	}
	return b
}

// ForEachRow calls fn with the row numbers of an h-row image in storage
// order: top to bottom, or in the four interlace passes.
func ForEachRow(h int, interlaced bool, fn func(y int) error) error {
	if !interlaced {
		for y := 0; y < h; y++ {
			if err := fn(y); err != nil {
				return err
			}
		}
		return nil
	}
	for pass := range InterlaceOffsets {
		for y := InterlaceOffsets[pass]; y < h; y += InterlaceJumps[pass] {
			if err := fn(y); err != nil {
				return err
			}
		}
	}
	return nil
}

func le16(b []byte) int { return int(binary.LittleEndian.Uint16(b)) }

func putLE16(b []byte, v int) { binary.LittleEndian.PutUint16(b, uint16(v)) }
