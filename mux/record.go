// Package mux provides record-level demuxing and muxing of GIF streams.
//
// The demuxer indexes a GIF file into its screen descriptor, frames and
// extensions without decompressing any image data. Each frame keeps a
// zero-copy slice of its encoded image record, so the muxer can assemble
// a new stream with different timing, disposal, looping or comments
// while copying the pixels byte for byte.
package mux

import (
	"image"
	"image/color"

	"github.com/deepteams/gif/internal/container"
)

// Screen describes the logical screen of a GIF stream.
type Screen struct {
	Width           int
	Height          int
	BackgroundIndex int
	AspectRatio     byte
	ColorResolution int
	// GlobalColors is the global colour table, nil when absent.
	GlobalColors []color.NRGBA
}

func screenFrom(s container.ScreenDesc) Screen {
	return Screen{
		Width:           s.Width,
		Height:          s.Height,
		BackgroundIndex: s.BackgroundIndex,
		AspectRatio:     s.AspectRatio,
		ColorResolution: s.ColorResolution,
		GlobalColors:    s.ColorMap,
	}
}

func (s Screen) desc() container.ScreenDesc {
	var cm container.ColorMap
	if s.GlobalColors != nil {
		cm = padColorMap(s.GlobalColors)
	}
	return container.ScreenDesc{
		Width:           s.Width,
		Height:          s.Height,
		ColorResolution: s.ColorResolution,
		BackgroundIndex: s.BackgroundIndex,
		AspectRatio:     s.AspectRatio,
		ColorMap:        cm,
	}
}

// padColorMap pads cs with black to the next table size GIF can store.
func padColorMap(cs []color.NRGBA) container.ColorMap {
	n := 1 << container.BitSize(len(cs))
	cm := make(container.ColorMap, n)
	copy(cm, cs)
	for i := len(cs); i < n; i++ {
		cm[i] = color.NRGBA{A: 0xff}
	}
	return cm
}

// FrameInfo holds the metadata of one image record and its encoded bytes.
type FrameInfo struct {
	// Data is the raw image record: descriptor, local colour table and
	// LZW data. It aliases the demuxed input.
	Data []byte

	Bounds      image.Rectangle
	Interlaced  bool
	LocalColors int // local colour table size, 0 when absent

	// From the graphics control extension preceding the image.
	Duration         int // milliseconds
	Disposal         int
	UserInput        bool
	TransparentIndex int // -1 when the frame has no transparent colour

	// Offset is the position of Data in the input.
	Offset int64
}

// HasTransparency reports whether the frame has a transparent colour.
func (f *FrameInfo) HasTransparency() bool { return f.TransparentIndex >= 0 }
