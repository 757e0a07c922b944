package mux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/deepteams/gif/internal/container"
)

// FrameOptions specifies the graphics control of a muxed frame.
type FrameOptions struct {
	Duration         int // milliseconds, stored in hundredths
	Disposal         int
	UserInput        bool
	TransparentIndex int // -1 for none
}

type muxFrame struct {
	data     []byte // raw image record
	bounds   image.Rectangle
	hasLocal bool
	opts     FrameOptions
}

// Muxer assembles a GIF stream from encoded image records.
type Muxer struct {
	frames    []muxFrame
	screen    Screen
	comments  []string
	loopCount int
	// Explicit canvas size. When unset the canvas covers every frame.
	canvasWidth  int
	canvasHeight int
}

// maxDuration is the longest delay a graphics control extension holds,
// in milliseconds.
const maxDuration = 0xFFFF * 10

// maxLoopCount is the largest NETSCAPE2.0 loop count.
const maxLoopCount = 0xFFFF

var (
	ErrNoFrames      = errors.New("mux: no frames to assemble")
	ErrFrameEmpty    = errors.New("mux: frame data is not an image record")
	ErrMuxValidation = errors.New("mux: validation failed")
)

// NewMuxer creates a muxer with no loop extension.
func NewMuxer() *Muxer {
	return &Muxer{loopCount: -1}
}

// FromDemuxer creates a muxer holding every frame, comment and the loop
// count of d, ready to be edited and reassembled.
func FromDemuxer(d *Demuxer) *Muxer {
	m := NewMuxer()
	m.SetScreen(d.Screen())
	m.SetCanvasSize(d.screen.Width, d.screen.Height)
	m.loopCount = d.LoopCount()
	m.comments = append(m.comments, d.Comments()...)
	for i := range d.frames {
		f := &d.frames[i]
		// Records were validated while demuxing.
		_ = m.AddFrame(f.Data, &FrameOptions{
			Duration:         f.Duration,
			Disposal:         f.Disposal,
			UserInput:        f.UserInput,
			TransparentIndex: f.TransparentIndex,
		})
	}
	return m
}

// SetScreen sets the background index, aspect ratio, colour resolution
// and global colour table. Width and Height are ignored; see
// SetCanvasSize.
func (m *Muxer) SetScreen(s Screen) {
	m.screen = s
}

// SetCanvasSize explicitly sets the logical screen size. When either
// dimension is 0 the size is computed from the frame extents.
func (m *Muxer) SetCanvasSize(width, height int) {
	m.canvasWidth = width
	m.canvasHeight = height
}

// SetLoopCount sets the loop count (0 = infinite). Values are clamped to
// [0, maxLoopCount]. Use ClearLoop to play once without an extension.
func (m *Muxer) SetLoopCount(count int) {
	m.loopCount = max(0, min(count, maxLoopCount))
}

// ClearLoop removes the loop extension.
func (m *Muxer) ClearLoop() {
	m.loopCount = -1
}

// AddComment appends a comment extension.
func (m *Muxer) AddComment(text string) {
	m.comments = append(m.comments, text)
}

// ClearComments removes every comment.
func (m *Muxer) ClearComments() {
	m.comments = nil
}

// clampDuration clamps a frame duration in milliseconds to [0, maxDuration].
func clampDuration(d int) int {
	return max(0, min(d, maxDuration))
}

// AddFrame adds a raw image record. opts may be nil for a frame without
// transparency or delay.
func (m *Muxer) AddFrame(data []byte, opts *FrameOptions) error {
	if len(data) < 1+container.ImageDescSize+2 || data[0] != container.IntroImage {
		return ErrFrameEmpty
	}
	f := muxFrame{data: data, opts: FrameOptions{TransparentIndex: -1}}
	if opts != nil {
		f.opts = *opts
	}
	f.opts.Duration = clampDuration(f.opts.Duration)
	x := int(binary.LittleEndian.Uint16(data[1:3]))
	y := int(binary.LittleEndian.Uint16(data[3:5]))
	w := int(binary.LittleEndian.Uint16(data[5:7]))
	h := int(binary.LittleEndian.Uint16(data[7:9]))
	f.bounds = image.Rect(x, y, x+w, y+h)
	f.hasLocal = data[9]&0x80 != 0
	m.frames = append(m.frames, f)
	return nil
}

// SetFrameDuration updates the duration in milliseconds of an added frame.
func (m *Muxer) SetFrameDuration(index int, durationMS int) {
	if index >= 0 && index < len(m.frames) {
		m.frames[index].opts.Duration = clampDuration(durationMS)
	}
}

// FrameDuration returns the duration in milliseconds of the frame at
// index, or 0 when out of range.
func (m *Muxer) FrameDuration(index int) int {
	if index < 0 || index >= len(m.frames) {
		return 0
	}
	return m.frames[index].opts.Duration
}

// SetFrameDisposal updates the disposal method of an added frame.
func (m *Muxer) SetFrameDisposal(index int, disposal int) {
	if index >= 0 && index < len(m.frames) {
		m.frames[index].opts.Disposal = disposal & 7
	}
}

// NumFrames returns the number of frames added so far.
func (m *Muxer) NumFrames() int {
	return len(m.frames)
}

// Assemble writes the complete GIF stream to w.
func (m *Muxer) Assemble(w io.Writer) error {
	if err := m.validate(); err != nil {
		return err
	}
	s := m.screen
	s.Width, s.Height = m.canvasSize()

	cw := container.NewWriter(w)
	if err := cw.PutScreenDesc(s.desc()); err != nil {
		return err
	}
	if m.loopCount >= 0 {
		if err := cw.PutLoop(m.loopCount); err != nil {
			return err
		}
	}
	for _, c := range m.comments {
		if err := cw.PutComment(c); err != nil {
			return err
		}
	}
	for i, f := range m.frames {
		gc := container.GraphicsControl{
			Disposal:         f.opts.Disposal,
			UserInput:        f.opts.UserInput,
			Delay:            f.opts.Duration / 10,
			TransparentIndex: f.opts.TransparentIndex,
		}
		if err := cw.PutGraphicsControl(gc); err != nil {
			return err
		}
		if err := cw.PutImageRecord(f.data); err != nil {
			return fmt.Errorf("mux: frame %d: %w", i, err)
		}
	}
	return cw.Close()
}

// validate checks the muxer state for consistency before assembling.
func (m *Muxer) validate() error {
	if len(m.frames) == 0 {
		return ErrNoFrames
	}
	if len(m.screen.GlobalColors) > 256 {
		return fmt.Errorf("%w: global colour table of %d entries", ErrMuxValidation, len(m.screen.GlobalColors))
	}
	canvasW, canvasH := m.canvasSize()
	if canvasW > 0xFFFF || canvasH > 0xFFFF {
		return fmt.Errorf("%w: canvas %dx%d too large", ErrMuxValidation, canvasW, canvasH)
	}
	canvas := image.Rect(0, 0, canvasW, canvasH)
	for i, f := range m.frames {
		if !f.bounds.In(canvas) {
			return fmt.Errorf("%w: frame %d (%v) exceeds canvas (%dx%d)",
				ErrMuxValidation, i, f.bounds, canvasW, canvasH)
		}
		if !f.hasLocal && m.screen.GlobalColors == nil {
			return fmt.Errorf("%w: frame %d has no colour table", ErrMuxValidation, i)
		}
		if t := f.opts.TransparentIndex; t > 255 {
			return fmt.Errorf("%w: frame %d transparent index %d", ErrMuxValidation, i, t)
		}
	}
	return nil
}

// canvasSize determines the logical screen size: the explicit size when
// set, otherwise the union of every frame rectangle.
func (m *Muxer) canvasSize() (int, int) {
	if m.canvasWidth > 0 && m.canvasHeight > 0 {
		return m.canvasWidth, m.canvasHeight
	}
	var u image.Rectangle
	for _, f := range m.frames {
		u = u.Union(f.bounds)
	}
	return u.Max.X, u.Max.Y
}
