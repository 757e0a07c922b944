package mux

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/deepteams/gif/internal/container"
)

// Features describes the properties of a GIF stream visible without
// decoding pixels.
type Features struct {
	Width           int
	Height          int
	Version         string // "87a" or "89a"
	HasTransparency bool
	HasAnimation    bool
	GlobalColors    int
	FrameCount      int
}

// Demuxer indexes a GIF stream held in memory.
type Demuxer struct {
	data      []byte
	screen    Screen
	version   string
	frames    []FrameInfo
	comments  []string
	loopCount int
}

// maxFrames bounds the number of images indexed from untrusted input.
const maxFrames = 100000

var (
	ErrNoImage       = errors.New("mux: no image data found")
	ErrFrameOutRange = errors.New("mux: frame index out of range")
	ErrTooManyFrames = errors.New("mux: too many frames")
)

// NewDemuxer parses the GIF stream in data. The returned frames alias data.
func NewDemuxer(data []byte) (*Demuxer, error) {
	d := &Demuxer{data: data, loopCount: -1}
	if err := d.parse(); err != nil {
		return nil, err
	}
	return d, nil
}

// GetFeatures returns the features of the stream.
func (d *Demuxer) GetFeatures() Features {
	f := Features{
		Width:        d.screen.Width,
		Height:       d.screen.Height,
		Version:      d.version,
		HasAnimation: len(d.frames) > 1,
		GlobalColors: len(d.screen.GlobalColors),
		FrameCount:   len(d.frames),
	}
	for i := range d.frames {
		if d.frames[i].HasTransparency() {
			f.HasTransparency = true
			break
		}
	}
	return f
}

// Screen returns the logical screen descriptor.
func (d *Demuxer) Screen() Screen { return d.screen }

// NumFrames returns the number of frames.
func (d *Demuxer) NumFrames() int {
	return len(d.frames)
}

// Frame returns frame info for the given 0-based index.
func (d *Demuxer) Frame(index int) (*FrameInfo, error) {
	if index < 0 || index >= len(d.frames) {
		return nil, ErrFrameOutRange
	}
	fi := d.frames[index]
	return &fi, nil
}

// LoopCount returns the NETSCAPE2.0 loop count: 0 loops forever, -1 means
// the stream has no loop extension.
func (d *Demuxer) LoopCount() int {
	return d.loopCount
}

// Comments returns the text of the comment extensions in stream order.
func (d *Demuxer) Comments() []string {
	return d.comments
}

// FrameIterator provides streaming access to frames.
type FrameIterator struct {
	d   *Demuxer
	pos int
}

// NewFrameIterator returns a new iterator starting at frame 0.
func (d *Demuxer) NewFrameIterator() *FrameIterator {
	return &FrameIterator{d: d, pos: 0}
}

// HasNext reports whether more frames are available.
func (it *FrameIterator) HasNext() bool {
	return it.pos < len(it.d.frames)
}

// Next returns the next frame and advances the iterator.
func (it *FrameIterator) Next() (*FrameInfo, error) {
	if !it.HasNext() {
		return nil, ErrFrameOutRange
	}
	fi := it.d.frames[it.pos]
	it.pos++
	return &fi, nil
}

// parse walks every record, skipping image data without decompressing
// it. A graphics control extension applies to the next image only.
func (d *Demuxer) parse() error {
	r, err := container.NewReader(bytes.NewReader(d.data))
	if err != nil {
		return err
	}
	s := r.Screen()
	d.screen = screenFrom(s)
	d.version = s.Version

	gc := container.GraphicsControl{TransparentIndex: -1}
	for {
		start := r.Offset()
		rt, err := r.ReadRecordType()
		if err != nil {
			return err
		}
		switch rt {
		case container.RecordTerminate:
			if len(d.frames) == 0 {
				return ErrNoImage
			}
			return nil

		case container.RecordExtension:
			ext, err := r.ReadExtension()
			if err != nil {
				return err
			}
			switch ext.Label {
			case container.LabelGraphicsControl:
				if g, err := ext.GraphicsControl(); err == nil {
					gc = g
				}
			case container.LabelComment:
				d.comments = append(d.comments, commentText(ext.Blocks))
			default:
				if n, ok := ext.LoopCount(); ok {
					d.loopCount = n
				}
			}

		case container.RecordImageDesc:
			if len(d.frames) >= maxFrames {
				return ErrTooManyFrames
			}
			desc, err := r.ReadImageDesc()
			if err != nil {
				return err
			}
			if err := r.SkipImage(); err != nil {
				return fmt.Errorf("mux: frame %d: %w", len(d.frames), err)
			}
			end := r.Offset()
			d.frames = append(d.frames, FrameInfo{
				Data:             d.data[start:end:end],
				Bounds:           desc.Bounds(),
				Interlaced:       desc.Interlace,
				LocalColors:      len(desc.ColorMap),
				Duration:         gc.Delay * 10,
				Disposal:         gc.Disposal,
				UserInput:        gc.UserInput,
				TransparentIndex: gc.TransparentIndex,
				Offset:           start,
			})
			gc = container.GraphicsControl{TransparentIndex: -1}
		}
	}
}

// commentText joins comment sub-blocks, replacing invalid UTF-8.
func commentText(blocks [][]byte) string {
	b := bytes.Join(blocks, nil)
	if utf8.Valid(b) {
		return string(b)
	}
	return string(bytes.ToValidUTF8(b, []byte("�")))
}
