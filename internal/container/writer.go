package container

import (
	"bufio"
	"compress/lzw"
	"fmt"
	"io"

	"github.com/deepteams/gif/internal/bitio"
)

// Writer emits GIF89a records. Records must be written in stream order:
// PutScreenDesc first, then any mix of extensions and images, then Close.
type Writer struct {
	w       *bufio.Writer
	started bool

	// Open image data, between PutImageDesc and the last scanline.
	desc     ImageDesc
	litWidth int
	blocks   *bitio.BlockWriter
	lzw      io.WriteCloser
	rows     int

	scratch [3 * MaxColors]byte
}

// NewWriter returns a writer buffering output to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// PutScreenDesc writes the header and logical screen descriptor. A nil
// ColorMap omits the global colour table.
func (w *Writer) PutScreenDesc(s ScreenDesc) error {
	if w.started {
		return ErrState
	}
	w.started = true
	if _, err := io.WriteString(w.w, "GIF89a"); err != nil {
		return err
	}
	var b [ScreenDescSize]byte
	putLE16(b[0:2], s.Width)
	putLE16(b[2:4], s.Height)
	res := s.ColorResolution
	if res < 1 || res > 8 {
		res = 8
	}
	b[4] = byte(res-1) << 4
	if s.ColorMap != nil {
		if err := checkColorMap(s.ColorMap); err != nil {
			return err
		}
		b[4] |= flagColorTable | byte(s.ColorMap.BitSize()-1)
	}
	b[5] = byte(s.BackgroundIndex)
	b[6] = s.AspectRatio
	if _, err := w.w.Write(b[:]); err != nil {
		return err
	}
	return w.putColorMap(s.ColorMap)
}

func checkColorMap(cm ColorMap) error {
	n := len(cm)
	if n < 2 || n > MaxColors || n&(n-1) != 0 {
		return fmt.Errorf("%w: got %d entries", ErrBadColorMap, n)
	}
	return nil
}

func (w *Writer) putColorMap(cm ColorMap) error {
	if cm == nil {
		return nil
	}
	b := w.scratch[:3*len(cm)]
	for i, c := range cm {
		b[3*i], b[3*i+1], b[3*i+2] = c.R, c.G, c.B
	}
	_, err := w.w.Write(b)
	return err
}

// PutLoop writes the NETSCAPE2.0 application extension. A count of 0
// loops forever.
func (w *Writer) PutLoop(count int) error {
	sub := []byte{1, 0, 0}
	putLE16(sub[1:3], count)
	return w.PutExtension(Extension{
		Label:  LabelApplication,
		Blocks: [][]byte{[]byte("NETSCAPE2.0"), sub},
	})
}

// PutGraphicsControl writes a graphics control extension.
func (w *Writer) PutGraphicsControl(gc GraphicsControl) error {
	b := make([]byte, GraphicsControlSize)
	b[0] = byte(gc.Disposal&7) << 2
	if gc.UserInput {
		b[0] |= 0x02
	}
	if gc.TransparentIndex >= 0 {
		b[0] |= flagTransparent
		b[3] = byte(gc.TransparentIndex)
	}
	putLE16(b[1:3], gc.Delay)
	return w.PutExtension(Extension{Label: LabelGraphicsControl, Blocks: [][]byte{b}})
}

// PutComment writes a comment extension.
func (w *Writer) PutComment(text string) error {
	var blocks [][]byte
	for b := []byte(text); len(b) > 0; {
		n := min(len(b), bitio.MaxBlockSize)
		blocks = append(blocks, b[:n])
		b = b[n:]
	}
	return w.PutExtension(Extension{Label: LabelComment, Blocks: blocks})
}

// PutExtension writes an extension record. Each block must hold at most
// 255 bytes; empty blocks are skipped since a zero length ends the record.
func (w *Writer) PutExtension(e Extension) error {
	if !w.started || w.lzw != nil {
		return ErrState
	}
	if err := w.w.WriteByte(IntroExtension); err != nil {
		return err
	}
	if err := w.w.WriteByte(e.Label); err != nil {
		return err
	}
	for _, b := range e.Blocks {
		if len(b) == 0 {
			continue
		}
		if len(b) > bitio.MaxBlockSize {
			return fmt.Errorf("%w: sub-block of %d bytes", ErrBadExtension, len(b))
		}
		if err := w.w.WriteByte(byte(len(b))); err != nil {
			return err
		}
		if _, err := w.w.Write(b); err != nil {
			return err
		}
	}
	return w.w.WriteByte(0)
}

// PutImageDesc writes an image descriptor with its optional local colour
// table and starts the LZW image data. litWidth is the code size, raised
// to 2 when smaller. Exactly Height scanlines must follow.
func (w *Writer) PutImageDesc(d ImageDesc, litWidth int) error {
	if !w.started || w.lzw != nil {
		return ErrState
	}
	litWidth = max(litWidth, 2)
	if litWidth > 8 {
		return fmt.Errorf("%w: LZW code size %d", ErrBadImageDesc, litWidth)
	}
	var b [1 + ImageDescSize]byte
	b[0] = IntroImage
	putLE16(b[1:3], d.Left)
	putLE16(b[3:5], d.Top)
	putLE16(b[5:7], d.Width)
	putLE16(b[7:9], d.Height)
	if d.Interlace {
		b[9] |= flagInterlace
	}
	if d.ColorMap != nil {
		if err := checkColorMap(d.ColorMap); err != nil {
			return err
		}
		b[9] |= flagColorTable | byte(d.ColorMap.BitSize()-1)
	}
	if _, err := w.w.Write(b[:]); err != nil {
		return err
	}
	if err := w.putColorMap(d.ColorMap); err != nil {
		return err
	}
	if err := w.w.WriteByte(byte(litWidth)); err != nil {
		return err
	}
	w.desc = d
	w.litWidth = litWidth
	w.rows = 0
	w.blocks = bitio.NewBlockWriter(w.w)
	w.lzw = lzw.NewWriter(w.blocks, lzw.LSB, litWidth)
	if d.Width == 0 || d.Height == 0 {
		return w.closeImage()
	}
	return nil
}

// PutImageRecord copies an already encoded image record: descriptor,
// local colour table and image data up to and including the block
// terminator.
func (w *Writer) PutImageRecord(raw []byte) error {
	if !w.started || w.lzw != nil {
		return ErrState
	}
	if len(raw) < 1+ImageDescSize+2 || raw[0] != IntroImage || raw[len(raw)-1] != 0 {
		return fmt.Errorf("%w: not an image record", ErrBadImageDesc)
	}
	_, err := w.w.Write(raw)
	return err
}

// PutLine writes the next scanline in storage order. For interlaced
// images the caller supplies rows in pass order; see ForEachRow.
func (w *Writer) PutLine(line []byte) error {
	if w.lzw == nil {
		return ErrTooManyPixels
	}
	if len(line) != w.desc.Width {
		return fmt.Errorf("%w: line of %d bytes for width %d", ErrBadImageData, len(line), w.desc.Width)
	}
	limit := byte(1<<w.litWidth - 1)
	for _, p := range line {
		if p > limit {
			return fmt.Errorf("%w: %d with code size %d", ErrBadPixel, p, w.litWidth)
		}
	}
	if _, err := w.lzw.Write(line); err != nil {
		return err
	}
	w.rows++
	if w.rows == w.desc.Height {
		return w.closeImage()
	}
	return nil
}

// PutPixels writes a whole image held in display order, interlacing it
// if the descriptor asked for that.
func (w *Writer) PutPixels(pix []byte, stride int) error {
	d := w.desc
	if w.lzw == nil {
		return ErrState
	}
	return ForEachRow(d.Height, d.Interlace, func(y int) error {
		return w.PutLine(pix[y*stride : y*stride+d.Width])
	})
}

func (w *Writer) closeImage() error {
	err := w.lzw.Close()
	if err == nil {
		err = w.blocks.Close()
	}
	w.lzw, w.blocks = nil, nil
	return err
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error { return w.w.Flush() }

// Close writes the trailer and flushes. It does not close the underlying
// writer.
func (w *Writer) Close() error {
	if !w.started || w.lzw != nil {
		return ErrState
	}
	if err := w.w.WriteByte(IntroTrailer); err != nil {
		return err
	}
	return w.w.Flush()
}
