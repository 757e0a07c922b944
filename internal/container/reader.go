package container

import (
	"bufio"
	"bytes"
	"compress/lzw"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/deepteams/gif/internal/bitio"
)

// RecordType is the kind of the next record in the stream.
type RecordType int

const (
	RecordImageDesc RecordType = iota
	RecordExtension
	RecordTerminate
)

// ScreenDesc is the header and logical screen descriptor.
type ScreenDesc struct {
	Version         string // "87a" or "89a"
	Width, Height   int
	ColorResolution int // bits per primary colour, 1..8
	BackgroundIndex int
	AspectRatio     byte
	ColorMap        ColorMap // global colour table, nil when absent
}

// ImageDesc describes one image record.
type ImageDesc struct {
	Left, Top     int
	Width, Height int
	Interlace     bool
	ColorMap      ColorMap // local colour table, nil when absent
}

// Bounds returns the image rectangle on the logical screen.
func (d ImageDesc) Bounds() image.Rectangle {
	return image.Rect(d.Left, d.Top, d.Left+d.Width, d.Top+d.Height)
}

// Extension is a raw extension record: its label and sub-block payloads.
type Extension struct {
	Label  byte
	Blocks [][]byte
}

// GraphicsControl is the decoded graphics control extension.
type GraphicsControl struct {
	Disposal         int
	UserInput        bool
	Delay            int // hundredths of a second
	TransparentIndex int // -1 when there is no transparent colour
}

// GraphicsControl decodes e when it is a graphics control extension.
func (e Extension) GraphicsControl() (GraphicsControl, error) {
	if e.Label != LabelGraphicsControl || len(e.Blocks) == 0 || len(e.Blocks[0]) < GraphicsControlSize {
		return GraphicsControl{}, ErrBadExtension
	}
	b := e.Blocks[0]
	gc := GraphicsControl{
		Disposal:         int(b[0]>>2) & 7,
		UserInput:        b[0]&0x02 != 0,
		Delay:            le16(b[1:3]),
		TransparentIndex: -1,
	}
	if b[0]&flagTransparent != 0 {
		gc.TransparentIndex = int(b[3])
	}
	return gc, nil
}

// LoopCount returns the repeat count of a NETSCAPE2.0 (or ANIMEXTS1.0)
// application extension. ok is false for any other extension.
func (e Extension) LoopCount() (count int, ok bool) {
	if e.Label != LabelApplication || len(e.Blocks) < 2 {
		return 0, false
	}
	id := e.Blocks[0]
	if !bytes.Equal(id, []byte("NETSCAPE2.0")) && !bytes.Equal(id, []byte("ANIMEXTS1.0")) {
		return 0, false
	}
	sub := e.Blocks[1]
	if len(sub) < 3 || sub[0] != 1 {
		return 0, false
	}
	return le16(sub[1:3]), true
}

// countingReader tracks how many bytes the buffered reader pulled.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Reader walks the records of a GIF stream. Typical use:
//
//	r, err := container.NewReader(f)
//	for {
//		t, err := r.ReadRecordType()
//		switch t {
//		case container.RecordImageDesc:
//			desc, err := r.ReadImageDesc()
//			err = r.ReadPixels(pix, desc)
//		case container.RecordExtension:
//			ext, err := r.ReadExtension()
//		case container.RecordTerminate:
//			return
//		}
//	}
type Reader struct {
	src    *countingReader
	r      *bufio.Reader
	screen ScreenDesc

	// Open image data, between ReadImageDesc and the last scanline.
	desc   ImageDesc
	blocks *bitio.BlockReader
	lzw    io.ReadCloser
	rows   int
}

// NewReader reads the header and logical screen descriptor.
func NewReader(r io.Reader) (*Reader, error) {
	src := &countingReader{r: r}
	rd := &Reader{src: src, r: bufio.NewReader(src)}
	if err := rd.readScreen(); err != nil {
		return nil, err
	}
	return rd, nil
}

// Screen returns the logical screen descriptor.
func (r *Reader) Screen() ScreenDesc { return r.screen }

// Offset returns the number of input bytes consumed so far, counting
// read-ahead buffering.
func (r *Reader) Offset() int64 { return r.src.n - int64(r.r.Buffered()) }

func (r *Reader) readScreen() error {
	var hdr [HeaderSize + ScreenDescSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrNotGIF, err)
	}
	sig := string(hdr[:HeaderSize])
	if sig != "GIF87a" && sig != "GIF89a" {
		return ErrNotGIF
	}
	lsd := hdr[HeaderSize:]
	packed := lsd[4]
	r.screen = ScreenDesc{
		Version:         sig[3:],
		Width:           le16(lsd[0:2]),
		Height:          le16(lsd[2:4]),
		ColorResolution: int((packed>>4)&7) + 1,
		BackgroundIndex: int(lsd[5]),
		AspectRatio:     lsd[6],
	}
	if packed&flagColorTable != 0 {
		cm, err := r.readColorMap(1 << (int(packed&maskTableSize) + 1))
		if err != nil {
			return err
		}
		r.screen.ColorMap = cm
	}
	return nil
}

func (r *Reader) readColorMap(n int) (ColorMap, error) {
	var raw [3 * MaxColors]byte
	if _, err := io.ReadFull(r.r, raw[:3*n]); err != nil {
		return nil, fmt.Errorf("%w: truncated color table", ErrNoColorMap)
	}
	cm := make(ColorMap, n)
	for i := range cm {
		cm[i] = color.NRGBA{R: raw[3*i], G: raw[3*i+1], B: raw[3*i+2], A: 0xff}
	}
	return cm, nil
}

// ReadRecordType reads the next block introducer.
func (r *Reader) ReadRecordType() (RecordType, error) {
	if r.lzw != nil {
		return 0, ErrState
	}
	c, err := r.r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	switch c {
	case IntroImage:
		return RecordImageDesc, nil
	case IntroExtension:
		return RecordExtension, nil
	case IntroTrailer:
		return RecordTerminate, nil
	}
	return 0, fmt.Errorf("%w: introducer 0x%02x", ErrBadRecord, c)
}

// ReadImageDesc reads an image descriptor and opens its image data. The
// caller must then read exactly Height scanlines with ReadLine, or call
// ReadPixels once.
func (r *Reader) ReadImageDesc() (ImageDesc, error) {
	var b [ImageDescSize]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return ImageDesc{}, fmt.Errorf("%w: %v", ErrBadImageDesc, err)
	}
	d := ImageDesc{
		Left:      le16(b[0:2]),
		Top:       le16(b[2:4]),
		Width:     le16(b[4:6]),
		Height:    le16(b[6:8]),
		Interlace: b[8]&flagInterlace != 0,
	}
	if b[8]&flagColorTable != 0 {
		cm, err := r.readColorMap(1 << (int(b[8]&maskTableSize) + 1))
		if err != nil {
			return ImageDesc{}, fmt.Errorf("%w: %v", ErrBadImageDesc, err)
		}
		d.ColorMap = cm
	}

	litWidth, err := r.r.ReadByte()
	if err != nil {
		return ImageDesc{}, fmt.Errorf("%w: missing LZW code size", ErrBadImageDesc)
	}
	if litWidth < 2 || litWidth > 8 {
		return ImageDesc{}, fmt.Errorf("%w: LZW code size %d", ErrBadImageDesc, litWidth)
	}

	r.desc = d
	r.rows = 0
	r.blocks = bitio.NewBlockReader(r.r)
	r.lzw = lzw.NewReader(r.blocks, lzw.LSB, int(litWidth))
	if d.Width == 0 || d.Height == 0 {
		if err := r.closeImage(); err != nil {
			return ImageDesc{}, err
		}
	}
	return d, nil
}

// ReadLine reads the next scanline in storage order into line, which must
// be Width bytes long. For interlaced images rows arrive in pass order.
func (r *Reader) ReadLine(line []byte) error {
	if r.lzw == nil {
		return ErrState
	}
	if len(line) != r.desc.Width {
		return fmt.Errorf("%w: line of %d bytes for width %d", ErrBadImageData, len(line), r.desc.Width)
	}
	if _, err := io.ReadFull(r.lzw, line); err != nil {
		r.abortImage()
		if r.desc.Interlace {
			return fmt.Errorf("%w: %v", ErrBadInterlace, err)
		}
		return fmt.Errorf("%w: %v", ErrBadImageData, err)
	}
	r.rows++
	if r.rows == r.desc.Height {
		return r.closeImage()
	}
	return nil
}

// ReadPixels reads the whole image into pix in display order, undoing
// interlacing. stride is the distance between rows of pix.
func (r *Reader) ReadPixels(pix []byte, stride int) error {
	d := r.desc
	if d.Width == 0 || d.Height == 0 {
		return nil
	}
	if stride < d.Width || len(pix) < (d.Height-1)*stride+d.Width {
		return fmt.Errorf("%w: buffer too small", ErrBadImageData)
	}
	return ForEachRow(d.Height, d.Interlace, func(y int) error {
		return r.ReadLine(pix[y*stride : y*stride+d.Width])
	})
}

// closeImage skips whatever image data is left after the last scanline.
func (r *Reader) closeImage() error {
	r.lzw.Close()
	_, err := r.blocks.Drain()
	r.lzw, r.blocks = nil, nil
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadImageData, err)
	}
	return nil
}

// SkipImage discards the rest of the open image data without decoding it.
// It is a no-op when no image is open.
func (r *Reader) SkipImage() error {
	if r.lzw == nil {
		return nil
	}
	return r.closeImage()
}

func (r *Reader) abortImage() {
	if r.lzw != nil {
		r.lzw.Close()
	}
	r.lzw, r.blocks = nil, nil
}

// ReadExtension reads an extension record after its introducer.
func (r *Reader) ReadExtension() (Extension, error) {
	label, err := r.r.ReadByte()
	if err != nil {
		return Extension{}, fmt.Errorf("%w: %v", ErrBadExtension, err)
	}
	blocks, err := bitio.ReadBlocks(r.r)
	if err != nil {
		return Extension{}, fmt.Errorf("%w: %v", ErrBadExtension, err)
	}
	return Extension{Label: label, Blocks: blocks}, nil
}

// IsFormatError reports whether err was caused by malformed input rather
// than a failing reader.
func IsFormatError(err error) bool {
	for _, e := range []error{ErrNotGIF, ErrBadRecord, ErrBadImageDesc, ErrBadImageData, ErrBadInterlace, ErrBadExtension, ErrNoColorMap} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
