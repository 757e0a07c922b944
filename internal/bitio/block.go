// Package bitio frames byte streams into GIF data sub-blocks.
//
// GIF stores image data and extension payloads as a sequence of
// sub-blocks, each a length byte n (1..255) followed by n bytes, closed by
// a zero length byte. BlockReader and BlockWriter hide that framing so the
// LZW coder sees a plain byte stream.
package bitio

import (
	"errors"
	"io"
)

// MaxBlockSize is the largest payload of one sub-block.
const MaxBlockSize = 255

// ErrShortBlock is returned when the stream ends inside a sub-block.
var ErrShortBlock = errors.New("bitio: truncated data sub-block")

// ByteReader is the input a BlockReader needs. *bufio.Reader satisfies it.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// BlockReader reads the payload of consecutive sub-blocks as one stream.
// Read returns io.EOF once the terminating zero-length block is consumed.
type BlockReader struct {
	r     ByteReader
	slice []byte
	err   error
	tmp   [MaxBlockSize]byte
}

// NewBlockReader returns a reader positioned on a sub-block length byte.
func NewBlockReader(r ByteReader) *BlockReader {
	return &BlockReader{r: r}
}

func (b *BlockReader) fill() {
	if b.err != nil {
		return
	}
	var n byte
	n, b.err = b.r.ReadByte()
	if b.err != nil {
		if b.err == io.EOF {
			b.err = ErrShortBlock
		}
		return
	}
	if n == 0 {
		b.err = io.EOF
		return
	}
	b.slice = b.tmp[:n]
	if _, err := io.ReadFull(b.r, b.slice); err != nil {
		b.slice = nil
		b.err = ErrShortBlock
	}
}

func (b *BlockReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, b.err
	}
	if len(b.slice) == 0 {
		b.fill()
		if len(b.slice) == 0 {
			return 0, b.err
		}
	}
	n := copy(p, b.slice)
	b.slice = b.slice[n:]
	return n, nil
}

// ReadByte implements io.ByteReader, which lets compress/lzw read without
// its own buffering.
func (b *BlockReader) ReadByte() (byte, error) {
	if len(b.slice) == 0 {
		b.fill()
		if len(b.slice) == 0 {
			return 0, b.err
		}
	}
	c := b.slice[0]
	b.slice = b.slice[1:]
	return c, nil
}

// Drain discards the rest of the stream up to and including the
// terminator. It returns the number of payload bytes skipped.
func (b *BlockReader) Drain() (int, error) {
	skipped := len(b.slice)
	b.slice = nil
	for b.err == nil {
		b.fill()
		skipped += len(b.slice)
		b.slice = nil
	}
	if b.err == io.EOF {
		return skipped, nil
	}
	return skipped, b.err
}

// ReadBlocks reads sub-blocks up to the terminator and returns each
// payload as its own slice.
func ReadBlocks(r ByteReader) ([][]byte, error) {
	var out [][]byte
	for {
		n, err := r.ReadByte()
		if err != nil {
			return out, ErrShortBlock
		}
		if n == 0 {
			return out, nil
		}
		blk := make([]byte, n)
		if _, err := io.ReadFull(r, blk); err != nil {
			return out, ErrShortBlock
		}
		out = append(out, blk)
	}
}

// BlockWriter splits a byte stream into sub-blocks. Close writes any
// pending payload and the terminator; it does not close the underlying
// writer.
type BlockWriter struct {
	w   io.Writer
	buf [1 + MaxBlockSize]byte
	n   int
	err error
}

// NewBlockWriter returns a writer emitting sub-blocks to w.
func NewBlockWriter(w io.Writer) *BlockWriter {
	return &BlockWriter{w: w}
}

func (b *BlockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 && b.err == nil {
		c := copy(b.buf[1+b.n:], p)
		b.n += c
		total += c
		p = p[c:]
		if b.n == MaxBlockSize {
			b.flush()
		}
	}
	return total, b.err
}

// WriteByte implements io.ByteWriter.
func (b *BlockWriter) WriteByte(c byte) error {
	_, err := b.Write([]byte{c})
	return err
}

func (b *BlockWriter) flush() {
	if b.n == 0 || b.err != nil {
		return
	}
	b.buf[0] = byte(b.n)
	_, b.err = b.w.Write(b.buf[:1+b.n])
	b.n = 0
}

// Close flushes the last partial block and writes the terminator.
func (b *BlockWriter) Close() error {
	b.flush()
	if b.err != nil {
		return b.err
	}
	if _, b.err = b.w.Write([]byte{0}); b.err != nil {
		return b.err
	}
	b.err = errClosed
	return nil
}

var errClosed = errors.New("bitio: write to closed block writer")
