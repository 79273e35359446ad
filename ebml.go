package matroska

import (
	"bufio"
	"fmt"
	"io"
	"math/bits"
)

// SizeUnknown is returned by ReadVintSize when the element declares the
// all-ones "unknown size" sentinel. Containers with unknown size extend
// until the first element that is not a legal child, or end-of-stream.
const SizeUnknown = int64(-1)

// readAheadSize is deliberately small: almost every container boundary
// induces a seek, and a large buffer would be refilled just to be thrown
// away again.
const readAheadSize = 64

// EBMLReader provides buffered, position-tracked access to a seekable
// EBML byte stream. All other components address data through it by
// absolute offsets.
type EBMLReader struct {
	r    io.ReadSeeker
	buf  *bufio.Reader
	pos  int64
	size int64
}

// NewEBMLReader creates a new EBML reader over r. The total stream length
// is determined with a seek to the end; r is left positioned at the start.
func NewEBMLReader(r io.ReadSeeker) (*EBMLReader, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to measure stream: %w", err)
	}
	if _, err = r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind stream: %w", err)
	}
	return &EBMLReader{
		r:    r,
		buf:  bufio.NewReaderSize(r, readAheadSize),
		size: size,
	}, nil
}

// Position returns the current absolute offset.
func (er *EBMLReader) Position() int64 {
	return er.pos
}

// Len returns the total length of the stream in bytes.
func (er *EBMLReader) Len() int64 {
	return er.size
}

// Seek moves the reader to an absolute offset. Short forward seeks are
// served from the read-ahead buffer; everything else seeks the underlying
// stream and drops the buffer.
func (er *EBMLReader) Seek(offset int64) error {
	if offset == er.pos {
		return nil
	}
	if d := offset - er.pos; d > 0 && d <= int64(er.buf.Buffered()) {
		if _, err := er.buf.Discard(int(d)); err != nil {
			return err
		}
		er.pos = offset
		return nil
	}
	if _, err := er.r.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	er.buf.Reset(er.r)
	er.pos = offset
	return nil
}

// Skip advances the reader by n bytes without reading them.
func (er *EBMLReader) Skip(n int64) error {
	if n <= 0 {
		return nil
	}
	return er.Seek(er.pos + n)
}

// ReadByte reads a single byte.
func (er *EBMLReader) ReadByte() (byte, error) {
	b, err := er.buf.ReadByte()
	if err != nil {
		return 0, err
	}
	er.pos++
	return b, nil
}

// ReadFull reads exactly n bytes.
func (er *EBMLReader) ReadFull(n int64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if n < 0 || er.pos+n > er.size {
		return nil, io.ErrUnexpectedEOF
	}
	data := make([]byte, n)
	m, err := io.ReadFull(er.buf, data)
	er.pos += int64(m)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ReadVintID reads a variable-length integer in ID form: the leading
// length-marker bit is kept in the value, so IDs remain distinguishable as
// bit patterns. Returns the ID and the number of bytes consumed.
func (er *EBMLReader) ReadVintID() (uint32, int, error) {
	first, err := er.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	if first == 0 {
		return 0, 0, errInvalidVint
	}
	length := bits.LeadingZeros8(first) + 1
	if length > 4 {
		// Matroska IDs are at most 4 bytes.
		return 0, 0, errInvalidVint
	}
	value := uint32(first)
	for i := 1; i < length; i++ {
		b, errRead := er.ReadByte()
		if errRead != nil {
			return 0, 0, errRead
		}
		value = (value << 8) | uint32(b)
	}
	return value, length, nil
}

// ReadVintSize reads a variable-length integer in length form: the leading
// marker bit is cleared. The all-ones pattern decodes to SizeUnknown.
// Returns the size and the number of bytes consumed.
func (er *EBMLReader) ReadVintSize() (int64, int, error) {
	first, err := er.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	if first == 0 {
		return 0, 0, errInvalidVint
	}
	length := bits.LeadingZeros8(first) + 1
	value := uint64(first & (0xFF >> length))
	for i := 1; i < length; i++ {
		b, errRead := er.ReadByte()
		if errRead != nil {
			return 0, 0, errRead
		}
		value = (value << 8) | uint64(b)
	}
	if value == (uint64(1)<<(7*length))-1 {
		return SizeUnknown, length, nil
	}
	return int64(value), length, nil
}

// CopyN copies n bytes from the current position to w.
func (er *EBMLReader) CopyN(w io.Writer, n int64) (int64, error) {
	m, err := io.CopyN(w, er.buf, n)
	er.pos += m
	return m, err
}

// Close closes the underlying stream if it is closeable.
func (er *EBMLReader) Close() error {
	if c, ok := er.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
