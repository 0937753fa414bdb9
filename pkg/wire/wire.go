// Package wire implements the legacy length-prefixed binary codec: a
// fixed-width header followed by a body whose field types and order are
// fixed per message ID. See pkg/wire/messages.go for the message ID table
// and pkg/dispatch for the component that turns decoded bodies into
// handler calls.
package wire

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
)

// HeaderLen is the fixed size, in bytes, of every frame's header.
const HeaderLen = 8

// Header is the fixed-width preamble of every legacy frame. MsgLen is the
// total frame size (header + body); FeatureFlags is message-specific and
// consulted by some message bodies to decide on conditional fields.
type Header struct {
	MsgLen       uint32
	MsgID        uint16
	FeatureFlags uint16
}

// PutHeader writes h into the first HeaderLen bytes of buf. buf must be at
// least HeaderLen bytes long.
func PutHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.MsgLen)
	binary.LittleEndian.PutUint16(buf[4:6], h.MsgID)
	binary.LittleEndian.PutUint16(buf[6:8], h.FeatureFlags)
}

// ParseHeader reads a Header from the first HeaderLen bytes of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, mgmterr.Newf(mgmterr.Codec, "header needs %d bytes, got %d", HeaderLen, len(buf))
	}
	return Header{
		MsgLen:       binary.LittleEndian.Uint32(buf[0:4]),
		MsgID:        binary.LittleEndian.Uint16(buf[4:6]),
		FeatureFlags: binary.LittleEndian.Uint16(buf[6:8]),
	}, nil
}

// FieldHint selects, per field, which sequence/map/string variant the
// codec should apply. The hint is always supplied explicitly by the
// message schema that calls the encoder/decoder; it is never inferred
// from the value being encoded.
type FieldHint struct {
	// WithSizePrefix, for a Seq or Map field, additionally writes/reads a
	// leading u32 total-byte-size prefix before the element count.
	WithSizePrefix bool
	// AlignTo, for a CStr field, pads the written bytes (length prefix +
	// payload + NUL) up to a multiple of AlignTo. Zero means no padding.
	AlignTo int
}

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// AcquireBuffer returns a reset *bytes.Buffer from the shared pool.
func AcquireBuffer() *bytes.Buffer {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// ReleaseBuffer returns buf to the shared pool.
func ReleaseBuffer(buf *bytes.Buffer) {
	bufPool.Put(buf)
}

// Encoder serializes a message body into a pooled byte buffer, little-
// endian, matching the legacy wire format.
type Encoder struct {
	buf *bytes.Buffer
}

// NewEncoder wraps buf for encoding. buf is typically obtained from
// AcquireBuffer and must already be positioned (e.g. past a reserved
// header) where the caller wants the body to start.
func NewEncoder(buf *bytes.Buffer) *Encoder {
	return &Encoder{buf: buf}
}

// Len returns the number of bytes written into the underlying buffer so
// far (including anything written before the Encoder was constructed).
func (e *Encoder) Len() int { return e.buf.Len() }

// Bytes returns the encoder's backing buffer contents.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *Encoder) U8(v uint8)   { e.buf.WriteByte(v) }
func (e *Encoder) I8(v int8)    { e.buf.WriteByte(byte(v)) }
func (e *Encoder) U16(v uint16) { e.putFixed(2, func(b []byte) { binary.LittleEndian.PutUint16(b, v) }) }
func (e *Encoder) I16(v int16)  { e.U16(uint16(v)) }
func (e *Encoder) U32(v uint32) { e.putFixed(4, func(b []byte) { binary.LittleEndian.PutUint32(b, v) }) }
func (e *Encoder) I32(v int32)  { e.U32(uint32(v)) }
func (e *Encoder) U64(v uint64) { e.putFixed(8, func(b []byte) { binary.LittleEndian.PutUint64(b, v) }) }
func (e *Encoder) I64(v int64)  { e.U64(uint64(v)) }

func (e *Encoder) putFixed(n int, put func([]byte)) {
	var tmp [8]byte
	put(tmp[:n])
	e.buf.Write(tmp[:n])
}

// RawBytes writes raw bytes with no length prefix.
func (e *Encoder) RawBytes(v []byte) { e.buf.Write(v) }

// Zeroes writes n zero bytes, used for CStr alignment padding.
func (e *Encoder) Zeroes(n int) {
	if n <= 0 {
		return
	}
	var zero [64]byte
	for n > 0 {
		chunk := n
		if chunk > len(zero) {
			chunk = len(zero)
		}
		e.buf.Write(zero[:chunk])
		n -= chunk
	}
}

// CStr writes a length-prefixed byte string: u32 length, bytes, NUL
// terminator, then alignment padding per hint.AlignTo.
func (e *Encoder) CStr(v []byte, hint FieldHint) {
	e.U32(uint32(len(v)))
	e.RawBytes(v)
	e.U8(0)
	if hint.AlignTo > 0 {
		written := len(v) + 4 + 1
		if pad := written % hint.AlignTo; pad != 0 {
			e.Zeroes(hint.AlignTo - pad)
		}
	}
}

// RewriteUint32At patches a u32 previously written at byte offset off,
// supporting the MUST requirement that a sequence's count/size can be
// serialized after the fact once its elements have been written.
func (e *Encoder) RewriteUint32At(off int, v uint32) {
	b := e.buf.Bytes()
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// SeqStart reserves placeholders for a sequence's optional total-byte-size
// prefix and its element count, returning the offsets callers pass to
// SeqEnd once the elements have been written.
func (e *Encoder) SeqStart(hint FieldHint) (sizeOff, countOff, bodyStart int) {
	start := e.buf.Len()
	if hint.WithSizePrefix {
		sizeOff = e.buf.Len()
		e.U32(0xFFFFFFFF)
	} else {
		sizeOff = -1
	}
	countOff = e.buf.Len()
	e.U32(0xFFFFFFFF)
	return sizeOff, countOff, start
}

// SeqEnd patches the placeholders reserved by SeqStart with the actual
// element count and, if requested, the number of bytes written for the
// whole sequence (size prefix + count + elements).
func (e *Encoder) SeqEnd(sizeOff, countOff, bodyStart int, count uint32) {
	if sizeOff >= 0 {
		written := uint32(e.buf.Len() - bodyStart)
		e.RewriteUint32At(sizeOff, written)
	}
	e.RewriteUint32At(countOff, count)
}

// Decoder deserializes a message body from a byte slice, enforcing strict
// exhaustion: leftover bytes after the schema has been fully read MUST
// fail via RemainingOrErr.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for decoding, starting at offset 0.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, mgmterr.Newf(mgmterr.Codec, "unexpected end of input: need %d bytes, have %d", n, len(d.buf)-d.pos)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) U8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) I8() (int8, error) {
	v, err := d.U8()
	return int8(v), err
}

func (d *Decoder) U16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) I16() (int16, error) {
	v, err := d.U16()
	return int16(v), err
}

func (d *Decoder) U32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) I32() (int32, error) {
	v, err := d.U32()
	return int32(v), err
}

func (d *Decoder) U64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Decoder) I64() (int64, error) {
	v, err := d.U64()
	return int64(v), err
}

// RawBytes reads n raw bytes with no length prefix.
func (d *Decoder) RawBytes(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Skip advances the read cursor by n bytes without returning them.
func (d *Decoder) Skip(n int) error {
	_, err := d.take(n)
	return err
}

// CStr reads a length-prefixed byte string, validates its NUL terminator,
// and skips alignment padding per hint.AlignTo.
func (d *Decoder) CStr(hint FieldHint) ([]byte, error) {
	length, err := d.U32()
	if err != nil {
		return nil, err
	}
	v, err := d.RawBytes(int(length))
	if err != nil {
		return nil, err
	}
	terminator, err := d.U8()
	if err != nil {
		return nil, err
	}
	if terminator != 0 {
		return nil, mgmterr.Newf(mgmterr.Codec, "invalid CStr terminator byte %#x", terminator)
	}
	if hint.AlignTo > 0 {
		read := len(v) + 4 + 1
		if pad := read % hint.AlignTo; pad != 0 {
			if err := d.Skip(hint.AlignTo - pad); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// SeqLen reads a sequence header per hint (optional size prefix, then
// element count) and returns the element count for the caller to loop
// over with its own per-element decode calls.
func (d *Decoder) SeqLen(hint FieldHint) (uint32, error) {
	if hint.WithSizePrefix {
		if err := d.Skip(4); err != nil {
			return 0, err
		}
	}
	return d.U32()
}

// Remaining returns the number of unread bytes left in the source buffer.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// RemainingOrErr enforces strict source-buffer exhaustion: any bytes left
// after a message has been fully decoded is a Codec error, matching the
// "trailing bytes" failure mode in the error taxonomy.
func (d *Decoder) RemainingOrErr() error {
	if r := d.Remaining(); r > 0 {
		return mgmterr.Newf(mgmterr.Codec, "did not consume the whole buffer, %d bytes left", r)
	}
	return nil
}
