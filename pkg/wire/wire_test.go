package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{MsgLen: 42, MsgID: uint16(MsgRegisterNode), FeatureFlags: 0x0007}
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)

	got, err := ParseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestParseHeader_TooShort(t *testing.T) {
	_, err := ParseHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestPrimitivesRoundTrip(t *testing.T) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	e := NewEncoder(buf)
	e.U8(0xAB)
	e.I8(-5)
	e.U16(1234)
	e.I16(-1234)
	e.U32(0xDEADBEEF)
	e.I32(-100000)
	e.U64(0x0123456789ABCDEF)
	e.I64(-1)

	d := NewDecoder(buf.Bytes())
	u8, err := d.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), u8)

	i8, err := d.I8()
	require.NoError(t, err)
	assert.Equal(t, int8(-5), i8)

	u16, err := d.U16()
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), u16)

	i16, err := d.I16()
	require.NoError(t, err)
	assert.Equal(t, int16(-1234), i16)

	u32, err := d.U32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	i32, err := d.I32()
	require.NoError(t, err)
	assert.Equal(t, int32(-100000), i32)

	u64, err := d.U64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0123456789ABCDEF), u64)

	i64, err := d.I64()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), i64)

	assert.NoError(t, d.RemainingOrErr())
}

func TestCStr_NoAlignment(t *testing.T) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	e := NewEncoder(buf)
	e.CStr([]byte("mn-a"), FieldHint{})

	d := NewDecoder(buf.Bytes())
	got, err := d.CStr(FieldHint{})
	require.NoError(t, err)
	assert.Equal(t, []byte("mn-a"), got)
	assert.NoError(t, d.RemainingOrErr())
}

func TestCStr_AlignedPadding(t *testing.T) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	e := NewEncoder(buf)
	e.CStr([]byte("eth0"), FieldHint{AlignTo: 4})
	// 4 (len) + 4 (bytes) + 1 (nul) = 9, padded to 12
	assert.Equal(t, 12, buf.Len())

	d := NewDecoder(buf.Bytes())
	got, err := d.CStr(FieldHint{AlignTo: 4})
	require.NoError(t, err)
	assert.Equal(t, []byte("eth0"), got)
	assert.NoError(t, d.RemainingOrErr())
}

func TestCStr_EmptyString(t *testing.T) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	e := NewEncoder(buf)
	e.CStr(nil, FieldHint{AlignTo: 4})

	d := NewDecoder(buf.Bytes())
	got, err := d.CStr(FieldHint{AlignTo: 4})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, d.RemainingOrErr())
}

func TestCStr_BadTerminator(t *testing.T) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	e := NewEncoder(buf)
	e.U32(1)
	e.RawBytes([]byte{'x'})
	e.U8(1) // should be 0

	d := NewDecoder(buf.Bytes())
	_, err := d.CStr(FieldHint{})
	assert.Error(t, err)
}

func TestSeq_SizePrefixPatchedAfterElements(t *testing.T) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	e := NewEncoder(buf)
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	e.U32(10)
	e.U32(20)
	e.U32(30)
	e.SeqEnd(sizeOff, countOff, bodyStart, 3)

	d := NewDecoder(buf.Bytes())
	count, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	for _, want := range []uint32{10, 20, 30} {
		got, err := d.U32()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.NoError(t, d.RemainingOrErr())
}

func TestSeq_EmptyWithSizePrefix(t *testing.T) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	e := NewEncoder(buf)
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{WithSizePrefix: true})
	e.SeqEnd(sizeOff, countOff, bodyStart, 0)

	d := NewDecoder(buf.Bytes())
	count, err := d.SeqLen(FieldHint{WithSizePrefix: true})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.NoError(t, d.RemainingOrErr())
}

func TestSeq_NoSizePrefix(t *testing.T) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	e := NewEncoder(buf)
	sizeOff, countOff, bodyStart := e.SeqStart(FieldHint{})
	e.U32(7)
	e.SeqEnd(sizeOff, countOff, bodyStart, 1)
	// only the count placeholder (4 bytes) plus one element (4 bytes)
	assert.Equal(t, 8, buf.Len())

	d := NewDecoder(buf.Bytes())
	count, err := d.SeqLen(FieldHint{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDecoder_TruncatedBufferErrors(t *testing.T) {
	d := NewDecoder([]byte{1, 2, 3})
	_, err := d.U32()
	assert.Error(t, err)
}

func TestRemainingOrErr_TrailingBytesIsError(t *testing.T) {
	buf := AcquireBuffer()
	defer ReleaseBuffer(buf)

	e := NewEncoder(buf)
	e.U32(1)
	e.U32(2)

	d := NewDecoder(buf.Bytes())
	_, err := d.U32()
	require.NoError(t, err)

	assert.Error(t, d.RemainingOrErr())
}

func TestMsgID_KnownSet(t *testing.T) {
	assert.True(t, MsgRegisterNode.Known())
	assert.True(t, MsgGetNodesResp.Known())
	assert.False(t, MsgID(9999).Known())
}
