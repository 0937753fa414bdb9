package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("hello peer")

	require.NoError(t, WriteStreamFrame(&buf, MsgHeartbeat, 0x01, body))

	h, got, err := ReadStreamFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(MsgHeartbeat), h.MsgID)
	assert.EqualValues(t, 0x01, h.FeatureFlags)
	assert.Equal(t, body, got)
}

func TestStreamFrame_EmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStreamFrame(&buf, MsgAck, 0, nil))

	h, got, err := ReadStreamFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(MsgAck), h.MsgID)
	assert.Empty(t, got)
}

func TestReadStreamFrame_TruncatedHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{1, 2, 3})
	_, _, err := ReadStreamFrame(buf)
	assert.Error(t, err)
}

func TestReadStreamFrame_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStreamFrame(&buf, MsgHeartbeat, 0, []byte("0123456789")))
	truncated := bytes.NewBuffer(buf.Bytes()[:HeaderLen+3])
	_, _, err := ReadStreamFrame(truncated)
	assert.Error(t, err)
}

func TestDatagram_RoundTrip(t *testing.T) {
	body := []byte("refresh capacity pools")
	payload, err := EncodeDatagram(MsgRefreshCapacityPools, 0, body)
	require.NoError(t, err)

	h, got, err := DecodeDatagram(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(MsgRefreshCapacityPools), h.MsgID)
	assert.Equal(t, body, got)
}

func TestEncodeDatagram_RejectsOversize(t *testing.T) {
	oversized := make([]byte, MaxDatagramLen)
	_, err := EncodeDatagram(MsgHeartbeat, 0, oversized)
	assert.Error(t, err)
}

func TestDecodeDatagram_LengthMismatch(t *testing.T) {
	payload, err := EncodeDatagram(MsgHeartbeat, 0, []byte("x"))
	require.NoError(t, err)
	_, _, err = DecodeDatagram(payload[:len(payload)-1])
	assert.Error(t, err)
}
