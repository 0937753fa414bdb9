package wire

import (
	"io"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
)

// MaxDatagramLen bounds a single UDP datagram, matching the legacy
// protocol's fixed maximum frame size for unreliable transport.
const MaxDatagramLen = 65535

// WriteStreamFrame writes header||body to w. It is used for TCP streams,
// where framing is recovered by the reader via the header's MsgLen field.
func WriteStreamFrame(w io.Writer, msgID MsgID, featureFlags uint16, body []byte) error {
	h := Header{MsgLen: uint32(HeaderLen + len(body)), MsgID: uint16(msgID), FeatureFlags: featureFlags}
	var hdr [HeaderLen]byte
	PutHeader(hdr[:], h)
	if _, err := w.Write(hdr[:]); err != nil {
		return mgmterr.New(mgmterr.Transport, err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return mgmterr.New(mgmterr.Transport, err)
		}
	}
	return nil
}

// ReadStreamFrame reads one header||body frame from r, returning the
// parsed header and the body bytes.
func ReadStreamFrame(r io.Reader) (Header, []byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Header{}, nil, mgmterr.New(mgmterr.Transport, err)
	}
	h, err := ParseHeader(hdr[:])
	if err != nil {
		return Header{}, nil, err
	}
	if h.MsgLen < HeaderLen {
		return Header{}, nil, mgmterr.Newf(mgmterr.Codec, "frame msg_len %d shorter than header", h.MsgLen)
	}
	bodyLen := h.MsgLen - HeaderLen
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Header{}, nil, mgmterr.New(mgmterr.Transport, err)
		}
	}
	return h, body, nil
}

// EncodeDatagram builds a single header||body datagram payload for a UDP
// send, rejecting anything that would not fit in one datagram.
func EncodeDatagram(msgID MsgID, featureFlags uint16, body []byte) ([]byte, error) {
	total := HeaderLen + len(body)
	if total > MaxDatagramLen {
		return nil, mgmterr.Newf(mgmterr.Codec, "datagram of %d bytes exceeds max %d", total, MaxDatagramLen)
	}
	out := make([]byte, total)
	h := Header{MsgLen: uint32(total), MsgID: uint16(msgID), FeatureFlags: featureFlags}
	PutHeader(out, h)
	copy(out[HeaderLen:], body)
	return out, nil
}

// DecodeDatagram splits a received UDP payload into its header and body.
func DecodeDatagram(payload []byte) (Header, []byte, error) {
	if len(payload) < HeaderLen {
		return Header{}, nil, mgmterr.Newf(mgmterr.Codec, "datagram of %d bytes shorter than header", len(payload))
	}
	h, err := ParseHeader(payload)
	if err != nil {
		return Header{}, nil, err
	}
	if int(h.MsgLen) != len(payload) {
		return Header{}, nil, mgmterr.Newf(mgmterr.Codec, "datagram msg_len %d does not match received length %d", h.MsgLen, len(payload))
	}
	return h, payload[HeaderLen:], nil
}
