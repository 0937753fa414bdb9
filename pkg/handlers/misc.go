package handlers

import (
	"context"

	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// Ack is a bare acknowledgement with no reply; legacy nodes send it after
// processing a notification and expect nothing back.
func Ack(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeAckRequest(body)
	if err != nil {
		return err
	}
	app.Logger.Debug().Str("ack_id", req.AckID).Stringer("peer", ch.Addr()).Msg("received ack")
	return nil
}

// AuthenticateChannel validates a stream channel's shared secret and, on
// success, marks it authenticated for the remainder of its lifetime. A
// mismatch or an unconfigured secret is logged and otherwise ignored: the
// legacy protocol has no failure reply for this message.
func AuthenticateChannel(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeAuthenticateChannelRequest(body)
	if err != nil {
		return err
	}
	if !app.Static.Config.Auth.Enabled {
		app.Logger.Debug().Stringer("peer", ch.Addr()).Msg("peer tried to authenticate, but authentication is not required")
		return nil
	}
	if !ch.Authenticate(app.Pool, req.Secret) {
		app.Logger.Error().Stringer("peer", ch.Addr()).Msg("peer tried to authenticate stream with wrong secret")
	}
	return nil
}

// PeerInfo is a no-op probe: the legacy protocol defines a response but no
// client ever acts on it.
func PeerInfo(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	return ch.Reply(wire.MsgGenericResponse, 0, wire.EncodePeerInfoResponse(wire.PeerInfoResponse{
		Uid:      0,
		NodeType: "management",
	}))
}

// SetChannelDirect is accepted and ignored; it predates a direct-I/O mode
// management never participates in.
func SetChannelDirect(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	return nil
}

// RefreshCapacityPools asks management to pull capacity state immediately
// after a node starts. Capacity pools are classified afresh on every
// GetNodeCapacityPools request, so there is nothing to refresh; this is
// answered with a bare Ack and otherwise ignored.
func RefreshCapacityPools(ctx context.Context, app *Context, ch *connpool.Channel, hdr wire.Header, body []byte) error {
	req, err := wire.DecodeAckRequest(body)
	if err != nil {
		return err
	}
	return ch.Reply(wire.MsgAck, 0, wire.EncodeAckRequest(wire.AckRequest{AckID: req.AckID}))
}
