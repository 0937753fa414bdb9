package dispatch

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

type fakeApp struct {
	calls int
}

// newTestChannel builds a stream Channel over an in-process pipe so Reply
// writes somewhere observable without a real TCP listener.
func newTestChannel(t *testing.T, requireAuth bool) (*connpool.Channel, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	ch := connpool.NewTestChannel(server, requireAuth)
	return ch, client
}

func readGenericResponse(t *testing.T, conn net.Conn) (wire.GenericResponseCode, string) {
	t.Helper()
	h, body, err := wire.ReadStreamFrame(conn)
	require.NoError(t, err)
	require.Equal(t, uint16(wire.MsgGenericResponse), h.MsgID)
	code, desc, err := wire.DecodeGenericResponse(body)
	require.NoError(t, err)
	return code, desc
}

func TestDispatch_UnknownMsgIDRepliesTryAgain(t *testing.T) {
	table := NewTable[*fakeApp]()
	d := New(&fakeApp{}, table, zerolog.Nop())

	ch, conn := newTestChannel(t, false)
	go d.Dispatch(context.Background(), ch, wire.Header{MsgID: 9999}, nil)

	code, desc := readGenericResponse(t, conn)
	assert.Equal(t, wire.GenericTryAgain, code)
	assert.Contains(t, desc, "unhandled")
}

func TestDispatch_KnownIDWithNoHandlerRepliesTryAgain(t *testing.T) {
	table := NewTable[*fakeApp]()
	d := New(&fakeApp{}, table, zerolog.Nop())

	ch, conn := newTestChannel(t, false)
	go d.Dispatch(context.Background(), ch, wire.Header{MsgID: uint16(wire.MsgHeartbeat)}, nil)

	code, _ := readGenericResponse(t, conn)
	assert.Equal(t, wire.GenericTryAgain, code)
}

func TestDispatch_InvokesRegisteredHandler(t *testing.T) {
	table := NewTable[*fakeApp]()
	table.Register(wire.MsgHeartbeat, func(_ context.Context, app *fakeApp, ch *connpool.Channel, _ wire.Header, _ []byte) error {
		app.calls++
		return ch.Reply(wire.MsgAck, 0, nil)
	})
	app := &fakeApp{}
	d := New(app, table, zerolog.Nop())

	ch, conn := newTestChannel(t, false)
	go d.Dispatch(context.Background(), ch, wire.Header{MsgID: uint16(wire.MsgHeartbeat)}, nil)

	h, _, err := wire.ReadStreamFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.MsgAck), h.MsgID)
	assert.Equal(t, 1, app.calls)
}

func TestDispatch_RefusesUnauthenticatedStream(t *testing.T) {
	table := NewTable[*fakeApp]()
	called := false
	table.Register(wire.MsgHeartbeat, func(_ context.Context, _ *fakeApp, ch *connpool.Channel, _ wire.Header, _ []byte) error {
		called = true
		return ch.Reply(wire.MsgAck, 0, nil)
	})
	d := New(&fakeApp{}, table, zerolog.Nop())

	ch, conn := newTestChannel(t, true)
	go d.Dispatch(context.Background(), ch, wire.Header{MsgID: uint16(wire.MsgHeartbeat)}, nil)

	code, _ := readGenericResponse(t, conn)
	assert.Equal(t, wire.GenericInternalError, code)
	assert.False(t, called)
}

func TestDispatch_AuthenticateChannelAllowedWhileUnauthenticated(t *testing.T) {
	table := NewTable[*fakeApp]()
	table.Register(wire.MsgAuthenticateChannel, func(_ context.Context, _ *fakeApp, ch *connpool.Channel, _ wire.Header, _ []byte) error {
		return ch.Reply(wire.MsgAck, 0, nil)
	})
	d := New(&fakeApp{}, table, zerolog.Nop())

	ch, conn := newTestChannel(t, true)
	go d.Dispatch(context.Background(), ch, wire.Header{MsgID: uint16(wire.MsgAuthenticateChannel)}, nil)

	h, _, err := wire.ReadStreamFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.MsgAck), h.MsgID)
}

func TestDispatch_HandlerErrorMapsToGenericResponse(t *testing.T) {
	table := NewTable[*fakeApp]()
	table.Register(wire.MsgHeartbeat, func(_ context.Context, _ *fakeApp, _ *connpool.Channel, _ wire.Header, _ []byte) error {
		return mgmterr.New(mgmterr.NotFound, errors.New("node not found"))
	})
	d := New(&fakeApp{}, table, zerolog.Nop())

	ch, conn := newTestChannel(t, false)
	go d.Dispatch(context.Background(), ch, wire.Header{MsgID: uint16(wire.MsgHeartbeat)}, nil)

	code, desc := readGenericResponse(t, conn)
	assert.Equal(t, wire.GenericNotExists, code)
	assert.Contains(t, desc, "node not found")
}
