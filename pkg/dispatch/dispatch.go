package dispatch

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/metrics"
	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// HandlerFunc processes one decoded legacy message. app is the opaque
// per-process application context handlers need (store, connection pool,
// static info, run-state probe); it is threaded through unchanged from
// pkg/app. A handler that has a typed response writes it itself via
// ch.Reply; HandlerFunc's returned error only drives logging and the
// legacy generic-response fallback for handlers with no typed response.
type HandlerFunc[C any] func(ctx context.Context, app C, ch *connpool.Channel, hdr wire.Header, body []byte) error

// Table is a msg_id -> handler lookup table built once at startup from a
// declarative list of registrations.
type Table[C any] struct {
	handlers map[wire.MsgID]HandlerFunc[C]
}

// NewTable returns an empty lookup table.
func NewTable[C any]() *Table[C] {
	return &Table[C]{handlers: make(map[wire.MsgID]HandlerFunc[C])}
}

// Register adds or replaces the handler for id.
func (t *Table[C]) Register(id wire.MsgID, h HandlerFunc[C]) {
	t.handlers[id] = h
}

func (t *Table[C]) lookup(id wire.MsgID) (HandlerFunc[C], bool) {
	h, ok := t.handlers[id]
	return h, ok
}

// Dispatcher implements connpool.Dispatcher: the glue between C2's
// accepted channels and C5's domain handlers.
type Dispatcher[C any] struct {
	app    C
	table  *Table[C]
	logger zerolog.Logger
}

// New builds a Dispatcher over table, invoking handlers with app as their
// application context.
func New[C any](app C, table *Table[C], logger zerolog.Logger) *Dispatcher[C] {
	return &Dispatcher[C]{app: app, table: table, logger: logger}
}

// Dispatch implements connpool.Dispatcher. See §4.3: look up by msg_id,
// check the authentication precondition for stream channels, invoke the
// handler, and on error or an unknown id, write the legacy generic
// response fallback.
func (d *Dispatcher[C]) Dispatch(ctx context.Context, ch *connpool.Channel, hdr wire.Header, body []byte) {
	id := wire.MsgID(hdr.MsgID)
	timer := metrics.NewTimer()
	result := "success"
	defer func() {
		metrics.LegacyMessagesTotal.WithLabelValues(strconv.Itoa(int(id)), result).Inc()
		timer.ObserveDurationVec(metrics.LegacyDispatchDuration, strconv.Itoa(int(id)))
	}()

	if !id.Known() {
		result = "unhandled"
		d.logger.Debug().Uint16("msg_id", uint16(id)).Msg("unhandled message id")
		d.replyUnhandled(ch)
		return
	}

	handler, ok := d.table.lookup(id)
	if !ok {
		result = "unhandled"
		d.logger.Warn().Uint16("msg_id", uint16(id)).Msg("known message id has no registered handler")
		d.replyUnhandled(ch)
		return
	}

	if ch.IsStream() && id != wire.MsgAuthenticateChannel && !ch.Authenticated() {
		result = "unauthenticated"
		d.logger.Warn().Uint16("msg_id", uint16(id)).Stringer("peer", ch.Addr()).Msg("message on unauthenticated channel")
		_ = ch.Reply(wire.MsgGenericResponse, 0, wire.EncodeGenericResponse(wire.GenericInternalError, "channel not authenticated"))
		return
	}

	if err := handler(ctx, d.app, ch, hdr, body); err != nil {
		result = mgmterr.KindOf(err).String()
		d.logger.Error().Err(err).Uint16("msg_id", uint16(id)).Stringer("peer", ch.Addr()).Msg("handler failed")
		_ = ch.Reply(wire.MsgGenericResponse, 0, wire.EncodeGenericResponse(genericCodeFor(err), err.Error()))
	}
}

func (d *Dispatcher[C]) replyUnhandled(ch *connpool.Channel) {
	_ = ch.Reply(wire.MsgGenericResponse, 0, wire.EncodeGenericResponse(wire.GenericTryAgain, "unhandled message"))
}

// genericCodeFor maps an error's Kind onto the legacy GenericResponse code
// space, for handlers that have no dedicated typed response result field.
func genericCodeFor(err error) wire.GenericResponseCode {
	switch mgmterr.KindOf(err) {
	case mgmterr.NotFound:
		return wire.GenericNotExists
	case mgmterr.Transport, mgmterr.Peer:
		return wire.GenericTryAgain
	case mgmterr.Invalid, mgmterr.Conflict, mgmterr.Auth, mgmterr.Policy:
		return wire.GenericInternalError
	default:
		return wire.GenericInternalError
	}
}
