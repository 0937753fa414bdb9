package connpool

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// Channel is the inbound-facing handle passed to the dispatcher for one
// accepted stream or one received datagram: it lets a handler write a
// reply on the same transport it arrived on, and lets the channel
// authentication handler mark a stream as authenticated.
type Channel struct {
	conn net.Conn // set for stream channels, nil for datagram channels
	udp  *net.UDPConn
	addr net.Addr

	requireAuth   bool
	authenticated atomic.Bool
}

// Addr is the remote peer address this channel was accepted/received from.
func (c *Channel) Addr() net.Addr { return c.addr }

// IsStream reports whether this channel is a persistent TCP stream, as
// opposed to a single UDP datagram.
func (c *Channel) IsStream() bool { return c.conn != nil }

// Authenticated reports whether this channel has passed the
// authentication precondition: always true for datagrams and for streams
// when no shared secret is configured.
func (c *Channel) Authenticated() bool {
	return !c.requireAuth || c.authenticated.Load()
}

// Authenticate validates receivedSecret against the pool's configured
// secret and, on success, marks the channel authenticated. It reports
// whether authentication succeeded.
func (c *Channel) Authenticate(pool *Pool, receivedSecret []byte) bool {
	if !pool.checkSecret(receivedSecret) {
		return false
	}
	c.authenticated.Store(true)
	return true
}

// Reply writes one frame back on the transport this channel arrived on.
func (c *Channel) Reply(msgID wire.MsgID, featureFlags uint16, body []byte) error {
	if c.conn != nil {
		return wire.WriteStreamFrame(c.conn, msgID, featureFlags, body)
	}
	payload, err := wire.EncodeDatagram(msgID, featureFlags, body)
	if err != nil {
		return err
	}
	_, err = c.udp.WriteTo(payload, c.addr)
	return err
}

// NewTestChannel builds a stream Channel directly over conn, for use by
// other packages' tests that need a Channel without running a real
// listener (e.g. pkg/dispatch's handler tests).
func NewTestChannel(conn net.Conn, requireAuth bool) *Channel {
	return &Channel{conn: conn, addr: conn.RemoteAddr(), requireAuth: requireAuth}
}

// Dispatcher is implemented by the request dispatcher (pkg/dispatch) and
// invoked once per decoded frame arriving on any inbound channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, ch *Channel, hdr wire.Header, body []byte)
}

// Serve runs the accept loop for ln, handing each accepted connection off
// to its own per-stream read loop. It returns nil when ctx is canceled
// and the listener's Accept error is therefore expected.
func (p *Pool) Serve(ctx context.Context, ln net.Listener, dispatcher Dispatcher) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go p.serveStream(ctx, conn, dispatcher)
	}
}

func (p *Pool) serveStream(ctx context.Context, conn net.Conn, dispatcher Dispatcher) {
	defer conn.Close()

	ch := &Channel{conn: conn, addr: conn.RemoteAddr(), requireAuth: p.RequiresAuth()}

	for {
		hdr, body, err := wire.ReadStreamFrame(conn)
		if err != nil {
			return
		}
		dispatcher.Dispatch(ctx, ch, hdr, body)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// ServeUDP runs the receive loop for conn, dispatching each datagram to a
// detached goroutine so a slow handler never stalls subsequent receives.
func (p *Pool) ServeUDP(ctx context.Context, conn *net.UDPConn, dispatcher Dispatcher) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, wire.MaxDatagramLen)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		hdr, body, err := wire.DecodeDatagram(payload)
		if err != nil {
			p.logger.Warn().Err(err).Stringer("addr", addr).Msg("dropped malformed datagram")
			continue
		}

		ch := &Channel{udp: conn, addr: addr}
		go dispatcher.Dispatch(ctx, ch, hdr, body)
	}
}
