package connpool

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beegfs-io/mgmtd/pkg/metrics"
	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
	"github.com/beegfs-io/mgmtd/pkg/types"
	"github.com/beegfs-io/mgmtd/pkg/wire"
)

// MaxIdleStreamsPerPeer also bounds the number of concurrently open
// streams this pool will hold to a single peer, since a stream's dial
// permit is only released when the stream is closed.
const MaxIdleStreamsPerPeer = 4

// Config configures a Pool at construction time.
type Config struct {
	// Secret, if non-empty, is written as an authentication frame on every
	// newly dialed outbound stream and required on every inbound one.
	Secret []byte
	// DialTimeout bounds a single address's connect attempt.
	DialTimeout time.Duration
	// AllowIPv6 permits broadcasting datagrams to IPv6 addresses.
	AllowIPv6 bool
}

// Pool owns outbound stream dialing/caching and inbound stream/datagram
// serving for every peer known by uid.
type Pool struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	peers map[types.Uid]*peer

	udpConn *net.UDPConn
}

// New constructs a Pool. udpConn, if non-nil, is the shared socket used
// for both receiving and sending datagrams.
func New(cfg Config, udpConn *net.UDPConn, logger zerolog.Logger) *Pool {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		logger:  logger,
		peers:   make(map[types.Uid]*peer),
		udpConn: udpConn,
	}
}

type streamConn struct {
	conn    net.Conn
	release func()
}

type peer struct {
	mu      sync.Mutex
	addrs   []netip.AddrPort
	idleCh  chan *streamConn
	permits chan struct{}
}

func newPeerState() *peer {
	return &peer{
		idleCh:  make(chan *streamConn, MaxIdleStreamsPerPeer),
		permits: make(chan struct{}, MaxIdleStreamsPerPeer),
	}
}

func (p *Pool) peerFor(uid types.Uid) *peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.peers[uid]
	if !ok {
		pr = newPeerState()
		p.peers[uid] = pr
	}
	return pr
}

// ReplaceNodeAddrs atomically replaces uid's known address list.
func (p *Pool) ReplaceNodeAddrs(uid types.Uid, addrs []netip.AddrPort) {
	pr := p.peerFor(uid)
	pr.mu.Lock()
	pr.addrs = append([]netip.AddrPort(nil), addrs...)
	pr.mu.Unlock()
}

func (pr *peer) snapshotAddrs() []netip.AddrPort {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return append([]netip.AddrPort(nil), pr.addrs...)
}

// acquireStream implements the stream acquisition algorithm from §4.2:
// pop an idle stream if one exists; else acquire a dial permit and dial;
// else block for whichever happens first, honoring ctx cancellation.
func (p *Pool) acquireStream(ctx context.Context, pr *peer) (*streamConn, error) {
	select {
	case sc := <-pr.idleCh:
		metrics.ConnPoolIdleStreams.Dec()
		return sc, nil
	default:
	}

	select {
	case pr.permits <- struct{}{}:
		sc, err := p.dial(ctx, pr)
		if err != nil {
			<-pr.permits
			metrics.ConnPoolDialsTotal.WithLabelValues("failure").Inc()
			return nil, err
		}
		metrics.ConnPoolDialsTotal.WithLabelValues("success").Inc()
		return sc, nil
	default:
	}

	select {
	case sc := <-pr.idleCh:
		metrics.ConnPoolIdleStreams.Dec()
		return sc, nil
	case pr.permits <- struct{}{}:
		sc, err := p.dial(ctx, pr)
		if err != nil {
			<-pr.permits
			metrics.ConnPoolDialsTotal.WithLabelValues("failure").Inc()
			return nil, err
		}
		metrics.ConnPoolDialsTotal.WithLabelValues("success").Inc()
		return sc, nil
	case <-ctx.Done():
		return nil, mgmterr.New(mgmterr.Transport, ctx.Err())
	}
}

func (p *Pool) dial(ctx context.Context, pr *peer) (*streamConn, error) {
	addrs := pr.snapshotAddrs()
	if len(addrs) == 0 {
		return nil, mgmterr.Newf(mgmterr.Transport, "no known address")
	}

	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	var lastErr error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, "tcp", addr.String())
		if err != nil {
			lastErr = err
			continue
		}
		if len(p.cfg.Secret) > 0 {
			if err := wire.WriteStreamFrame(conn, wire.MsgAuthenticateChannel, 0, p.cfg.Secret); err != nil {
				conn.Close()
				lastErr = err
				continue
			}
		}
		return &streamConn{conn: conn, release: func() { <-pr.permits }}, nil
	}
	return nil, mgmterr.New(mgmterr.Transport, fmt.Errorf("all addresses failed: %w", lastErr))
}

func (p *Pool) discard(sc *streamConn) {
	sc.conn.Close()
	if sc.release != nil {
		sc.release()
	}
}

func (p *Pool) release(pr *peer, sc *streamConn) {
	select {
	case pr.idleCh <- sc:
		metrics.ConnPoolIdleStreams.Inc()
	default:
		p.discard(sc)
	}
}

// Request serializes msg to uid, reads back one response frame, and
// returns it decoded. On a stale idle stream it discards it and retries
// once with whatever stream acquisition hands out next (another idle
// stream if one is pooled, otherwise a fresh dial), per the stream acquisition
// algorithm's "if communication fails, discard and continue" rule.
func (p *Pool) Request(ctx context.Context, uid types.Uid, msgID wire.MsgID, featureFlags uint16, body []byte) (wire.Header, []byte, error) {
	pr := p.peerFor(uid)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		sc, err := p.acquireStream(ctx, pr)
		if err != nil {
			return wire.Header{}, nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			sc.conn.SetDeadline(deadline)
		}

		if err := wire.WriteStreamFrame(sc.conn, msgID, featureFlags, body); err != nil {
			p.discard(sc)
			lastErr = err
			continue
		}
		h, respBody, err := wire.ReadStreamFrame(sc.conn)
		if err != nil {
			p.discard(sc)
			lastErr = err
			continue
		}

		sc.conn.SetDeadline(time.Time{})
		p.release(pr, sc)
		return h, respBody, nil
	}
	return wire.Header{}, nil, mgmterr.New(mgmterr.Transport, lastErr)
}

// Send is Request without reading back a response.
func (p *Pool) Send(ctx context.Context, uid types.Uid, msgID wire.MsgID, featureFlags uint16, body []byte) error {
	pr := p.peerFor(uid)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		sc, err := p.acquireStream(ctx, pr)
		if err != nil {
			return err
		}
		if deadline, ok := ctx.Deadline(); ok {
			sc.conn.SetDeadline(deadline)
		}

		if err := wire.WriteStreamFrame(sc.conn, msgID, featureFlags, body); err != nil {
			p.discard(sc)
			lastErr = err
			continue
		}

		sc.conn.SetDeadline(time.Time{})
		p.release(pr, sc)
		return nil
	}
	return mgmterr.New(mgmterr.Transport, lastErr)
}

// BroadcastDatagram serializes msg once and sends it over UDP to every
// known address of every uid in uids. A per-peer send failure is logged
// and swallowed; the only error returned is a pre-loop serialization
// failure or the pool having no bound UDP socket.
func (p *Pool) BroadcastDatagram(uids []types.Uid, msgID wire.MsgID, featureFlags uint16, body []byte) error {
	payload, err := wire.EncodeDatagram(msgID, featureFlags, body)
	if err != nil {
		return err
	}
	if p.udpConn == nil {
		return mgmterr.Newf(mgmterr.Transport, "no UDP socket bound for broadcast")
	}

	for _, uid := range uids {
		pr := p.peerFor(uid)
		for _, addr := range pr.snapshotAddrs() {
			if addr.Addr().Is6() && !p.cfg.AllowIPv6 {
				continue
			}
			if _, err := p.udpConn.WriteToUDPAddrPort(payload, addr); err != nil {
				p.logger.Warn().Err(err).Uint64("peer_uid", uint64(uid)).Str("addr", addr.String()).
					Msg("broadcast datagram send failed")
			}
		}
	}
	return nil
}

// checkSecret reports whether received matches the pool's configured
// shared secret, in constant time.
func (p *Pool) checkSecret(received []byte) bool {
	if len(p.cfg.Secret) == 0 {
		return true
	}
	if len(received) != len(p.cfg.Secret) {
		return false
	}
	return subtle.ConstantTimeCompare(received, p.cfg.Secret) == 1
}

// RequiresAuth reports whether this pool was configured with a shared
// secret, in which case inbound streams must authenticate before use.
func (p *Pool) RequiresAuth() bool {
	return len(p.cfg.Secret) > 0
}
