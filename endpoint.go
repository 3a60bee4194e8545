package raknet

import (
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// handshakeRetries is how many times each offline request is sent before
// the next step of the handshake is tried.
const handshakeRetries = 4

const handshakeWait = 500 * time.Millisecond

type offlinePacket struct {
	from netip.AddrPort
	p    []byte
}

// Endpoint owns one UDP socket and every session reached through it.
type Endpoint struct {
	opts   options
	conn   *net.UDPConn
	guid   uint64
	client bool

	mtx       sync.Mutex
	closing   bool
	wasClosed bool
	pongData  string

	conMap  sync.Map
	offline chan offlinePacket

	group  *errgroup.Group
	cancel context.CancelFunc
}

func newGUID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8]) ^ binary.BigEndian.Uint64(id[8:])
}

func (ep *Endpoint) opErr(op string, srcErr error) error {
	if srcErr == nil {
		return nil
	}
	return &net.OpError{Op: op, Net: "raknet", Source: ep.Addr(), Addr: nil, Err: srcErr}
}

func listen(ctx context.Context, udpConn *net.UDPConn, o options, client bool) *Endpoint {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	ep := &Endpoint{
		opts:     o,
		conn:     udpConn,
		guid:     newGUID(),
		client:   client,
		pongData: o.cfg.ServerName,
		group:    g,
		cancel:   cancel,
	}
	if client {
		ep.offline = make(chan offlinePacket, 8)
	}
	g.Go(ep.readLoop)
	g.Go(func() error {
		return ep.tickLoop(ctx)
	})
	return ep
}

// Listen opens a server endpoint on addr. It closes when ctx is done or
// Close is called.
func Listen(ctx context.Context, addr string, opts ...Option) (*Endpoint, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	ep := listen(ctx, udpConn, o, false)
	context.AfterFunc(ctx, func() {
		ep.Close()
	})
	ep.opts.logger.Info("raknet: listening", "addr", ep.Addr(), "guid", ep.guid)
	return ep, nil
}

// Dial connects to the server at addr through a new endpoint of its own.
// ctx bounds the handshake only. The endpoint closes with the session.
func Dial(ctx context.Context, addr string, opts ...Option) (*Session, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", newLocalUDPAddr(0, udpAddr))
	if err != nil {
		return nil, err
	}
	ep := listen(context.Background(), udpConn, o, true)
	s, err := ep.connect(ctx, udpAddr.AddrPort())
	if err != nil {
		ep.Close()
		return nil, &net.OpError{Op: "Dial", Net: "raknet", Source: ep.Addr(), Addr: udpAddr, Err: err}
	}
	return s, nil
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (ep *Endpoint) writeTo(p []byte, addr netip.AddrPort) error {
	ep.mtx.Lock()
	defer ep.mtx.Unlock()

	if ep.wasClosed {
		return ErrClosed
	}
	_, err := ep.conn.WriteToUDPAddrPort(p, addr)
	return err
}

func (ep *Endpoint) isClosed() bool {
	ep.mtx.Lock()
	defer ep.mtx.Unlock()

	return ep.wasClosed
}

func (ep *Endpoint) readLoop() error {
	b := make([]byte, 2048)
	for {
		n, from, err := ep.conn.ReadFromUDPAddrPort(b)
		if err != nil {
			if ep.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return ep.opErr("read", err)
		}
		ep.dispatch(b[:n], unmap(from))
	}
}

func (ep *Endpoint) tickLoop(ctx context.Context) error {
	t := time.NewTicker(ep.opts.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			ep.tick(now)
		}
	}
}

func (ep *Endpoint) tick(now time.Time) {
	ep.Range(func(s *Session) bool {
		if now.Sub(s.LastReceiveTime()) > ep.opts.cfg.SessionTimeout {
			s.shutdown(ErrTimeout, true)
			return true
		}
		s.update()
		return true
	})
}

func (ep *Endpoint) dispatch(p []byte, from netip.AddrPort) {
	if len(p) == 0 {
		return
	}
	if p[0]&flagDatagram != 0 {
		v, ok := ep.conMap.Load(from)
		if !ok {
			ep.opts.logger.Debug("raknet: dropping datagram", "addr", from, "error", ErrSessionNotFound)
			return
		}
		s := v.(*Session)
		in, err := s.handle(p)
		if err != nil {
			ep.opts.logger.Debug("raknet: bad datagram", "addr", from, "error", err)
			return
		}
		ep.deliver(s, in)
		return
	}

	var err error
	switch p[0] {
	case idUnconnectedPing, idUnconnectedPingOpen:
		err = ep.handleUnconnectedPing(p, from)
	case idOpenConnectionRequest1:
		err = ep.handleRequest1(p, from)
	case idOpenConnectionRequest2:
		err = ep.handleRequest2(p, from)
	case idOpenConnectionReply1, idOpenConnectionReply2, idIncompatibleProtocolVersion, idAlreadyConnected, idUnconnectedPong:
		if ep.offline == nil {
			return
		}
		select {
		case ep.offline <- offlinePacket{from, slices.Clone(p)}:
		default:
		}
	default:
		err = errors.Wrapf(errUnexpectedID, "offline 0x%02x", p[0])
	}
	if err != nil {
		ep.opts.logger.Debug("raknet: offline message", "addr", from, "error", err)
	}
}

func (ep *Endpoint) deliver(s *Session, in inbound) {
	if in.connected {
		ep.opts.logger.Info("raknet: session connected", "addr", s.addr, "guid", s.guid, "mtu", s.mtu)
		if ep.opts.onConnect != nil {
			ep.opts.onConnect(s)
		}
	}
	s.deliver(in)
	if in.closed != nil {
		s.shutdown(in.closed, false)
	}
}

func (ep *Endpoint) handleUnconnectedPing(p []byte, from netip.AddrPort) error {
	if ep.client {
		return nil
	}
	ping, err := decode(unconnectedPingCodec, p)
	if err != nil {
		return err
	}
	ep.mtx.Lock()
	data := ep.pongData
	ep.mtx.Unlock()
	return ep.writeTo(encode(unconnectedPongCodec, unconnectedPong{ping.time, ep.guid, data}), from)
}

func (ep *Endpoint) handleRequest1(p []byte, from netip.AddrPort) error {
	if ep.client {
		return nil
	}
	req, err := decode(openConnectionRequest1Codec, p)
	if err != nil {
		return err
	}
	if req.protocol != ep.opts.cfg.Protocol {
		ep.opts.logger.Info("raknet: incompatible protocol", "addr", from, "protocol", req.protocol)
		return ep.writeTo(encode(incompatibleProtocolVersionCodec, incompatibleProtocolVersion{ep.opts.cfg.Protocol, ep.guid}), from)
	}
	mtu := min(int(req.mtu), ep.opts.cfg.MaxMTU)
	return ep.writeTo(encode(openConnectionReply1Codec, openConnectionReply1{guid: ep.guid, mtu: uint16(mtu)}), from)
}

func (ep *Endpoint) handleRequest2(p []byte, from netip.AddrPort) error {
	if ep.client {
		return nil
	}
	req, err := decode(openConnectionRequest2Codec, p)
	if err != nil {
		return err
	}
	mtu := min(int(req.mtu), ep.opts.cfg.MaxMTU)
	if mtu < MinMTU {
		return errors.Wrapf(ErrHandshake, "mtu %d", req.mtu)
	}

	if v, ok := ep.conMap.Load(from); ok {
		s := v.(*Session)
		if s.guid != req.guid {
			return ep.writeTo(encode(alreadyConnectedCodec, alreadyConnected{ep.guid}), from)
		}
		mtu = s.mtu
	} else {
		s := ep.newSession(from, req.guid, mtu, false)
		if v, loaded := ep.conMap.LoadOrStore(from, s); loaded {
			mtu = v.(*Session).mtu
		} else {
			ep.opts.logger.Debug("raknet: session opened", "addr", from, "guid", req.guid, "mtu", mtu)
		}
	}
	return ep.writeTo(encode(openConnectionReply2Codec, openConnectionReply2{
		guid:   ep.guid,
		client: from,
		mtu:    uint16(mtu),
	}), from)
}

func (ep *Endpoint) newSession(addr netip.AddrPort, guid uint64, mtu int, client bool) *Session {
	s := newSession(ep.opts.cfg, ep.opts.logger, addr, guid, mtu, client, func(p []byte) error {
		return ep.writeTo(p, addr)
	})
	s.ep = ep
	return s
}

// awaitOffline waits up to d for an offline reply from addr. It returns
// nil when none arrived in time.
func (ep *Endpoint) awaitOffline(ctx context.Context, addr netip.AddrPort, d time.Duration) ([]byte, error) {
	t := time.NewTimer(d)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			return nil, nil
		case pkt := <-ep.offline:
			if pkt.from == addr {
				return pkt.p, nil
			}
		}
	}
}

func discoveryMTUs(maxMTU int) []int {
	mtus := []int{maxMTU}
	for _, m := range []int{MaxMTU, 1200, MinMTU} {
		if m < maxMTU {
			mtus = append(mtus, m)
		}
	}
	return mtus
}

func (ep *Endpoint) connect(ctx context.Context, addr netip.AddrPort) (*Session, error) {
	addr = unmap(addr)
	cfg := ep.opts.cfg

	var mtu int
	var serverGUID uint64
discovery:
	for _, probe := range discoveryMTUs(cfg.MaxMTU) {
		for try := 0; try < handshakeRetries; try++ {
			req := openConnectionRequest1{protocol: cfg.Protocol, mtu: uint16(probe)}
			if err := ep.writeTo(encode(openConnectionRequest1Codec, req), addr); err != nil {
				return nil, err
			}
			p, err := ep.awaitOffline(ctx, addr, handshakeWait)
			if err != nil {
				return nil, err
			}
			if p == nil {
				continue
			}
			switch p[0] {
			case idOpenConnectionReply1:
				reply, err := decode(openConnectionReply1Codec, p)
				if err != nil {
					return nil, errors.Wrap(ErrHandshake, err.Error())
				}
				mtu = min(int(reply.mtu), probe)
				serverGUID = reply.guid
				break discovery
			case idIncompatibleProtocolVersion:
				v, err := decode(incompatibleProtocolVersionCodec, p)
				if err != nil {
					return nil, errors.Wrap(ErrHandshake, err.Error())
				}
				return nil, errors.Wrapf(ErrHandshake, "server speaks protocol %d", v.protocol)
			}
		}
	}
	if mtu < MinMTU {
		return nil, errors.Wrap(ErrHandshake, "no reply to connection request")
	}

	connected := false
	for try := 0; try < handshakeRetries && !connected; try++ {
		req := openConnectionRequest2{server: addr, mtu: uint16(mtu), guid: ep.guid}
		if err := ep.writeTo(encode(openConnectionRequest2Codec, req), addr); err != nil {
			return nil, err
		}
		p, err := ep.awaitOffline(ctx, addr, handshakeWait)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		switch p[0] {
		case idOpenConnectionReply2:
			reply, err := decode(openConnectionReply2Codec, p)
			if err != nil {
				return nil, errors.Wrap(ErrHandshake, err.Error())
			}
			if int(reply.mtu) < MinMTU {
				return nil, errors.Wrapf(ErrHandshake, "mtu %d", reply.mtu)
			}
			mtu = min(mtu, int(reply.mtu))
			connected = true
		case idAlreadyConnected:
			return nil, errors.Wrap(ErrHandshake, "already connected")
		}
	}
	if !connected {
		return nil, errors.Wrap(ErrHandshake, "no reply to second connection request")
	}

	s := ep.newSession(addr, serverGUID, mtu, true)
	ep.conMap.Store(addr, s)
	s.mtx.Lock()
	s.queue.Push(encode(connectionRequestCodec, connectionRequest{guid: ep.guid, time: timestamp(s.now())}), Reliable, 0)
	s.flush()
	s.mtx.Unlock()

	select {
	case <-s.connected:
		return s, nil
	case <-s.done:
		return nil, s.Err()
	case <-ctx.Done():
		s.shutdown(ctx.Err(), true)
		return nil, ctx.Err()
	}
}

// release forgets a closed session.
func (ep *Endpoint) release(s *Session, reason error) {
	ep.conMap.CompareAndDelete(s.addr, s)
	ep.opts.logger.Info("raknet: session closed", "addr", s.addr, "guid", s.guid, "reason", reason)
	if ep.opts.onDisconnect != nil {
		ep.opts.onDisconnect(s, reason)
	}
	if ep.client {
		ep.Close()
	}
}

// SetPongData replaces the data answered to unconnected pings.
func (ep *Endpoint) SetPongData(data string) {
	ep.mtx.Lock()
	defer ep.mtx.Unlock()

	ep.pongData = data
}

func (ep *Endpoint) GUID() uint64 {
	return ep.guid
}

func (ep *Endpoint) Addr() net.Addr {
	return ep.conn.LocalAddr()
}

// Session returns the session of the peer at addr, if any.
func (ep *Endpoint) Session(addr netip.AddrPort) (*Session, bool) {
	v, ok := ep.conMap.Load(unmap(addr))
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

func (ep *Endpoint) Sessions() int {
	n := 0
	ep.conMap.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (ep *Endpoint) Range(f func(s *Session) bool) {
	ep.conMap.Range(func(_, v any) bool {
		return f(v.(*Session))
	})
}

// Close closes every session, notifying their peers, then the socket.
func (ep *Endpoint) Close() error {
	ep.mtx.Lock()
	if ep.closing {
		ep.mtx.Unlock()
		return ep.opErr("Close", ErrClosed)
	}
	ep.closing = true
	ep.mtx.Unlock()

	ep.Range(func(s *Session) bool {
		s.shutdown(ErrClosed, true)
		return true
	})

	ep.mtx.Lock()
	ep.wasClosed = true
	err := ep.conn.Close()
	ep.mtx.Unlock()

	ep.cancel()
	return ep.opErr("Close", err)
}

// Wait blocks until the endpoint's loops have stopped after Close.
func (ep *Endpoint) Wait() error {
	return ep.group.Wait()
}
