package raknet

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/yulon/go-raknet/codec"
)

// session state
const (
	ssConnecting byte = iota
	ssConnected
	ssClosing
	ssClosed
)

// inbound is what one datagram produced for the application. It is acted
// upon after the session lock is released.
type inbound struct {
	payloads  [][]byte
	connected bool
	closed    error
}

// Session is the reliability state shared with one remote peer.
type Session struct {
	ep     *Endpoint
	addr   netip.AddrPort
	guid   uint64
	mtu    int
	client bool
	cfg    Config
	log    Logger
	write  func([]byte) error
	now    func() time.Time

	mtx   sync.Mutex
	state byte

	sendSeq uint32
	recvSeq uint32
	acks    map[uint32]struct{}
	nacks   map[uint32]struct{}
	sent    map[uint32][]uint32

	queue     *sendQueue
	splits    *reassembler
	reliables *sorter[struct{}]
	channels  [MaxChannels]*sorter[[]byte]
	sequenced [MaxChannels]uint32

	rLastTime *atomicTime
	pingTime  time.Time
	rtt       *atomicDur

	connected chan struct{}
	done      chan struct{}
	closeErr  error
	rBuf      recvBuffer
}

func newSession(cfg Config, log Logger, addr netip.AddrPort, guid uint64, mtu int, client bool, write func([]byte) error) *Session {
	now := time.Now()
	s := &Session{
		addr:      addr,
		guid:      guid,
		mtu:       mtu,
		client:    client,
		cfg:       cfg,
		log:       log,
		write:     write,
		now:       time.Now,
		acks:      make(map[uint32]struct{}),
		nacks:     make(map[uint32]struct{}),
		sent:      make(map[uint32][]uint32),
		queue:     newSendQueue(mtu-udpHeaderSize-datagramHeaderSize, cfg.ResendInterval),
		splits:    newReassembler(uint32(cfg.MaxSplitCount), cfg.MaxSplits),
		reliables: newSorter[struct{}](orderingWindow),
		rLastTime: newAtomicTime(now),
		pingTime:  now,
		rtt:       newAtomicDur(0),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	return s
}

func (s *Session) setClock(now func() time.Time) {
	s.now = now
	s.queue.now = now
}

func (s *Session) opErr(op string, srcErr error) error {
	if srcErr == nil {
		return nil
	}
	var src net.Addr
	if s.ep != nil {
		src = s.ep.Addr()
	}
	return &net.OpError{Op: op, Net: "raknet", Source: src, Addr: s.RemoteAddr(), Err: srcErr}
}

func (s *Session) channel(ch uint8) *sorter[[]byte] {
	if s.channels[ch] == nil {
		s.channels[ch] = newSorter[[]byte](orderingWindow)
	}
	return s.channels[ch]
}

// handle consumes one datagram addressed to this session.
func (s *Session) handle(p []byte) (inbound, error) {
	var in inbound

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state == ssClosed {
		return in, ErrClosed
	}
	if len(p) == 0 || p[0]&flagDatagram == 0 {
		return in, errUnexpectedID
	}

	switch {
	case p[0]&flagAck != 0, p[0]&flagNack != 0:
		a, err := decode(acknowledgementCodec, p)
		if err != nil {
			return in, errors.WithMessage(err, "acknowledgement")
		}
		s.rLastTime.Set(s.now())
		for _, r := range a.ranges {
			if p[0]&flagAck != 0 {
				s.ackReceived(r)
			} else {
				s.nckReceived(r)
			}
		}
	default:
		d, err := decode(datagramCodec, p)
		if err != nil {
			return in, errors.WithMessage(err, "frame set")
		}
		s.rLastTime.Set(s.now())
		s.frameReceived(d.seq, d.frames, &in)
	}
	return in, nil
}

func (s *Session) frameReceived(seq uint32, frames []frame, in *inbound) {
	switch {
	case seq == s.recvSeq:
		s.recvSeq = seqInc(seq)
	case seqBefore(s.recvSeq, seq):
		if seqDist(s.recvSeq, seq) <= maxAckRange {
			for n := s.recvSeq; n != seq; n = seqInc(n) {
				s.nacks[n] = struct{}{}
			}
		}
		s.recvSeq = seqInc(seq)
	}
	delete(s.nacks, seq)

	refused := false
	for i := range frames {
		if !s.handleFrame(&frames[i], in) {
			refused = true
		}
	}
	// a datagram carrying a refused frame stays unacknowledged so the peer
	// resends it
	if !refused {
		s.acks[seq] = struct{}{}
	}
}

// admit reports whether f can be taken now. A reliable frame refused here
// has left no trace and will be accepted when it is resent.
func (s *Session) admit(f *frame) bool {
	if f.reliable() && !s.reliables.Fits(f.msgNum) {
		return false
	}
	if f.ordered() && !f.sequenced() && f.channel < MaxChannels && !s.channel(f.channel).Fits(f.orderIdx) {
		return false
	}
	if f.split() && errors.Is(s.splits.Check(f.splitID, f.splitCount, f.splitIdx), errSplitBusy) {
		return false
	}
	return true
}

// handleFrame reports false when f was refused for lack of room.
func (s *Session) handleFrame(f *frame, in *inbound) bool {
	if f.reliable() && s.reliables.Has(f.msgNum) {
		return true
	}
	if !s.admit(f) {
		if !f.reliable() {
			return true
		}
		s.log.Debug("raknet: deferring frame", "addr", s.addr, "msg", f.msgNum)
		return false
	}
	if f.reliable() {
		s.reliables.TryAdd(f.msgNum, struct{}{})
	}

	if f.split() {
		err := s.splits.Append(f.splitID, f.splitCount, f.splitIdx, f.payload)
		if err != nil {
			s.log.Warn("raknet: dropping fragment", "addr", s.addr, "error", err)
			return true
		}
		p, ok := s.splits.Pop(f.splitID)
		if !ok {
			return true
		}
		f.payload = p
		f.flags &^= flagSplit
	}

	if !f.ordered() {
		s.handlePayload(f.payload, in)
		return true
	}
	if f.channel >= MaxChannels {
		s.log.Warn("raknet: dropping frame on unknown channel", "addr", s.addr, "channel", f.channel)
		return true
	}
	if f.sequenced() {
		highest := &s.sequenced[f.channel]
		if seqBefore(f.seqIdx, *highest) {
			return true
		}
		*highest = seqInc(f.seqIdx)
		s.handlePayload(f.payload, in)
		return true
	}
	out, _ := s.channel(f.channel).TryAdd(f.orderIdx, f.payload)
	for _, p := range out {
		s.handlePayload(p, in)
	}
	return true
}

func (s *Session) handlePayload(p []byte, in *inbound) {
	if len(p) == 0 {
		return
	}
	now := s.now()

	switch p[0] {
	case idConnectedPing:
		ping, err := decode(connectedPingCodec, p)
		if err != nil {
			s.log.Debug("raknet: bad connected ping", "addr", s.addr, "error", err)
			return
		}
		s.queue.Push(encode(connectedPongCodec, connectedPong{ping.time, timestamp(now)}), Unreliable, 0)

	case idConnectedPong:
		pong, err := decode(connectedPongCodec, p)
		if err != nil {
			s.log.Debug("raknet: bad connected pong", "addr", s.addr, "error", err)
			return
		}
		if rtt := time.Duration(timestamp(now)-pong.pingTime) * time.Millisecond; rtt >= 0 {
			s.rtt.Set(rtt)
		}

	case idConnectionRequest:
		if s.client {
			return
		}
		req, err := decode(connectionRequestCodec, p)
		if err != nil {
			s.log.Debug("raknet: bad connection request", "addr", s.addr, "error", err)
			return
		}
		s.queue.Push(encode(connectionRequestAcceptedCodec, connectionRequestAccepted{
			client:      s.addr,
			requestTime: req.time,
			time:        timestamp(now),
		}), Reliable, 0)

	case idConnectionRequestAccepted:
		if !s.client || s.state != ssConnecting {
			return
		}
		acc, err := decode(connectionRequestAcceptedCodec, p)
		if err != nil {
			s.log.Debug("raknet: bad connection request accepted", "addr", s.addr, "error", err)
			return
		}
		s.queue.Push(encode(newIncomingConnectionCodec, newIncomingConnection{
			server:   s.addr,
			pingTime: acc.time,
			pongTime: timestamp(now),
		}), ReliableOrdered(0), 0)
		s.setConnected(in)

	case idNewIncomingConnection:
		if s.client || s.state != ssConnecting {
			return
		}
		s.setConnected(in)

	case idDisconnectionNotification:
		in.closed = ErrRemoteClosed

	default:
		if s.state != ssConnected {
			s.log.Debug("raknet: payload before connection", "addr", s.addr, "id", p[0])
			return
		}
		in.payloads = append(in.payloads, p)
	}
}

func (s *Session) setConnected(in *inbound) {
	s.state = ssConnected
	s.pingTime = s.now()
	close(s.connected)
	in.connected = true
}

func validRange(r ackRange) bool {
	return seqDist(r.min, r.max) < maxAckRange
}

func (s *Session) ackReceived(r ackRange) {
	if !validRange(r) {
		s.log.Debug("raknet: ignoring ack range", "addr", s.addr, "min", r.min, "max", r.max)
		return
	}
	for seq := r.min; ; seq = seqInc(seq) {
		for _, n := range s.sent[seq] {
			s.queue.Discard(n)
		}
		delete(s.sent, seq)
		if seq == r.max {
			return
		}
	}
}

func (s *Session) nckReceived(r ackRange) {
	if !validRange(r) {
		s.log.Debug("raknet: ignoring nack range", "addr", s.addr, "min", r.min, "max", r.max)
		return
	}
	for seq := r.min; ; seq = seqInc(seq) {
		for _, n := range s.sent[seq] {
			s.queue.Resend(n)
		}
		delete(s.sent, seq)
		if seq == r.max {
			return
		}
	}
}

// update is the periodic maintenance driven by the endpoint tick.
func (s *Session) update() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state == ssClosed {
		return
	}
	if s.state == ssConnected && s.now().Sub(s.pingTime) >= s.cfg.PingInterval {
		s.pingTime = s.now()
		s.queue.Push(encode(connectedPingCodec, connectedPing{timestamp(s.pingTime)}), Unreliable, 0)
	}
	s.flush()
}

func (s *Session) flush() {
	s.sendAcks(idAck, s.acks)
	s.sendAcks(idNack, s.nacks)
	s.queue.Send(s.sendFrames)
	for seq, nums := range s.sent {
		alive := false
		for _, n := range nums {
			if s.queue.Pending(n) {
				alive = true
				break
			}
		}
		if !alive {
			delete(s.sent, seq)
		}
	}
}

func (s *Session) sendAcks(id byte, set map[uint32]struct{}) {
	if len(set) == 0 {
		return
	}
	seqs := make([]uint32, 0, len(set))
	for n := range set {
		seqs = append(seqs, n)
	}
	clear(set)

	ranges := coalesce(seqs)
	per := (s.mtu - udpHeaderSize - 1 - 2) / ackRangeSizeMax
	for len(ranges) > 0 {
		n := min(per, len(ranges))
		s.writeDatagram(encode(acknowledgementCodec, acknowledgement{id, ranges[:n]}))
		ranges = ranges[n:]
	}
}

func (s *Session) sendFrames(payload []byte, msgNums []uint32) {
	b := bytes.NewBuffer(make([]byte, 0, datagramHeaderSize+len(payload)))
	ctx := new(codec.Context)
	codec.Uint8.Write(b, idFrameSet, ctx)
	u24le.Write(b, s.sendSeq, ctx)
	b.Write(payload)

	if len(msgNums) > 0 {
		s.sent[s.sendSeq] = msgNums
	}
	s.sendSeq = seqInc(s.sendSeq)
	s.writeDatagram(b.Bytes())
}

func (s *Session) writeDatagram(p []byte) {
	if err := s.write(p); err != nil {
		s.log.Debug("raknet: write failed", "addr", s.addr, "error", err)
	}
}

// Send queues payload for the peer. It is transmitted on the next tick.
func (s *Session) Send(payload []byte, rel Reliability) error {
	if rel.Ordered && rel.Channel >= MaxChannels {
		return s.opErr("Send", errors.Errorf("channel %d out of range", rel.Channel))
	}
	if n, _ := s.queue.fragments(len(payload), rel); n > s.cfg.MaxSplitCount {
		return s.opErr("Send", errors.Wrapf(ErrSplitLimit, "%d fragments, max %d", n, s.cfg.MaxSplitCount))
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state >= ssClosing {
		return s.opErr("Send", ErrClosed)
	}
	s.queue.Push(bytes.Clone(payload), rel, 0)
	return nil
}

// Recv returns the next payload when the endpoint has no OnPayload callback.
func (s *Session) Recv(ctx context.Context) ([]byte, error) {
	p, err := s.rBuf.Get(ctx)
	return p, s.opErr("Recv", err)
}

func (s *Session) deliver(in inbound) {
	if s.ep != nil && s.ep.opts.onPayload != nil {
		for _, p := range in.payloads {
			s.ep.opts.onPayload(s, p)
		}
		return
	}
	for _, p := range in.payloads {
		s.rBuf.Put(p)
	}
}

// Close notifies the peer, flushes what is already queued once and
// releases the session.
func (s *Session) Close() error {
	return s.opErr("Close", s.shutdown(ErrClosed, true))
}

func (s *Session) shutdown(reason error, notify bool) error {
	s.mtx.Lock()
	if s.state == ssClosed {
		s.mtx.Unlock()
		return ErrClosed
	}
	if notify && s.state != ssClosing {
		s.queue.Push([]byte{idDisconnectionNotification}, Reliable, 0)
	}
	s.state = ssClosing
	s.flush()
	s.state = ssClosed
	s.closeErr = reason
	close(s.done)
	s.mtx.Unlock()

	s.rBuf.Close(reason)
	if s.ep != nil {
		s.ep.release(s, reason)
	}
	return nil
}

// Err reports why the session closed, or nil while it is open.
func (s *Session) Err() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.closeErr
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Connected() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.state == ssConnected
}

func (s *Session) RemoteAddr() net.Addr {
	return net.UDPAddrFromAddrPort(s.addr)
}

func (s *Session) AddrPort() netip.AddrPort {
	return s.addr
}

func (s *Session) GUID() uint64 {
	return s.guid
}

func (s *Session) MTU() int {
	return s.mtu
}

func (s *Session) RTT() time.Duration {
	return s.rtt.Get()
}

func (s *Session) LastReceiveTime() time.Time {
	return s.rLastTime.Get()
}
