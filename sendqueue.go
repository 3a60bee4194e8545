package raknet

import (
	"bytes"
	"container/heap"
	"time"

	"github.com/yulon/go-raknet/codec"
)

// Reliability selects how a payload reaches the peer. Ordered payloads are
// always reliable and are delivered in order within their channel.
type Reliability struct {
	Reliable bool
	Ordered  bool
	Channel  uint8
}

var (
	Unreliable = Reliability{}
	Reliable   = Reliability{Reliable: true}
)

func ReliableOrdered(channel uint8) Reliability {
	return Reliability{Reliable: true, Ordered: true, Channel: channel}
}

// MaxChannels bounds the ordering channel numbers accepted per session.
const MaxChannels = 32

type queued struct {
	f     frame
	due   time.Time
	order uint64
	index int
}

type frameHeap []*queued

func (h frameHeap) Len() int { return len(h) }

func (h frameHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].order < h[j].order
	}
	return h[i].due.Before(h[j].due)
}

func (h frameHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *frameHeap) Push(x any) {
	it := x.(*queued)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *frameHeap) Pop() any {
	old := *h
	it := old[len(old)-1]
	old[len(old)-1] = nil
	it.index = -1
	*h = old[:len(old)-1]
	return it
}

// sendQueue assigns reliability metadata to outbound payloads and packs
// due frames into datagram payloads of at most maxPayload bytes. Reliable
// frames stay queued, rescheduled one resend interval after every send,
// until they are discarded.
type sendQueue struct {
	maxPayload     int
	resendInterval time.Duration
	now            func() time.Time

	frames  frameHeap
	pending map[uint32]*queued
	order   uint64

	msgNum   uint32
	splitID  uint16
	orderIdx [MaxChannels]uint32
}

func newSendQueue(maxPayload int, resendInterval time.Duration) *sendQueue {
	if resendInterval <= 0 {
		resendInterval = DefaultResendInterval
	}
	return &sendQueue{
		maxPayload:     maxPayload,
		resendInterval: resendInterval,
		now:            time.Now,
		pending:        make(map[uint32]*queued),
	}
}

func (q *sendQueue) nextMsgNum() uint32 {
	n := q.msgNum
	q.msgNum = seqInc(q.msgNum)
	return n
}

func kindOf(rel Reliability) byte {
	switch {
	case rel.Ordered:
		return kindReliableOrdered
	case rel.Reliable:
		return kindReliable
	}
	return kindUnreliable
}

// fragments reports how many frames Push builds for a payload of n bytes,
// and the payload size of each fragment when there is more than one.
func (q *sendQueue) fragments(n int, rel Reliability) (int, int) {
	kind := kindOf(rel)
	if frameHeaderSize(kind<<5)+n <= q.maxPayload {
		return 1, n
	}
	// fragments of an unreliable payload travel reliably, losing one would
	// lose the whole message
	if kind == kindUnreliable {
		kind = kindReliable
	}
	size := q.maxPayload - frameHeaderSize(kind<<5|flagSplit)
	return (n + size - 1) / size, size
}

// Push queues payload to be sent after delay.
func (q *sendQueue) Push(payload []byte, rel Reliability, delay time.Duration) {
	kind := kindOf(rel)
	due := q.now().Add(delay)

	var orderIdx uint32
	if isOrderedKind[kind] {
		orderIdx = q.orderIdx[rel.Channel]
		q.orderIdx[rel.Channel] = seqInc(orderIdx)
	}

	count, size := q.fragments(len(payload), rel)
	if count == 1 {
		f := frame{flags: kind << 5, orderIdx: orderIdx, channel: rel.Channel, payload: payload}
		if f.reliable() {
			f.msgNum = q.nextMsgNum()
		}
		q.enqueue(f, due)
		return
	}

	if kind == kindUnreliable {
		kind = kindReliable
	}
	flags := kind<<5 | flagSplit
	id := q.splitID
	q.splitID++
	for i := 0; i < count; i++ {
		part := payload[i*size : min((i+1)*size, len(payload))]
		q.enqueue(frame{
			flags:      flags,
			msgNum:     q.nextMsgNum(),
			orderIdx:   orderIdx,
			channel:    rel.Channel,
			splitCount: uint32(count),
			splitID:    id,
			splitIdx:   uint32(i),
			payload:    part,
		}, due)
	}
}

func (q *sendQueue) enqueue(f frame, due time.Time) {
	it := &queued{f: f, due: due, order: q.order}
	q.order++
	heap.Push(&q.frames, it)
	if f.reliable() {
		q.pending[f.msgNum] = it
	}
}

// Discard drops a reliable frame once the peer acknowledged it.
func (q *sendQueue) Discard(msgNum uint32) {
	it, ok := q.pending[msgNum]
	if !ok {
		return
	}
	delete(q.pending, msgNum)
	if it.index >= 0 {
		heap.Remove(&q.frames, it.index)
	}
}

// Resend makes a reliable frame due immediately.
func (q *sendQueue) Resend(msgNum uint32) {
	it, ok := q.pending[msgNum]
	if !ok || it.index < 0 {
		return
	}
	it.due = q.now()
	heap.Fix(&q.frames, it.index)
}

func (q *sendQueue) Pending(msgNum uint32) bool {
	_, ok := q.pending[msgNum]
	return ok
}

// Len is the number of queued frames, reliable ones awaiting an ack included.
func (q *sendQueue) Len() int {
	return q.frames.Len()
}

// Send packs every due frame and hands each datagram payload to fn together
// with the reliable message numbers it carries.
func (q *sendQueue) Send(fn func(payload []byte, msgNums []uint32)) {
	now := q.now()
	var buf *bytes.Buffer
	var nums []uint32
	ctx := new(codec.Context)

	for q.frames.Len() > 0 {
		it := q.frames[0]
		if it.due.After(now) {
			break
		}
		heap.Pop(&q.frames)
		if it.f.reliable() {
			it.due = now.Add(q.resendInterval)
			it.order = q.order
			q.order++
			heap.Push(&q.frames, it)
		}

		if buf != nil && buf.Len()+it.f.size() > q.maxPayload {
			fn(buf.Bytes(), nums)
			buf, nums = nil, nil
		}
		if buf == nil {
			buf = bytes.NewBuffer(make([]byte, 0, q.maxPayload))
		}
		if err := frameCodec.Write(buf, it.f, ctx); err != nil {
			// frames are sized by Push, this cannot fail
			panic(err)
		}
		if it.f.reliable() {
			nums = append(nums, it.f.msgNum)
		}
	}
	if buf != nil && buf.Len() > 0 {
		fn(buf.Bytes(), nums)
	}
}
