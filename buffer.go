package raknet

import (
	"context"
	"sync"
)

// recvBuffer queues delivered payloads for Session.Recv when no payload
// callback is installed.
type recvBuffer struct {
	err  error
	mtx  sync.Mutex
	cond *sync.Cond
	pkts [][]byte
}

func (rb *recvBuffer) wBegin() bool {
	rb.mtx.Lock()
	if rb.err == nil {
		return true
	}
	rb.mtx.Unlock()
	return false
}

func (rb *recvBuffer) wDone() {
	if rb.cond != nil {
		rb.mtx.Unlock()
		rb.cond.Broadcast()
		return
	}
	rb.mtx.Unlock()
}

func (rb *recvBuffer) waitForWrite() {
	if rb.cond == nil {
		rb.cond = sync.NewCond(&rb.mtx)
	}
	rb.cond.Wait()
}

func (rb *recvBuffer) Close(err error) {
	if !rb.wBegin() {
		return
	}
	defer rb.wDone()

	rb.err = err
}

func (rb *recvBuffer) Put(pkt []byte) {
	if !rb.wBegin() {
		return
	}
	defer rb.wDone()

	rb.pkts = append(rb.pkts, pkt)
}

// Get blocks until a payload is queued, the buffer is closed or ctx is done.
func (rb *recvBuffer) Get(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		rb.mtx.Lock()
		defer rb.mtx.Unlock()
		if rb.cond != nil {
			rb.cond.Broadcast()
		}
	})
	defer stop()

	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	for {
		if len(rb.pkts) > 0 {
			pkt := rb.pkts[0]
			rb.pkts[0] = nil
			rb.pkts = rb.pkts[1:]
			return pkt, nil
		} else if rb.err != nil {
			return nil, rb.err
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}
		rb.waitForWrite()
	}
}
