package raknet

import (
	"bytes"

	"github.com/pkg/errors"
)

// errSplitBusy refuses a fragment that would open a new split buffer while
// maxSplits are already filling. The fragment is valid and may be retried.
var errSplitBusy = errors.New("raknet: too many split messages in flight")

type splitBuffer struct {
	parts [][]byte
	got   []bool
	have  uint32
}

// reassembler collects the fragments of split messages by split id. A
// buffer lives only until its message is complete and popped.
type reassembler struct {
	maxCount  uint32
	maxSplits int
	bufs      map[uint16]*splitBuffer
}

func newReassembler(maxCount uint32, maxSplits int) *reassembler {
	return &reassembler{
		maxCount:  maxCount,
		maxSplits: maxSplits,
		bufs:      make(map[uint16]*splitBuffer),
	}
}

// Check reports whether Append would take the fragment.
func (r *reassembler) Check(id uint16, count, index uint32) error {
	if count == 0 || index >= count {
		return errors.Wrapf(ErrSplitLimit, "fragment %d of %d", index, count)
	}
	if count > r.maxCount {
		return errors.Wrapf(ErrSplitLimit, "%d fragments, max %d", count, r.maxCount)
	}
	buf, ok := r.bufs[id]
	if !ok {
		if len(r.bufs) >= r.maxSplits {
			return errors.Wrapf(errSplitBusy, "split %d", id)
		}
	} else if uint32(len(buf.parts)) != count {
		return errors.Wrapf(ErrSplitLimit, "split %d changed count from %d to %d", id, len(buf.parts), count)
	}
	return nil
}

// Append stores one fragment. A repeated index overwrites the earlier copy.
func (r *reassembler) Append(id uint16, count, index uint32, payload []byte) error {
	if err := r.Check(id, count, index); err != nil {
		return err
	}
	buf, ok := r.bufs[id]
	if !ok {
		buf = &splitBuffer{parts: make([][]byte, count), got: make([]bool, count)}
		r.bufs[id] = buf
	}
	if !buf.got[index] {
		buf.got[index] = true
		buf.have++
	}
	buf.parts[index] = payload
	return nil
}

// Pop returns the reassembled payload of id once every fragment arrived.
func (r *reassembler) Pop(id uint16) ([]byte, bool) {
	buf, ok := r.bufs[id]
	if !ok || buf.have < uint32(len(buf.parts)) {
		return nil, false
	}
	delete(r.bufs, id)
	return bytes.Join(buf.parts, nil), true
}

func (r *reassembler) Len() int {
	return len(r.bufs)
}
