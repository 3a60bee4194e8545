package raknet

// sorter releases values in increasing 24-bit index order. Indices behind
// next are stale, indices further than window ahead are refused.
type sorter[T any] struct {
	next   uint32
	held   map[uint32]T
	window uint32
}

func newSorter[T any](window uint32) *sorter[T] {
	return &sorter[T]{window: window}
}

// TryAdd reports false for a stale, duplicate or out of window index.
// Otherwise it returns every value that became deliverable, in order.
func (str *sorter[T]) TryAdd(ix uint32, val T) ([]T, bool) {
	ix &= seqMask
	d := seqDist(str.next, ix)
	if d >= seqHalf || d >= str.window {
		return nil, false
	}
	if d > 0 {
		if _, ok := str.held[ix]; ok {
			return nil, false
		}
		if str.held == nil {
			str.held = make(map[uint32]T)
		}
		str.held[ix] = val
		return nil, true
	}

	out := []T{val}
	str.next = seqInc(str.next)
	for len(str.held) > 0 {
		v, ok := str.held[str.next]
		if !ok {
			break
		}
		delete(str.held, str.next)
		out = append(out, v)
		str.next = seqInc(str.next)
	}
	return out, true
}

// Fits reports whether TryAdd would take ix without refusing it for being
// too far ahead. Stale indices fit.
func (str *sorter[T]) Fits(ix uint32) bool {
	d := seqDist(str.next, ix&seqMask)
	return d < str.window || d >= seqHalf
}

func (str *sorter[T]) Has(ix uint32) bool {
	if seqBefore(ix&seqMask, str.next) {
		return true
	}
	_, ok := str.held[ix&seqMask]
	return ok
}

func (str *sorter[T]) Next() uint32 {
	return str.next
}

func (str *sorter[T]) Held() int {
	return len(str.held)
}
