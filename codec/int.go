package codec

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

type fixed[T any] struct {
	size int
	get  func([]byte) T
	set  func([]byte, T)
}

func (c fixed[T]) Read(b *bytes.Buffer, ctx *Context) (T, error) {
	p, err := next(b, c.size, ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.get(p), nil
}

func (c fixed[T]) Write(b *bytes.Buffer, v T, ctx *Context) error {
	var buf [8]byte
	c.set(buf[:c.size], v)
	put(b, buf[:c.size], ctx)
	return nil
}

var (
	Uint8 Codec[uint8] = fixed[uint8]{1,
		func(p []byte) uint8 { return p[0] },
		func(p []byte, v uint8) { p[0] = v }}

	Int8 Codec[int8] = fixed[int8]{1,
		func(p []byte) int8 { return int8(p[0]) },
		func(p []byte, v int8) { p[0] = byte(v) }}

	// Bool is one byte; any non-zero value reads as true.
	Bool Codec[bool] = fixed[bool]{1,
		func(p []byte) bool { return p[0] != 0 },
		func(p []byte, v bool) {
			p[0] = 0
			if v {
				p[0] = 1
			}
		}}
)

func Uint16(order binary.ByteOrder) Codec[uint16] {
	return fixed[uint16]{2, order.Uint16, order.PutUint16}
}

func Int16(order binary.ByteOrder) Codec[int16] {
	return fixed[int16]{2,
		func(p []byte) int16 { return int16(order.Uint16(p)) },
		func(p []byte, v int16) { order.PutUint16(p, uint16(v)) }}
}

// Uint24 stores the low 24 bits of a uint32. The container is padded or
// truncated at the most significant end for the given byte order.
func Uint24(order binary.ByteOrder) Codec[uint32] {
	lo, hi := 0, 3
	if !littleEndian(order) {
		lo, hi = 1, 4
	}
	return fixed[uint32]{3,
		func(p []byte) uint32 {
			var buf [4]byte
			copy(buf[lo:hi], p)
			return order.Uint32(buf[:])
		},
		func(p []byte, v uint32) {
			var buf [4]byte
			order.PutUint32(buf[:], v&0xffffff)
			copy(p, buf[lo:hi])
		}}
}

func Uint32(order binary.ByteOrder) Codec[uint32] {
	return fixed[uint32]{4, order.Uint32, order.PutUint32}
}

func Int32(order binary.ByteOrder) Codec[int32] {
	return fixed[int32]{4,
		func(p []byte) int32 { return int32(order.Uint32(p)) },
		func(p []byte, v int32) { order.PutUint32(p, uint32(v)) }}
}

func Uint64(order binary.ByteOrder) Codec[uint64] {
	return fixed[uint64]{8, order.Uint64, order.PutUint64}
}

func Int64(order binary.ByteOrder) Codec[int64] {
	return fixed[int64]{8,
		func(p []byte) int64 { return int64(order.Uint64(p)) },
		func(p []byte, v int64) { order.PutUint64(p, uint64(v)) }}
}

func Float32(order binary.ByteOrder) Codec[float32] {
	return fixed[float32]{4,
		func(p []byte) float32 { return math.Float32frombits(order.Uint32(p)) },
		func(p []byte, v float32) { order.PutUint32(p, math.Float32bits(v)) }}
}

func Float64(order binary.ByteOrder) Codec[float64] {
	return fixed[float64]{8,
		func(p []byte) float64 { return math.Float64frombits(order.Uint64(p)) },
		func(p []byte, v float64) { order.PutUint64(p, math.Float64bits(v)) }}
}

func littleEndian(order binary.ByteOrder) bool {
	var buf [2]byte
	order.PutUint16(buf[:], 1)
	return buf[0] == 1
}

// Len adapts an integer codec into a length or count codec.
func Len[T constraints.Integer](c Codec[T]) Codec[int] {
	return lenCodec[T]{c}
}

type lenCodec[T constraints.Integer] struct {
	c Codec[T]
}

func (l lenCodec[T]) Read(b *bytes.Buffer, ctx *Context) (int, error) {
	v, err := l.c.Read(b, ctx)
	if err != nil {
		return 0, err
	}
	n := int(v)
	if n < 0 || T(n) != v {
		return 0, errors.Wrapf(ErrInvalidLength, "length %d", v)
	}
	return n, nil
}

func (l lenCodec[T]) Write(b *bytes.Buffer, n int, ctx *Context) error {
	v := T(n)
	if n < 0 || int(v) != n {
		return errors.Wrapf(ErrOverflow, "length %d", n)
	}
	return l.c.Write(b, v, ctx)
}

// DefaultLength is the length prefix used when none is configured: a
// big-endian uint16.
var DefaultLength = Len(Uint16(binary.BigEndian))
