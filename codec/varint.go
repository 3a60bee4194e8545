package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Uvarint is an unsigned little-endian base-128 integer with the
// continuation flag in bit 7 of every byte.
var Uvarint Codec[uint64] = uvarint{}

// Varint maps signed values onto Uvarint with ZigZag encoding, so small
// negative numbers stay short.
var Varint Codec[int64] = varint{}

// Uvarint32 and Varint32 reject values that do not fit 32 bits.
var (
	Uvarint32 Codec[uint32] = uvarint32{}
	Varint32  Codec[int32]  = varint32{}
)

type countingReader struct {
	b   *bytes.Buffer
	ctx *Context
}

func (r countingReader) ReadByte() (byte, error) {
	c, err := r.b.ReadByte()
	if err == nil {
		r.ctx.N++
	}
	return c, err
}

func varintErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrap(ErrShortBuffer, "varint")
	}
	return errors.Wrap(ErrOverflow, err.Error())
}

type uvarint struct{}

func (uvarint) Read(b *bytes.Buffer, ctx *Context) (uint64, error) {
	v, err := binary.ReadUvarint(countingReader{b, ctx})
	if err != nil {
		return 0, varintErr(err)
	}
	return v, nil
}

func (uvarint) Write(b *bytes.Buffer, v uint64, ctx *Context) error {
	var buf [binary.MaxVarintLen64]byte
	put(b, buf[:binary.PutUvarint(buf[:], v)], ctx)
	return nil
}

type varint struct{}

func (varint) Read(b *bytes.Buffer, ctx *Context) (int64, error) {
	v, err := binary.ReadVarint(countingReader{b, ctx})
	if err != nil {
		return 0, varintErr(err)
	}
	return v, nil
}

func (varint) Write(b *bytes.Buffer, v int64, ctx *Context) error {
	var buf [binary.MaxVarintLen64]byte
	put(b, buf[:binary.PutVarint(buf[:], v)], ctx)
	return nil
}

type uvarint32 struct{}

func (uvarint32) Read(b *bytes.Buffer, ctx *Context) (uint32, error) {
	v, err := Uvarint.Read(b, ctx)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, errors.Wrapf(ErrOverflow, "uvarint32 %d", v)
	}
	return uint32(v), nil
}

func (uvarint32) Write(b *bytes.Buffer, v uint32, ctx *Context) error {
	return Uvarint.Write(b, uint64(v), ctx)
}

type varint32 struct{}

func (varint32) Read(b *bytes.Buffer, ctx *Context) (int32, error) {
	v, err := Varint.Read(b, ctx)
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, errors.Wrapf(ErrOverflow, "varint32 %d", v)
	}
	return int32(v), nil
}

func (varint32) Write(b *bytes.Buffer, v int32, ctx *Context) error {
	return Varint.Write(b, int64(v), ctx)
}
