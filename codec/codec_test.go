package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func roundTrip[T comparable](t *testing.T, c Codec[T], v T) []byte {
	t.Helper()
	p, err := Encode(c, v)
	if err != nil {
		t.Fatalf("encode %v: %v", v, err)
	}
	got, n, err := Decode(c, p)
	if err != nil {
		t.Fatalf("decode %v: %v", v, err)
	}
	if got != v {
		t.Fatalf("round trip: got %v, want %v", got, v)
	}
	if n != len(p) {
		t.Fatalf("consumed %d bytes, produced %d", n, len(p))
	}
	return p
}

func TestFixedWidthRoundTrip(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		roundTrip(t, Uint8, 0xab)
		roundTrip(t, Int8, -5)
		roundTrip(t, Bool, true)
		roundTrip(t, Uint16(order), 0xbeef)
		roundTrip(t, Int16(order), -1234)
		roundTrip(t, Uint24(order), 0xabcdef)
		roundTrip(t, Uint32(order), 0xdeadbeef)
		roundTrip(t, Int32(order), math.MinInt32)
		roundTrip(t, Uint64(order), math.MaxUint64-7)
		roundTrip(t, Int64(order), -1<<40)
		roundTrip(t, Float32(order), 3.25)
		roundTrip(t, Float64(order), -1e300)
	}
}

func TestUint24Layout(t *testing.T) {
	le, _ := Encode(Uint24(binary.LittleEndian), 0x010203)
	if !bytes.Equal(le, []byte{0x03, 0x02, 0x01}) {
		t.Fatalf("little endian: % x", le)
	}
	be, _ := Encode(Uint24(binary.BigEndian), 0x010203)
	if !bytes.Equal(be, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("big endian: % x", be)
	}
	trunc, _ := Encode(Uint24(binary.LittleEndian), 0xff010203)
	if !bytes.Equal(trunc, le) {
		t.Fatalf("high byte not truncated: % x", trunc)
	}
}

func TestUvarintLayout(t *testing.T) {
	cases := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, c := range cases {
		p := roundTrip(t, Uvarint, c.v)
		if !bytes.Equal(p, c.want) {
			t.Errorf("uvarint %d: got % x, want % x", c.v, p, c.want)
		}
	}
	roundTrip(t, Uvarint, math.MaxUint64)
}

func TestVarintZigZag(t *testing.T) {
	cases := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x01}},
		{1, []byte{0x02}},
		{-64, []byte{0x7f}},
		{64, []byte{0x80, 0x01}},
	}
	for _, c := range cases {
		p := roundTrip(t, Varint, c.v)
		if !bytes.Equal(p, c.want) {
			t.Errorf("varint %d: got % x, want % x", c.v, p, c.want)
		}
	}
	roundTrip(t, Varint32, math.MinInt32)
	roundTrip(t, Uvarint32, math.MaxUint32)

	big, _ := Encode(Uvarint, math.MaxUint32+1)
	if _, _, err := Decode(Uvarint32, big); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestShortBuffer(t *testing.T) {
	if _, _, err := Decode(Uint32(binary.BigEndian), []byte{1, 2}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("uint32: expected ErrShortBuffer, got %v", err)
	}
	if _, _, err := Decode(Uvarint, []byte{0x80, 0x80}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("uvarint: expected ErrShortBuffer, got %v", err)
	}
	if _, _, err := Decode(String(DefaultLength), []byte{0, 5, 'a'}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("string: expected ErrShortBuffer, got %v", err)
	}
}

func TestLengthPrefixed(t *testing.T) {
	p := roundTrip(t, String(DefaultLength), "héllo")
	if !bytes.Equal(p[:2], []byte{0, 6}) {
		t.Fatalf("length prefix: % x", p[:2])
	}
	roundTrip(t, String(Len(Uvarint32)), "")

	raw, err := Encode(Bytes(Len(Uint8)), []byte{9, 8, 7})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, []byte{3, 9, 8, 7}) {
		t.Fatalf("bytes: % x", raw)
	}
	if _, err := Encode(Bytes(Len(Uint8)), make([]byte, 300)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if _, _, err := Decode(String(Len(Uint8)), []byte{2, 0xff, 0xfe}); !errors.Is(err, ErrInvalidText) {
		t.Fatalf("expected ErrInvalidText, got %v", err)
	}
}

func TestRawLength(t *testing.T) {
	if _, err := Encode(Raw(4), []byte{1, 2, 3}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	p, err := Encode(Raw(3), []byte{1, 2, 3})
	if err != nil || len(p) != 3 {
		t.Fatalf("raw: %v % x", err, p)
	}
	got, n, err := Decode(Rest, []byte{4, 5})
	if err != nil || n != 2 || !bytes.Equal(got, []byte{4, 5}) {
		t.Fatalf("rest: %v %d % x", err, n, got)
	}
}

type color int

const (
	red color = iota + 1
	green
)

func TestEnum(t *testing.T) {
	c := Enum(Uint8, map[uint8]color{1: red, 7: green})
	p := roundTrip(t, c, green)
	if !bytes.Equal(p, []byte{7}) {
		t.Fatalf("enum: % x", p)
	}
	if _, _, err := Decode(c, []byte{3}); !errors.Is(err, ErrUnknownEnum) {
		t.Fatalf("expected ErrUnknownEnum, got %v", err)
	}
	if _, err := Encode(c, color(99)); !errors.Is(err, ErrUnknownEnum) {
		t.Fatalf("expected ErrUnknownEnum, got %v", err)
	}
}

type point struct {
	HasZ bool
	X, Y int32
	Z    int32
}

var pointCodec = Record(
	Bind("has_z", Bool, func(p *point) *bool { return &p.HasZ }),
	Bind("x", Varint32, func(p *point) *int32 { return &p.X }),
	Bind("y", Varint32, func(p *point) *int32 { return &p.Y }),
	Bind("z", Optional(Varint32, func(ctx *Context) bool {
		has, _ := Lookup[bool](ctx, "has_z")
		return !has
	}), func(p *point) *int32 { return &p.Z }),
)

func TestRecordOptionalField(t *testing.T) {
	flat := roundTrip(t, pointCodec, point{X: -3, Y: 200})
	if len(flat) != 1+1+2 {
		t.Fatalf("absent field encoded: % x", flat)
	}
	full := roundTrip(t, pointCodec, point{HasZ: true, X: 1, Y: 2, Z: -9})
	if len(full) != 1+1+1+1 {
		t.Fatalf("present field: % x", full)
	}
}

type shape struct {
	Dims   uint8
	Points []point3
}

type point3 struct {
	Coords []uint16
}

// point3 reads as many coordinates as the enclosing shape declared.
var shapeCodec = Record(
	Bind("dims", Uint8, func(s *shape) *uint8 { return &s.Dims }),
	Bind("points", List(Len(Uint8), Record(
		Bind("", Func(
			func(b *bytes.Buffer, ctx *Context) ([]uint16, error) {
				dims, _ := Lookup[uint8](ctx, "dims")
				return Array(int(dims), Uint16(binary.BigEndian)).Read(b, ctx)
			},
			func(b *bytes.Buffer, v []uint16, ctx *Context) error {
				dims, _ := Lookup[uint8](ctx, "dims")
				return Array(int(dims), Uint16(binary.BigEndian)).Write(b, v, ctx)
			},
		), func(p *point3) *[]uint16 { return &p.Coords }),
	)), func(s *shape) *[]point3 { return &s.Points }),
)

func TestRecordNestedContext(t *testing.T) {
	in := shape{Dims: 3, Points: []point3{{[]uint16{1, 2, 3}}, {[]uint16{4, 5, 6}}}}
	p, err := Encode(shapeCodec, in)
	if err != nil {
		t.Fatal(err)
	}
	if len(p) != 1+1+2*3*2 {
		t.Fatalf("encoded %d bytes", len(p))
	}
	out, n, err := Decode(shapeCodec, p)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(p) || out.Dims != 3 || len(out.Points) != 2 || out.Points[1].Coords[2] != 6 {
		t.Fatalf("decoded %+v (%d bytes)", out, n)
	}

	bad := shape{Dims: 2, Points: []point3{{[]uint16{1}}}}
	if _, err := Encode(shapeCodec, bad); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestContextScopes(t *testing.T) {
	ctx := new(Context)
	ctx.Push()
	ctx.Set("a", 1)
	ctx.Push()
	ctx.Set("a", 2)
	if v, _ := Lookup[int](ctx, "a"); v != 2 {
		t.Fatalf("inner scope: %d", v)
	}
	ctx.Pop()
	if v, _ := Lookup[int](ctx, "a"); v != 1 {
		t.Fatalf("outer scope: %d", v)
	}
	if _, ok := Lookup[string](ctx, "a"); ok {
		t.Fatal("lookup with wrong type succeeded")
	}
	ctx.Pop()
	ctx.Pop()
	if ctx.Depth() != 0 {
		t.Fatalf("depth %d", ctx.Depth())
	}

	dc := new(Context)
	if _, err := pointCodec.Read(bytes.NewBuffer([]byte{1, 2, 4, 6}), dc); err != nil {
		t.Fatal(err)
	}
	if len(dc.Values) != 4 || dc.N != 4 || dc.Depth() != 0 {
		t.Fatalf("values %v, n %d, depth %d", dc.Values, dc.N, dc.Depth())
	}
}

func TestUntil(t *testing.T) {
	c := Until(Uint16(binary.LittleEndian))
	got, n, err := Decode(c, []byte{1, 0, 2, 0, 3, 0})
	if err != nil || n != 6 || len(got) != 3 || got[2] != 3 {
		t.Fatalf("until: %v %d %v", err, n, got)
	}
	if _, _, err := Decode(c, []byte{1, 0, 2}); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}
