package raknet

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/pkg/errors"

	"github.com/yulon/go-raknet/codec"
)

var (
	be = binary.BigEndian
	le = binary.LittleEndian

	u16be = codec.Uint16(be)
	u16le = codec.Uint16(le)
	u24le = codec.Uint24(le)
	u32be = codec.Uint32(be)
	u64be = codec.Uint64(be)
	i64be = codec.Int64(be)
)

type frame struct {
	flags    byte
	bits     uint16
	msgNum   uint32
	seqIdx   uint32
	orderIdx uint32
	channel  uint8

	splitCount uint32
	splitID    uint16
	splitIdx   uint32

	payload []byte
}

func (f *frame) kind() byte {
	return f.flags >> 5
}

func (f *frame) split() bool {
	return f.flags&flagSplit != 0
}

func (f *frame) reliable() bool {
	return isReliableKind[f.kind()]
}

func (f *frame) ordered() bool {
	return isOrderedKind[f.kind()]
}

func (f *frame) sequenced() bool {
	return isSequencedKind[f.kind()]
}

func (f *frame) size() int {
	return frameHeaderSize(f.flags) + len(f.payload)
}

func frameHeaderSize(flags byte) int {
	k := flags >> 5
	n := 1 + 2
	if isReliableKind[k] {
		n += 3
	}
	if isSequencedKind[k] {
		n += 3
	}
	if isOrderedKind[k] {
		n += 3 + 1
	}
	if flags&flagSplit != 0 {
		n += splitHeaderSize
	}
	return n
}

func absentUnless(pred []bool) func(*codec.Context) bool {
	return func(ctx *codec.Context) bool {
		flags, _ := codec.Lookup[byte](ctx, "flags")
		return !pred[flags>>5]
	}
}

func notSplit(ctx *codec.Context) bool {
	flags, _ := codec.Lookup[byte](ctx, "flags")
	return flags&flagSplit == 0
}

var frameRecord = codec.Record(
	codec.Bind("flags", codec.Uint8, func(f *frame) *byte { return &f.flags }),
	codec.Bind("bits", u16be, func(f *frame) *uint16 { return &f.bits }),
	codec.Bind("", codec.Optional(u24le, absentUnless(isReliableKind)), func(f *frame) *uint32 { return &f.msgNum }),
	codec.Bind("", codec.Optional(u24le, absentUnless(isSequencedKind)), func(f *frame) *uint32 { return &f.seqIdx }),
	codec.Bind("", codec.Optional(u24le, absentUnless(isOrderedKind)), func(f *frame) *uint32 { return &f.orderIdx }),
	codec.Bind("", codec.Optional(codec.Uint8, absentUnless(isOrderedKind)), func(f *frame) *uint8 { return &f.channel }),
	codec.Bind("", codec.Optional(u32be, notSplit), func(f *frame) *uint32 { return &f.splitCount }),
	codec.Bind("", codec.Optional(u16be, notSplit), func(f *frame) *uint16 { return &f.splitID }),
	codec.Bind("", codec.Optional(u32be, notSplit), func(f *frame) *uint32 { return &f.splitIdx }),
	codec.Bind("", codec.Sized(func(ctx *codec.Context) (int, error) {
		bits, _ := codec.Lookup[uint16](ctx, "bits")
		return (int(bits) + 7) >> 3, nil
	}), func(f *frame) *[]byte { return &f.payload }),
)

var errFrameTooLarge = errors.New("frame payload too large")

// frameCodec fills in the bit length from the payload before writing.
var frameCodec = codec.Func(
	frameRecord.Read,
	func(b *bytes.Buffer, f frame, ctx *codec.Context) error {
		if len(f.payload) > maxFramePayload {
			return errors.Wrapf(errFrameTooLarge, "%d bytes", len(f.payload))
		}
		f.bits = uint16(len(f.payload) << 3)
		return frameRecord.Write(b, f, ctx)
	},
)

type datagram struct {
	flags  byte
	seq    uint32
	frames []frame
}

var datagramCodec = codec.Record(
	codec.Bind("flags", codec.Uint8, func(d *datagram) *byte { return &d.flags }),
	codec.Bind("seq", u24le, func(d *datagram) *uint32 { return &d.seq }),
	codec.Bind("frames", codec.Until(frameCodec), func(d *datagram) *[]frame { return &d.frames }),
)

func isFrameSet(id byte) bool {
	return id&flagDatagram != 0 && id&(flagAck|flagNack) == 0
}

// ackRange is an inclusive range of datagram sequence numbers.
type ackRange struct {
	min, max uint32
}

type ackRangeWire struct {
	single   bool
	min, max uint32
}

var ackRangeRecord = codec.Record(
	codec.Bind("single", codec.Bool, func(r *ackRangeWire) *bool { return &r.single }),
	codec.Bind("min", u24le, func(r *ackRangeWire) *uint32 { return &r.min }),
	codec.Bind("max", codec.Optional(u24le, func(ctx *codec.Context) bool {
		single, _ := codec.Lookup[bool](ctx, "single")
		return single
	}), func(r *ackRangeWire) *uint32 { return &r.max }),
)

var ackRangeCodec = codec.Func(
	func(b *bytes.Buffer, ctx *codec.Context) (ackRange, error) {
		w, err := ackRangeRecord.Read(b, ctx)
		if w.single {
			w.max = w.min
		}
		return ackRange{w.min, w.max}, err
	},
	func(b *bytes.Buffer, r ackRange, ctx *codec.Context) error {
		return ackRangeRecord.Write(b, ackRangeWire{r.min == r.max, r.min, r.max}, ctx)
	},
)

type acknowledgement struct {
	id     byte
	ranges []ackRange
}

var acknowledgementCodec = codec.Record(
	codec.Bind("id", codec.Uint8, func(a *acknowledgement) *byte { return &a.id }),
	codec.Bind("ranges", codec.List(codec.Len(u16be), ackRangeCodec), func(a *acknowledgement) *[]ackRange { return &a.ranges }),
)

const ackRangeSizeMax = 1 + 3 + 3

// coalesce sorts and de-duplicates seqs and folds them into contiguous
// ranges. Runs do not continue across the 24-bit wrap.
func coalesce(seqs []uint32) []ackRange {
	if len(seqs) == 0 {
		return nil
	}
	slices.Sort(seqs)
	seqs = slices.Compact(seqs)
	ranges := []ackRange{{seqs[0], seqs[0]}}
	for _, n := range seqs[1:] {
		last := &ranges[len(ranges)-1]
		if n == last.max+1 {
			last.max = n
			continue
		}
		ranges = append(ranges, ackRange{n, n})
	}
	return ranges
}
