package raknet

import (
	"bytes"
	"net/netip"

	"github.com/pkg/errors"

	"github.com/yulon/go-raknet/codec"
)

var (
	errUnexpectedID = errors.New("unexpected message id")
	errBadMagic     = errors.New("bad offline magic")
)

func idField[T any](id byte) codec.Field[T] {
	return codec.Bind("id", codec.Func(
		func(b *bytes.Buffer, ctx *codec.Context) (byte, error) {
			got, err := codec.Uint8.Read(b, ctx)
			if err == nil && got != id {
				err = errors.Wrapf(errUnexpectedID, "0x%02x, want 0x%02x", got, id)
			}
			return got, err
		},
		func(b *bytes.Buffer, _ byte, ctx *codec.Context) error {
			return codec.Uint8.Write(b, id, ctx)
		},
	), func(*T) *byte { return new(byte) })
}

var magicCodec = codec.Func(
	func(b *bytes.Buffer, ctx *codec.Context) ([]byte, error) {
		p, err := codec.Raw(len(offlineMagic)).Read(b, ctx)
		if err == nil && !bytes.Equal(p, offlineMagic[:]) {
			err = errBadMagic
		}
		return p, err
	},
	func(b *bytes.Buffer, _ []byte, ctx *codec.Context) error {
		return codec.Raw(len(offlineMagic)).Write(b, offlineMagic[:], ctx)
	},
)

func magicField[T any]() codec.Field[T] {
	return codec.Bind("magic", magicCodec, func(*T) *[]byte { return new([]byte) })
}

type ipVersion byte

const (
	ipv4 ipVersion = 4
	ipv6 ipVersion = 6
)

var ipVersionCodec = codec.Enum(codec.Uint8, map[uint8]ipVersion{4: ipv4, 6: ipv6})

// AF_INET6 as numbered on Windows, which peers put on the wire
const inet6Family = 23

type addrWire struct {
	version ipVersion
	ip4     []byte
	family  uint16
	port    uint16
	flow    uint32
	ip6     []byte
	scope   uint32
}

func unlessVersion(v ipVersion) func(*codec.Context) bool {
	return func(ctx *codec.Context) bool {
		got, _ := codec.Lookup[ipVersion](ctx, "version")
		return got != v
	}
}

var addrRecord = codec.Record(
	codec.Bind("version", ipVersionCodec, func(a *addrWire) *ipVersion { return &a.version }),
	codec.Bind("", codec.Optional(codec.Raw(4), unlessVersion(ipv4)), func(a *addrWire) *[]byte { return &a.ip4 }),
	codec.Bind("", codec.Optional(u16le, unlessVersion(ipv6)), func(a *addrWire) *uint16 { return &a.family }),
	codec.Bind("", u16be, func(a *addrWire) *uint16 { return &a.port }),
	codec.Bind("", codec.Optional(u32be, unlessVersion(ipv6)), func(a *addrWire) *uint32 { return &a.flow }),
	codec.Bind("", codec.Optional(codec.Raw(16), unlessVersion(ipv6)), func(a *addrWire) *[]byte { return &a.ip6 }),
	codec.Bind("", codec.Optional(u32be, unlessVersion(ipv6)), func(a *addrWire) *uint32 { return &a.scope }),
)

// addrCodec carries an address with the IPv4 bytes inverted.
var addrCodec = codec.Func(
	func(b *bytes.Buffer, ctx *codec.Context) (netip.AddrPort, error) {
		w, err := addrRecord.Read(b, ctx)
		if err != nil {
			return netip.AddrPort{}, err
		}
		if w.version == ipv4 {
			var ip [4]byte
			for i := range ip {
				ip[i] = ^w.ip4[i]
			}
			return netip.AddrPortFrom(netip.AddrFrom4(ip), w.port), nil
		}
		return netip.AddrPortFrom(netip.AddrFrom16([16]byte(w.ip6)), w.port), nil
	},
	func(b *bytes.Buffer, ap netip.AddrPort, ctx *codec.Context) error {
		addr := ap.Addr().Unmap()
		if !addr.IsValid() {
			addr = netip.IPv4Unspecified()
		}
		w := addrWire{version: ipv4, port: ap.Port()}
		if addr.Is4() {
			ip := addr.As4()
			w.ip4 = make([]byte, 4)
			for i := range ip {
				w.ip4[i] = ^ip[i]
			}
		} else {
			ip := addr.As16()
			w.version = ipv6
			w.family = inet6Family
			w.ip6 = ip[:]
		}
		return addrRecord.Write(b, w, ctx)
	},
)

// systemAddrsCodec writes systemAddressCount addresses and reads as many as
// precede the two trailing timestamps, since peers disagree on the count.
var systemAddrsCodec = codec.Func(
	func(b *bytes.Buffer, ctx *codec.Context) ([]netip.AddrPort, error) {
		var out []netip.AddrPort
		for b.Len() > 16 {
			ap, err := addrCodec.Read(b, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, ap)
		}
		return out, nil
	},
	func(b *bytes.Buffer, v []netip.AddrPort, ctx *codec.Context) error {
		addrs := make([]netip.AddrPort, systemAddressCount)
		copy(addrs, v)
		return codec.Array(systemAddressCount, addrCodec).Write(b, addrs, ctx)
	},
)

type unconnectedPing struct {
	id   byte
	time int64
	guid uint64
}

var unconnectedPingCodec = codec.Record(
	codec.Bind("id", codec.Uint8, func(m *unconnectedPing) *byte { return &m.id }),
	codec.Bind("time", i64be, func(m *unconnectedPing) *int64 { return &m.time }),
	magicField[unconnectedPing](),
	codec.Bind("guid", u64be, func(m *unconnectedPing) *uint64 { return &m.guid }),
)

type unconnectedPong struct {
	time int64
	guid uint64
	data string
}

var unconnectedPongCodec = codec.Record(
	idField[unconnectedPong](idUnconnectedPong),
	codec.Bind("time", i64be, func(m *unconnectedPong) *int64 { return &m.time }),
	codec.Bind("guid", u64be, func(m *unconnectedPong) *uint64 { return &m.guid }),
	magicField[unconnectedPong](),
	codec.Bind("data", codec.String(codec.DefaultLength), func(m *unconnectedPong) *string { return &m.data }),
)

type openConnectionRequest1 struct {
	protocol byte
	mtu      uint16
}

// mtuPadding pads the datagram so that its size plus the ip and udp
// headers equals the mtu being probed.
var mtuPadding = codec.Func(
	func(b *bytes.Buffer, ctx *codec.Context) (uint16, error) {
		mtu := min(ctx.N+b.Len()+udpHeaderSize, 0xffff)
		_, err := codec.Rest.Read(b, ctx)
		return uint16(mtu), err
	},
	func(b *bytes.Buffer, mtu uint16, ctx *codec.Context) error {
		pad := max(int(mtu)-udpHeaderSize-ctx.N, 0)
		return codec.Rest.Write(b, make([]byte, pad), ctx)
	},
)

var openConnectionRequest1Codec = codec.Record(
	idField[openConnectionRequest1](idOpenConnectionRequest1),
	magicField[openConnectionRequest1](),
	codec.Bind("protocol", codec.Uint8, func(m *openConnectionRequest1) *byte { return &m.protocol }),
	codec.Bind("mtu", mtuPadding, func(m *openConnectionRequest1) *uint16 { return &m.mtu }),
)

type openConnectionReply1 struct {
	guid     uint64
	security bool
	mtu      uint16
}

var openConnectionReply1Codec = codec.Record(
	idField[openConnectionReply1](idOpenConnectionReply1),
	magicField[openConnectionReply1](),
	codec.Bind("guid", u64be, func(m *openConnectionReply1) *uint64 { return &m.guid }),
	codec.Bind("security", codec.Bool, func(m *openConnectionReply1) *bool { return &m.security }),
	codec.Bind("mtu", u16be, func(m *openConnectionReply1) *uint16 { return &m.mtu }),
)

type openConnectionRequest2 struct {
	server netip.AddrPort
	mtu    uint16
	guid   uint64
}

var openConnectionRequest2Codec = codec.Record(
	idField[openConnectionRequest2](idOpenConnectionRequest2),
	magicField[openConnectionRequest2](),
	codec.Bind("server", addrCodec, func(m *openConnectionRequest2) *netip.AddrPort { return &m.server }),
	codec.Bind("mtu", u16be, func(m *openConnectionRequest2) *uint16 { return &m.mtu }),
	codec.Bind("guid", u64be, func(m *openConnectionRequest2) *uint64 { return &m.guid }),
)

type openConnectionReply2 struct {
	guid     uint64
	client   netip.AddrPort
	mtu      uint16
	security bool
}

var openConnectionReply2Codec = codec.Record(
	idField[openConnectionReply2](idOpenConnectionReply2),
	magicField[openConnectionReply2](),
	codec.Bind("guid", u64be, func(m *openConnectionReply2) *uint64 { return &m.guid }),
	codec.Bind("client", addrCodec, func(m *openConnectionReply2) *netip.AddrPort { return &m.client }),
	codec.Bind("mtu", u16be, func(m *openConnectionReply2) *uint16 { return &m.mtu }),
	codec.Bind("security", codec.Bool, func(m *openConnectionReply2) *bool { return &m.security }),
)

type incompatibleProtocolVersion struct {
	protocol byte
	guid     uint64
}

var incompatibleProtocolVersionCodec = codec.Record(
	idField[incompatibleProtocolVersion](idIncompatibleProtocolVersion),
	codec.Bind("protocol", codec.Uint8, func(m *incompatibleProtocolVersion) *byte { return &m.protocol }),
	magicField[incompatibleProtocolVersion](),
	codec.Bind("guid", u64be, func(m *incompatibleProtocolVersion) *uint64 { return &m.guid }),
)

type alreadyConnected struct {
	guid uint64
}

var alreadyConnectedCodec = codec.Record(
	idField[alreadyConnected](idAlreadyConnected),
	magicField[alreadyConnected](),
	codec.Bind("guid", u64be, func(m *alreadyConnected) *uint64 { return &m.guid }),
)

type connectedPing struct {
	time int64
}

var connectedPingCodec = codec.Record(
	idField[connectedPing](idConnectedPing),
	codec.Bind("time", i64be, func(m *connectedPing) *int64 { return &m.time }),
)

type connectedPong struct {
	pingTime int64
	pongTime int64
}

var connectedPongCodec = codec.Record(
	idField[connectedPong](idConnectedPong),
	codec.Bind("ping_time", i64be, func(m *connectedPong) *int64 { return &m.pingTime }),
	codec.Bind("pong_time", i64be, func(m *connectedPong) *int64 { return &m.pongTime }),
)

type connectionRequest struct {
	guid     uint64
	time     int64
	security bool
}

var connectionRequestCodec = codec.Record(
	idField[connectionRequest](idConnectionRequest),
	codec.Bind("guid", u64be, func(m *connectionRequest) *uint64 { return &m.guid }),
	codec.Bind("time", i64be, func(m *connectionRequest) *int64 { return &m.time }),
	codec.Bind("security", codec.Bool, func(m *connectionRequest) *bool { return &m.security }),
)

type connectionRequestAccepted struct {
	client      netip.AddrPort
	index       uint16
	system      []netip.AddrPort
	requestTime int64
	time        int64
}

var connectionRequestAcceptedCodec = codec.Record(
	idField[connectionRequestAccepted](idConnectionRequestAccepted),
	codec.Bind("client", addrCodec, func(m *connectionRequestAccepted) *netip.AddrPort { return &m.client }),
	codec.Bind("index", u16be, func(m *connectionRequestAccepted) *uint16 { return &m.index }),
	codec.Bind("system", systemAddrsCodec, func(m *connectionRequestAccepted) *[]netip.AddrPort { return &m.system }),
	codec.Bind("request_time", i64be, func(m *connectionRequestAccepted) *int64 { return &m.requestTime }),
	codec.Bind("time", i64be, func(m *connectionRequestAccepted) *int64 { return &m.time }),
)

type newIncomingConnection struct {
	server   netip.AddrPort
	system   []netip.AddrPort
	pingTime int64
	pongTime int64
}

var newIncomingConnectionCodec = codec.Record(
	idField[newIncomingConnection](idNewIncomingConnection),
	codec.Bind("server", addrCodec, func(m *newIncomingConnection) *netip.AddrPort { return &m.server }),
	codec.Bind("system", systemAddrsCodec, func(m *newIncomingConnection) *[]netip.AddrPort { return &m.system }),
	codec.Bind("ping_time", i64be, func(m *newIncomingConnection) *int64 { return &m.pingTime }),
	codec.Bind("pong_time", i64be, func(m *newIncomingConnection) *int64 { return &m.pongTime }),
)

func decode[T any](c codec.Codec[T], p []byte) (T, error) {
	v, _, err := codec.Decode(c, p)
	return v, err
}

func encode[T any](c codec.Codec[T], v T) []byte {
	p, err := codec.Encode(c, v)
	if err != nil {
		// only reachable with a malformed message built by this package
		panic(err)
	}
	return p
}
