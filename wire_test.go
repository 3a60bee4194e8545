package raknet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"net/netip"
	"reflect"
	"testing"

	"github.com/yulon/go-raknet/codec"
)

func TestFrameKinds(t *testing.T) {
	for kind := kindUnreliable; kind <= kindReliableOrderedAckReceipt; kind++ {
		for _, split := range []bool{false, true} {
			want := frame{flags: kind << 5, payload: []byte("payload")}
			if split {
				want.flags |= flagSplit
				want.splitCount, want.splitID, want.splitIdx = 4, 0x1234, 3
			}
			if isReliableKind[kind] {
				want.msgNum = 0x010203
			}
			if isSequencedKind[kind] {
				want.seqIdx = 0x040506
			}
			if isOrderedKind[kind] {
				want.orderIdx, want.channel = 0x070809, 5
			}

			p, err := codec.Encode(frameCodec, want)
			if err != nil {
				t.Fatalf("kind %d: %v", kind, err)
			}
			if len(p) != want.size() {
				t.Fatalf("kind %d split %v: %d bytes, size() %d", kind, split, len(p), want.size())
			}
			got, n, err := codec.Decode(frameCodec, p)
			if err != nil || n != len(p) {
				t.Fatalf("kind %d: decode %d bytes: %v", kind, n, err)
			}
			want.bits = uint16(len(want.payload) * 8)
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("kind %d split %v:\n got %+v\nwant %+v", kind, split, got, want)
			}
		}
	}
}

func TestFrameLayout(t *testing.T) {
	f := frame{flags: kindReliableOrdered<<5 | flagSplit, msgNum: 1, orderIdx: 2, channel: 3,
		splitCount: 2, splitID: 9, splitIdx: 1, payload: []byte{0xaa}}
	p, err := codec.Encode(frameCodec, f)
	if err != nil {
		t.Fatal(err)
	}
	want := "70" + "0008" + "010000" + "020000" + "03" + "00000002" + "0009" + "00000001" + "aa"
	if hex.EncodeToString(p) != want {
		t.Fatalf("got %x\nwant %s", p, want)
	}
}

func TestFrameTooLarge(t *testing.T) {
	_, err := codec.Encode(frameCodec, frame{payload: make([]byte, maxFramePayload+1)})
	if !errors.Is(err, errFrameTooLarge) {
		t.Fatalf("err = %v", err)
	}
}

func TestDatagram(t *testing.T) {
	d := datagram{flags: idFrameSet, seq: 0xabcdef, frames: []frame{
		{flags: kindUnreliable << 5, payload: []byte("a")},
		{flags: kindReliable << 5, msgNum: 7, payload: []byte("bc")},
	}}
	p, err := codec.Encode(datagramCodec, d)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(p, []byte{0x84, 0xef, 0xcd, 0xab}) {
		t.Fatalf("header %x", p[:4])
	}
	got, err := decode(datagramCodec, p)
	if err != nil {
		t.Fatal(err)
	}
	if got.seq != d.seq || len(got.frames) != 2 || string(got.frames[1].payload) != "bc" || got.frames[1].msgNum != 7 {
		t.Fatalf("got %+v", got)
	}
	if !isFrameSet(p[0]) || isFrameSet(idAck) || isFrameSet(idNack) {
		t.Fatal("isFrameSet")
	}
}

func TestCoalesce(t *testing.T) {
	got := coalesce([]uint32{10, 6, 5, 7, 6})
	want := []ackRange{{5, 7}, {10, 10}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if coalesce(nil) != nil {
		t.Fatal("coalesce(nil)")
	}
}

func TestAcknowledgement(t *testing.T) {
	a := acknowledgement{idAck, []ackRange{{5, 7}, {10, 10}}}
	p, err := codec.Encode(acknowledgementCodec, a)
	if err != nil {
		t.Fatal(err)
	}
	want := "c0" + "0002" + "00" + "050000" + "070000" + "01" + "0a0000"
	if hex.EncodeToString(p) != want {
		t.Fatalf("got %x\nwant %s", p, want)
	}
	got, err := decode(acknowledgementCodec, p)
	if err != nil || !reflect.DeepEqual(got, a) {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestAddr(t *testing.T) {
	v4 := netip.MustParseAddrPort("127.0.0.1:19132")
	p, err := codec.Encode(addrCodec, v4)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(p) != "0480fffffe4abc" {
		t.Fatalf("v4 %x", p)
	}
	got, err := decode(addrCodec, p)
	if err != nil || got != v4 {
		t.Fatalf("v4 got %v, %v", got, err)
	}

	v6 := netip.MustParseAddrPort("[2001:db8::1]:19133")
	p, err = codec.Encode(addrCodec, v6)
	if err != nil {
		t.Fatal(err)
	}
	if len(p) != 29 || p[0] != 6 || p[1] != inet6Family {
		t.Fatalf("v6 %x", p)
	}
	got, err = decode(addrCodec, p)
	if err != nil || got != v6 {
		t.Fatalf("v6 got %v, %v", got, err)
	}

	p, _ = codec.Encode(addrCodec, netip.AddrPort{})
	if hex.EncodeToString(p) != "04ffffffff0000" {
		t.Fatalf("unset %x", p)
	}
}

func TestOpenConnectionRequest1Padding(t *testing.T) {
	p := encode(openConnectionRequest1Codec, openConnectionRequest1{protocol: ProtocolVersion, mtu: 1492})
	if len(p)+udpHeaderSize != 1492 {
		t.Fatalf("%d bytes", len(p))
	}
	if p[0] != idOpenConnectionRequest1 || !bytes.Equal(p[1:17], offlineMagic[:]) || p[17] != ProtocolVersion {
		t.Fatalf("header %x", p[:18])
	}
	got, err := decode(openConnectionRequest1Codec, p)
	if err != nil || got.mtu != 1492 || got.protocol != ProtocolVersion {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestHandshakeMessages(t *testing.T) {
	addr := netip.MustParseAddrPort("10.0.0.2:5000")

	pong := unconnectedPong{time: 42, guid: 7, data: "MCPE;raknet"}
	if got, err := decode(unconnectedPongCodec, encode(unconnectedPongCodec, pong)); err != nil || got != pong {
		t.Fatalf("pong %+v, %v", got, err)
	}

	req2 := openConnectionRequest2{server: addr, mtu: 1400, guid: 99}
	if got, err := decode(openConnectionRequest2Codec, encode(openConnectionRequest2Codec, req2)); err != nil || got != req2 {
		t.Fatalf("request 2 %+v, %v", got, err)
	}

	acc := connectionRequestAccepted{client: addr, index: 1, requestTime: 10, time: 20}
	got, err := decode(connectionRequestAcceptedCodec, encode(connectionRequestAcceptedCodec, acc))
	if err != nil {
		t.Fatal(err)
	}
	if got.client != addr || got.requestTime != 10 || got.time != 20 || len(got.system) != systemAddressCount {
		t.Fatalf("accepted %+v", got)
	}

	nic := newIncomingConnection{server: addr, pingTime: 1, pongTime: 2}
	gotNIC, err := decode(newIncomingConnectionCodec, encode(newIncomingConnectionCodec, nic))
	if err != nil || gotNIC.server != addr || gotNIC.pingTime != 1 || gotNIC.pongTime != 2 {
		t.Fatalf("new incoming connection %+v, %v", gotNIC, err)
	}
}

func TestHandshakeErrors(t *testing.T) {
	p := encode(unconnectedPongCodec, unconnectedPong{data: "x"})
	p[20] ^= 0xff
	if _, err := decode(unconnectedPongCodec, p); !errors.Is(err, errBadMagic) {
		t.Fatalf("bad magic: %v", err)
	}
	if _, err := decode(connectedPingCodec, []byte{idConnectedPong, 0, 0, 0, 0, 0, 0, 0, 0}); !errors.Is(err, errUnexpectedID) {
		t.Fatalf("wrong id: %v", err)
	}
	if _, err := decode(connectedPingCodec, []byte{idConnectedPing, 0}); !errors.Is(err, codec.ErrShortBuffer) {
		t.Fatalf("short: %v", err)
	}
}
