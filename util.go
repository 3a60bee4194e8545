package raknet

import (
	"net"
	"sync/atomic"
	"time"
)

// 24-bit sequence space shared by datagram sequence numbers, reliable
// message numbers and ordering indices.
const (
	seqMask = 0xffffff
	seqHalf = 0x800000
)

func seqInc(n uint32) uint32 {
	return (n + 1) & seqMask
}

// seqDist is the forward distance from a to b.
func seqDist(a, b uint32) uint32 {
	return (b - a) & seqMask
}

// seqBefore reports whether a precedes b, treating the space as cyclic.
func seqBefore(a, b uint32) bool {
	d := seqDist(a, b)
	return d != 0 && d < seqHalf
}

var ipv4Localhost = net.ParseIP("127.0.0.1")

func newLocalUDPAddr(port int, remoteUDPAddr *net.UDPAddr) *net.UDPAddr {
	localUDPAddr := &net.UDPAddr{
		Port: port,
	}
	if remoteUDPAddr.IP.Equal(ipv4Localhost) {
		localUDPAddr.IP = ipv4Localhost
	} else {
		localUDPAddr.IP = net.IPv4zero
	}
	return localUDPAddr
}

type atomicTime struct {
	val int64
}

func newAtomicTime(t time.Time) *atomicTime {
	return &atomicTime{t.UnixNano()}
}

func (at *atomicTime) Set(t time.Time) {
	atomic.StoreInt64(&at.val, t.UnixNano())
}

func (at *atomicTime) Get() time.Time {
	return time.Unix(0, atomic.LoadInt64(&at.val))
}

type atomicDur struct {
	val int64
}

func newAtomicDur(d time.Duration) *atomicDur {
	return &atomicDur{int64(d)}
}

func (ad *atomicDur) Set(d time.Duration) {
	atomic.StoreInt64(&ad.val, int64(d))
}

func (ad *atomicDur) Get() time.Duration {
	return time.Duration(atomic.LoadInt64(&ad.val))
}

func timestamp(t time.Time) int64 {
	return t.UnixMilli()
}
