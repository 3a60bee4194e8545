package raknet

import "time"

// message ids
const (
	idConnectedPing               byte = 0x00
	idUnconnectedPing             byte = 0x01
	idUnconnectedPingOpen         byte = 0x02
	idConnectedPong               byte = 0x03
	idOpenConnectionRequest1      byte = 0x05
	idOpenConnectionReply1        byte = 0x06
	idOpenConnectionRequest2      byte = 0x07
	idOpenConnectionReply2        byte = 0x08
	idConnectionRequest           byte = 0x09
	idConnectionRequestAccepted   byte = 0x10
	idAlreadyConnected            byte = 0x12
	idNewIncomingConnection       byte = 0x13
	idDisconnectionNotification   byte = 0x15
	idIncompatibleProtocolVersion byte = 0x19
	idUnconnectedPong             byte = 0x1c
)

// datagram flags
const (
	flagDatagram    byte = 0x80
	flagNack        byte = 0x20
	flagAck         byte = 0x40
	flagNeedsBAndAS byte = 0x04

	idFrameSet = flagDatagram | flagNeedsBAndAS
	idNack     = flagDatagram | flagNack
	idAck      = flagDatagram | flagAck
)

// frame reliability kinds
const (
	kindUnreliable byte = iota
	kindUnreliableSequenced
	kindReliable
	kindReliableOrdered
	kindReliableSequenced
	kindUnreliableAckReceipt
	kindReliableAckReceipt
	kindReliableOrderedAckReceipt
)

const flagSplit byte = 0x10

var isReliableKind = []bool{
	false, // kindUnreliable
	false, // kindUnreliableSequenced
	true,  // kindReliable
	true,  // kindReliableOrdered
	true,  // kindReliableSequenced
	false, // kindUnreliableAckReceipt
	true,  // kindReliableAckReceipt
	true,  // kindReliableOrderedAckReceipt
}

var isOrderedKind = []bool{
	false, // kindUnreliable
	true,  // kindUnreliableSequenced
	false, // kindReliable
	true,  // kindReliableOrdered
	true,  // kindReliableSequenced
	false, // kindUnreliableAckReceipt
	false, // kindReliableAckReceipt
	true,  // kindReliableOrderedAckReceipt
}

var isSequencedKind = []bool{
	false, // kindUnreliable
	true,  // kindUnreliableSequenced
	false, // kindReliable
	false, // kindReliableOrdered
	true,  // kindReliableSequenced
	false, // kindUnreliableAckReceipt
	false, // kindReliableAckReceipt
	false, // kindReliableOrderedAckReceipt
}

var offlineMagic = [16]byte{0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe, 0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78}

const (
	ProtocolVersion byte = 11

	MaxMTU = 1492
	MinMTU = 576

	// ip + udp header, counted into the mtu of OpenConnectionRequest1
	udpHeaderSize = 20 + 8

	datagramHeaderSize = 1 + 3

	splitHeaderSize = 4 + 2 + 4

	maxFramePayload = 0xffff >> 3

	systemAddressCount = 10

	// an ack range wider than this is treated as hostile
	maxAckRange = 8192

	orderingWindow = 1 << 16
)

const (
	DefaultResendInterval = 500 * time.Millisecond
	DefaultTickInterval   = 10 * time.Millisecond
	DefaultSessionTimeout = 10 * time.Second
	DefaultPingInterval   = 2 * time.Second
)
