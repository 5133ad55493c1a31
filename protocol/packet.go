// Package protocol implements the wire codec for the robot file-transfer
// protocol: a 9-byte big-endian header followed by 0-255 bytes of payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Flag values. Exactly one may be set, or none (FlagEmpty).
const (
	FlagEmpty byte = 0x00
	FlagRST   byte = 0x01
	FlagFIN   byte = 0x02
	FlagSYN   byte = 0x04
)

// Mode is the direction carried in the one-byte SYN payload and used to pick
// which field a FIN packet echoes.
type Mode byte

const (
	ModeDownload Mode = 0x01
	ModeUpload   Mode = 0x02
)

func (m Mode) String() string {
	switch m {
	case ModeDownload:
		return "DOWNLOAD"
	case ModeUpload:
		return "UPLOAD"
	default:
		return fmt.Sprintf("Mode(0x%02x)", byte(m))
	}
}

const (
	// HeaderLen is the fixed header size: 4B connId + 2B seq + 2B ack + 1B flag.
	HeaderLen = 9
	// MaxDataLen is the largest payload a single packet may carry.
	MaxDataLen = 255
	// MaxPacketLen is the largest possible datagram (header + full payload).
	MaxPacketLen = HeaderLen + MaxDataLen
	// WindowSize is the fixed sliding-window size used by both directions.
	WindowSize = 8
)

// ErrMalformedPacket is returned by Decode when a datagram is too short to
// contain a header or carries a flag byte outside {EMPTY, RST, FIN, SYN}.
var ErrMalformedPacket = errors.New("protocol: malformed packet")

// Packet is the on-wire unit of the robot protocol.
type Packet struct {
	ConnID uint32
	Seq    uint16
	Ack    uint16
	Flag   byte
	Data   []byte
}

// Encode serializes p into a 9..264-byte big-endian datagram payload.
func Encode(p Packet) []byte {
	buf := make([]byte, HeaderLen+len(p.Data))
	binary.BigEndian.PutUint32(buf[0:4], p.ConnID)
	binary.BigEndian.PutUint16(buf[4:6], p.Seq)
	binary.BigEndian.PutUint16(buf[6:8], p.Ack)
	buf[8] = p.Flag
	copy(buf[9:], p.Data)
	return buf
}

// Decode parses a received datagram into a Packet. The returned Data slice
// is a copy, safe to retain past the lifetime of buf.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderLen {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPacket, len(buf), HeaderLen)
	}
	flag := buf[8]
	if !HasValidFlag(flag) {
		return Packet{}, fmt.Errorf("%w: flag 0x%02x", ErrMalformedPacket, flag)
	}
	data := append([]byte(nil), buf[HeaderLen:]...)
	return Packet{
		ConnID: binary.BigEndian.Uint32(buf[0:4]),
		Seq:    binary.BigEndian.Uint16(buf[4:6]),
		Ack:    binary.BigEndian.Uint16(buf[6:8]),
		Flag:   flag,
		Data:   data,
	}, nil
}

// Initial builds the SYN packet that opens a connection; mode is carried as
// the single payload byte.
func Initial(mode Mode) Packet {
	return Packet{ConnID: 0, Seq: 0, Ack: 0, Flag: FlagSYN, Data: []byte{byte(mode)}}
}

// NewData builds a data packet carrying up to MaxDataLen bytes of payload.
func NewData(connID uint32, seq uint16, payload []byte) Packet {
	return Packet{ConnID: connID, Seq: seq, Ack: 0, Flag: FlagEmpty, Data: payload}
}

// NewAck builds a cumulative-ack packet.
func NewAck(connID uint32, ack uint16) Packet {
	return Packet{ConnID: connID, Seq: 0, Ack: ack, Flag: FlagEmpty, Data: nil}
}

// Fin builds the connection-closing packet. Which field carries lastSeq
// depends on mode: DOWNLOAD echoes the server's last seq in Ack, UPLOAD
// places the client's final byte offset in Seq.
func Fin(connID uint32, lastSeq uint16, mode Mode) Packet {
	switch mode {
	case ModeDownload:
		return Packet{ConnID: connID, Seq: 0, Ack: lastSeq, Flag: FlagFIN, Data: nil}
	case ModeUpload:
		return Packet{ConnID: connID, Seq: lastSeq, Ack: 0, Flag: FlagFIN, Data: nil}
	default:
		panic(fmt.Sprintf("protocol: invalid mode %v", mode))
	}
}

// Rst builds a connection-reset packet.
func Rst(connID uint32) Packet {
	return Packet{ConnID: connID, Seq: 0, Ack: 0, Flag: FlagRST, Data: nil}
}

// HasValidFlag reports whether flag is one of the four defined singletons.
func HasValidFlag(flag byte) bool {
	switch flag {
	case FlagEmpty, FlagRST, FlagFIN, FlagSYN:
		return true
	default:
		return false
	}
}

// IsValid reports whether p has a recognized flag and, for FIN packets, an
// empty payload. It does not check conn_id against any particular session.
func IsValid(p Packet) bool {
	if !HasValidFlag(p.Flag) {
		return false
	}
	if p.Flag == FlagFIN && len(p.Data) > 0 {
		return false
	}
	return true
}

// IsValidInitialResponse reports whether p is a valid server response to an
// initial (SYN) packet: a nonzero conn_id, SYN flag, zero seq, and exactly
// one byte of payload. The payload's value is not checked against the mode
// the client requested; the original protocol is permissive here.
func IsValidInitialResponse(p Packet) bool {
	return p.ConnID != 0 && p.Flag == FlagSYN && p.Seq == 0 && len(p.Data) == 1
}
