// Package transport wraps a UDP socket with the send/receive shape the
// rest of the client needs: best-effort send, deadline-bounded receive, and
// a packet-level diagnostic log.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ondrakrat/robot-client/protocol"
)

// RemotePort is the fixed remote (and local) UDP port the robot server
// listens on.
const RemotePort = 4000

// RemoteTimeout is the fixed per-packet response deadline used by the
// receive and send windows (the handshake uses its own, equal, synTimeout).
const RemoteTimeout = 100 * time.Millisecond

// recvBufLen is sized for the largest possible datagram
// (protocol.MaxPacketLen).
const recvBufLen = 264

// ErrTimeout is returned by RecvWithDeadline when no datagram arrives before
// the deadline elapses.
var ErrTimeout = errors.New("transport: receive timed out")

// Port is the narrow interface the handshake, receiver and sender packages
// depend on, so tests can substitute a fake instead of a real socket.
type Port interface {
	Send(p protocol.Packet) bool
	RecvWithDeadline(timeout time.Duration) (protocol.Packet, error)
	Close() error
}

// Conn is a Port backed by a real *net.UDPConn dialed to a single remote
// endpoint.
type Conn struct {
	sock *net.UDPConn
	log  *zap.Logger
	buf  []byte
}

var _ Port = (*Conn)(nil)

// Dial resolves host and opens a UDP socket bound to RemotePort locally,
// connected to host:RemotePort.
func Dial(host string, log *zap.Logger) (*Conn, error) {
	remote, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", host, RemotePort))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", host, err)
	}
	local := &net.UDPAddr{Port: RemotePort}
	sock, err := net.DialUDP("udp4", local, remote)
	if err != nil {
		// Fall back to an ephemeral local port; a second client on the same
		// host would otherwise be unable to bind RemotePort.
		sock, err = net.DialUDP("udp4", nil, remote)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", remote, err)
		}
	}
	return &Conn{sock: sock, log: log, buf: make([]byte, recvBufLen)}, nil
}

// Send encodes and writes p, logging the attempt. It reports false (rather
// than propagating an error) on a non-fatal write failure, matching the
// original client's "send best-effort" contract.
func (c *Conn) Send(p protocol.Packet) bool {
	logPacket(c.log, "SEND", p)
	_, err := c.sock.Write(protocol.Encode(p))
	if err != nil {
		c.log.Warn("send failed", zap.Error(err))
		return false
	}
	return true
}

// RecvWithDeadline blocks for at most timeout waiting for a single
// datagram, decodes it, and returns it.
func (c *Conn) RecvWithDeadline(timeout time.Duration) (protocol.Packet, error) {
	if err := c.sock.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.Packet{}, fmt.Errorf("transport: set deadline: %w", err)
	}
	n, err := c.sock.Read(c.buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return protocol.Packet{}, ErrTimeout
		}
		return protocol.Packet{}, fmt.Errorf("transport: read: %w", err)
	}
	p, err := protocol.Decode(c.buf[:n])
	if err != nil {
		return protocol.Packet{}, err
	}
	logPacket(c.log, "RECV", p)
	return p, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.sock.Close()
}

func logPacket(log *zap.Logger, dir string, p protocol.Packet) {
	log.Debug(dir,
		zap.Uint32("connId", p.ConnID),
		zap.Uint16("seq", p.Seq),
		zap.Uint16("ack", p.Ack),
		zap.Uint8("flag", p.Flag),
		zap.Int("dataLen", len(p.Data)),
		zap.String("data", fmt.Sprintf("%x", p.Data)),
	)
}
