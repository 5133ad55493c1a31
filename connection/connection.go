// Package connection owns the handshake controller and the per-run
// Connection state (remote endpoint, connection id, negotiated mode).
package connection

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ondrakrat/robot-client/protocol"
	"github.com/ondrakrat/robot-client/transport"
)

// Connection holds the state negotiated by the handshake and shared by the
// receiver/sender loops that follow it.
type Connection struct {
	port   transport.Port
	log    *zap.Logger
	mode   protocol.Mode
	connID uint32
	closed bool
}

// New constructs a Connection over an already-dialed transport.Port, before
// the handshake has run.
func New(port transport.Port, mode protocol.Mode, log *zap.Logger) *Connection {
	log.Info("connecting", zap.String("mode", mode.String()))
	return &Connection{port: port, mode: mode, log: log}
}

// ConnID returns the server-assigned connection id adopted during the
// handshake. Valid only after Handshake has returned successfully.
func (c *Connection) ConnID() uint32 { return c.connID }

// Mode returns the direction this connection negotiated.
func (c *Connection) Mode() protocol.Mode { return c.mode }

// Transport exposes the underlying port so the receiver/sender loops can
// exchange data packets directly.
func (c *Connection) Transport() transport.Port { return c.port }

// Closed reports whether Close has already run.
func (c *Connection) Closed() bool { return c.closed }

// Close releases the underlying transport. Safe to call multiple times.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}

func (c *Connection) String() string {
	return fmt.Sprintf("connection{id=%d mode=%s}", c.connID, c.mode)
}
