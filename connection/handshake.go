package connection

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ondrakrat/robot-client/protocol"
	"github.com/ondrakrat/robot-client/transport"
)

// maxSynAttempts bounds the handshake to at most this many SYN packets
// before giving up and sending RST.
const maxSynAttempts = 20

// synTimeout is the per-attempt wait for a handshake response.
const synTimeout = 100 * time.Millisecond

// ErrHandshakeFailed is returned when no valid response arrives within
// maxSynAttempts tries.
var ErrHandshakeFailed = errors.New("connection: handshake failed after max retries")

// Handshake runs the SYN exchange: up to maxSynAttempts sends of the
// initial packet, each awaited for synTimeout, racing a background
// receive goroutine against the sending loop. On success it adopts the
// server's connId; on exhaustion it sends RST and returns ErrHandshakeFailed.
func (c *Connection) Handshake(ctx context.Context) error {
	recvCtx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()

	result := make(chan protocol.Packet, 1)
	group, gctx := errgroup.WithContext(recvCtx)
	group.Go(func() error {
		return c.receiveHandshakeResponse(gctx, result)
	})

	// policy governs the actual attempt bound: WithMaxRetries permits
	// maxSynAttempts-1 retries on top of the first send, so the (maxSynAttempts)th
	// call to NextBackOff returns backoff.Stop and the loop below exits having
	// sent exactly maxSynAttempts SYN packets.
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(synTimeout), maxSynAttempts-1)
	syn := protocol.Initial(c.mode)

	for {
		c.port.Send(syn)

		select {
		case resp := <-result:
			c.connID = resp.ConnID
			cancelRecv()
			_ = group.Wait()
			c.log.Info("handshake complete", zap.Uint32("connId", c.connID))
			return nil
		case <-time.After(synTimeout):
			// no response this attempt; fall through to the retry check below.
		case <-ctx.Done():
			cancelRecv()
			_ = group.Wait()
			return ctx.Err()
		}

		if policy.NextBackOff() == backoff.Stop {
			break
		}
	}

	c.port.Send(protocol.Rst(0))
	cancelRecv()
	_ = group.Wait()
	return ErrHandshakeFailed
}

// receiveHandshakeResponse polls the transport for a valid initial response
// until ctx is cancelled (by the sender loop on success, or by the caller).
func (c *Connection) receiveHandshakeResponse(ctx context.Context, result chan<- protocol.Packet) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		p, err := c.port.RecvWithDeadline(synTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			if errors.Is(err, protocol.ErrMalformedPacket) {
				continue
			}
			return err
		}
		if !protocol.IsValidInitialResponse(p) {
			continue
		}
		select {
		case result <- p:
		case <-ctx.Done():
		}
		return nil
	}
}
