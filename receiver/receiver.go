// Package receiver implements the DOWNLOAD-mode reorder window: it accepts
// out-of-order data packets into eight fixed slots, drains the completed
// prefix to disk, and replies with a cumulative ack.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ondrakrat/robot-client/protocol"
	"github.com/ondrakrat/robot-client/transport"
)

// OutputFileName is the fixed download destination, per the protocol's
// single well-known download target.
const OutputFileName = "foto.png"

// ErrResetByPeer is returned when the server sends RST during a download.
var ErrResetByPeer = errors.New("receiver: connection reset by peer")

// Window is the receive-side reorder buffer. written counts bytes already
// flushed to file; slots holds up to protocol.WindowSize pending chunks,
// indexed relative to written.
type Window struct {
	port    transport.Port
	connID  uint32
	log     *zap.Logger
	out     *os.File
	slots   [protocol.WindowSize][]byte
	written uint64
}

// New returns a ready-to-run Window that reads/writes over port for the
// given connID, draining completed chunks to out.
func New(port transport.Port, connID uint32, out *os.File, log *zap.Logger) *Window {
	return &Window{port: port, connID: connID, log: log, out: out}
}

// Run drives the download to completion: receive, slot, drain, ack, repeat,
// until the server's FIN is seen or ctx is cancelled.
func (w *Window) Run(ctx context.Context) error {
	w.log.Info("DOWNLOADING STARTED")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p, err := w.port.RecvWithDeadline(transport.RemoteTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return fmt.Errorf("receiver: receive: %w", err)
		}
		if p.ConnID != w.connID {
			continue
		}
		if p.Flag == protocol.FlagRST {
			return ErrResetByPeer
		}

		resp, done, err := w.handlePacket(p)
		if err != nil {
			return err
		}
		w.port.Send(resp)
		if done {
			w.log.Info("DOWNLOADING FINISHED", zap.Uint64("bytes", w.written))
			return nil
		}
	}
}

// handlePacket slots a data packet (or handles FIN), drains whatever
// contiguous prefix is now available, and builds the response to send.
func (w *Window) handlePacket(p protocol.Packet) (resp protocol.Packet, done bool, err error) {
	if p.Flag == protocol.FlagFIN {
		if err := w.drain(); err != nil {
			return protocol.Packet{}, false, err
		}
		return protocol.Fin(w.connID, p.Seq, protocol.ModeDownload), true, nil
	}

	seq := protocol.LiftSeq(w.written, p.Seq)
	idx := protocol.SlotIndex(w.written, seq)
	if idx >= 0 && idx < protocol.WindowSize && w.slots[idx] == nil {
		w.slots[idx] = p.Data
	}
	if err := w.drain(); err != nil {
		return protocol.Packet{}, false, err
	}
	ack := uint16(w.written % 65536)
	return protocol.NewAck(w.connID, ack), false, nil
}

// drain writes every contiguous occupied slot starting at index 0 to out,
// then shifts the window left by that many slots.
func (w *Window) drain() error {
	n := 0
	for n < protocol.WindowSize && w.slots[n] != nil {
		n++
	}
	for i := 0; i < n; i++ {
		if _, err := w.out.Write(w.slots[i]); err != nil {
			return fmt.Errorf("receiver: write %s: %w", OutputFileName, err)
		}
		w.written += uint64(len(w.slots[i]))
	}
	copy(w.slots[:], w.slots[n:])
	for i := protocol.WindowSize - n; i < protocol.WindowSize; i++ {
		w.slots[i] = nil
	}
	return nil
}
