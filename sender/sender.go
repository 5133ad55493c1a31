// Package sender implements the UPLOAD-mode send window: a FIFO of up to
// eight in-flight chunks, refilled as acks slide the window forward, with
// go-back-N resend of the whole window on timeout and a stuck-transmission
// guard.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ondrakrat/robot-client/protocol"
	"github.com/ondrakrat/robot-client/transport"
)

// maxSameSeqSends is the number of consecutive identical-seq data sends
// allowed before the transfer is declared stuck. Only packets with a
// nonempty payload count, matching the original protocol's data-only guard.
const maxSameSeqSends = 20

// ErrStuckTransmission is returned when the same data chunk is resent
// maxSameSeqSends times in a row without progress.
var ErrStuckTransmission = errors.New("sender: stuck transmission")

// ErrResetByPeer is returned when the server sends RST during an upload.
var ErrResetByPeer = errors.New("sender: connection reset by peer")

// chunk is one in-flight outgoing packet. start is its logical byte offset
// in the file, used to decide when an ack has fully covered it.
type chunk struct {
	seq   uint16
	start uint64
	data  []byte
}

// Window is the send-side FIFO window. All fields are guarded by mu since
// the ack receiver and retransmit ticker goroutines both mutate it. Unlike
// the receive window, there is exactly one lastSent timestamp for the whole
// window: every (re)send transmits the entire pending window in one pass,
// matching send_window's all-or-nothing retransmit.
type Window struct {
	port   transport.Port
	connID uint32
	log    *zap.Logger
	clock  clock.Clock
	file   io.Reader

	mu           sync.Mutex
	pending      []chunk
	totalSent    uint64 // bytes handed to chunks so far: the logical offset of the next chunk
	acked        uint64 // cumulative bytes the peer has acked
	eof          bool
	lastSent     time.Time
	lastSeq      uint16
	sameSeqCount int
	firstSend    bool
}

// New returns a ready-to-run Window reading file through r.
func New(port transport.Port, connID uint32, r io.Reader, clk clock.Clock, log *zap.Logger) *Window {
	return &Window{port: port, connID: connID, file: r, clock: clk, log: log, firstSend: true}
}

// RunUpload drives the upload to completion: refill, send, wait for acks,
// resend on timeout, until the file is fully acked and FIN is exchanged.
func (w *Window) RunUpload(ctx context.Context) error {
	w.log.Info("UPLOADING STARTED")
	group, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	group.Go(func() error {
		return w.ackReceiver(gctx, done)
	})
	group.Go(func() error {
		return w.retransmitTicker(gctx, done)
	})

	if err := w.refillAndSendWindow(); err != nil {
		return err
	}

	err := group.Wait()
	if err != nil && !errors.Is(err, errTransferComplete) {
		return err
	}
	w.log.Info("UPLOADING FINISHED", zap.Uint64("bytes", w.acked))
	return nil
}

// errTransferComplete is a sentinel used internally to unwind the errgroup
// cleanly once the final FIN round-trip succeeds; it is never returned to
// callers of RunUpload.
var errTransferComplete = errors.New("sender: transfer complete")

func (w *Window) ackReceiver(ctx context.Context, done chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return errTransferComplete
		default:
		}
		p, err := w.port.RecvWithDeadline(transport.RemoteTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) || errors.Is(err, protocol.ErrMalformedPacket) {
				continue
			}
			return fmt.Errorf("sender: receive: %w", err)
		}
		if p.ConnID != w.connID {
			continue
		}
		finished, err := w.HandleAck(p)
		if err != nil {
			return err
		}
		if finished {
			close(done)
			return errTransferComplete
		}
		if err := w.refillAndSendWindow(); err != nil {
			return err
		}
	}
}

func (w *Window) retransmitTicker(ctx context.Context, done chan struct{}) error {
	ticker := w.clock.Ticker(transport.RemoteTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-ticker.C:
			if err := w.resendWindowIfStale(); err != nil {
				return err
			}
		}
	}
}

// HandleAck applies a received packet to the window: RST aborts the
// transfer, FIN signals completion (whether or not the final chunk has been
// acked), and a plain ack slides the window forward, dropping fully-acked
// chunks.
func (w *Window) HandleAck(p protocol.Packet) (finished bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p.Flag == protocol.FlagRST {
		return false, ErrResetByPeer
	}
	if p.Flag == protocol.FlagFIN {
		return true, nil
	}

	ack := protocol.LiftSeq(w.acked, p.Ack)
	if ack <= w.acked {
		return false, nil
	}
	w.acked = ack
	i := 0
	for i < len(w.pending) && w.pending[i].start+uint64(len(w.pending[i].data)) <= w.acked {
		i++
	}
	w.pending = w.pending[i:]
	return false, nil
}

// refillAndSendWindow tops the window up to protocol.WindowSize chunks by
// reading more of the file, then sends the entire pending window (old and
// new chunks alike), mirroring refill_window()+send_window() being called
// together on every ack.
func (w *Window) refillAndSendWindow() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.refillLocked(); err != nil {
		return err
	}
	return w.sendWindowLocked()
}

func (w *Window) refillLocked() error {
	for len(w.pending) < protocol.WindowSize && !w.eof {
		buf := make([]byte, protocol.MaxDataLen)
		n, err := w.file.Read(buf)
		if n > 0 {
			seq := uint16(w.totalSent % 65536)
			w.pending = append(w.pending, chunk{seq: seq, start: w.totalSent, data: buf[:n]})
			w.totalSent += uint64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				w.eof = true
				break
			}
			return fmt.Errorf("sender: read file: %w", err)
		}
	}
	return nil
}

// sendWindowLocked retransmits every chunk currently in the window, in
// order, as a single unit, then sends the closing FIN once the file has
// been fully read and every chunk has drained from the window. The
// stuck-transmission guard tracks the single most-recently-sent data seq
// across the whole window, as seen by a single send path that every data
// packet passes through: a window of more than one chunk
// naturally varies seq from packet to packet, so the guard only fires once
// the window has shrunk to the same unacked chunk being resent forever.
func (w *Window) sendWindowLocked() error {
	for i := range w.pending {
		if err := w.sendChunkLocked(i); err != nil {
			return err
		}
	}
	w.lastSent = w.clock.Now()

	if w.eof && len(w.pending) == 0 {
		fin := protocol.Fin(w.connID, uint16(w.acked%65536), protocol.ModeUpload)
		w.port.Send(fin)
	}
	return nil
}

func (w *Window) sendChunkLocked(i int) error {
	c := w.pending[i]
	if len(c.data) > 0 {
		if w.firstSend {
			w.firstSend = false
			w.lastSeq = c.seq
			w.sameSeqCount = 0
		} else if c.seq == w.lastSeq {
			w.sameSeqCount++
			if w.sameSeqCount >= maxSameSeqSends {
				return ErrStuckTransmission
			}
		} else {
			w.lastSeq = c.seq
			w.sameSeqCount = 0
		}
	}
	w.port.Send(protocol.NewData(w.connID, c.seq, c.data))
	return nil
}

// resendWindowIfStale go-back-N resends the entire pending window once a
// full RemoteTimeout has elapsed since it was last transmitted in full.
func (w *Window) resendWindowIfStale() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	if w.clock.Now().Sub(w.lastSent) < transport.RemoteTimeout {
		return nil
	}
	return w.sendWindowLocked()
}
