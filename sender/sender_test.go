package sender

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ondrakrat/robot-client/protocol"
	"github.com/ondrakrat/robot-client/transport"
)

// queuePort is a transport.Port double whose RecvWithDeadline drains a
// caller-fed channel instead of a real socket.
type queuePort struct {
	mu   sync.Mutex
	sent []protocol.Packet
	in   chan protocol.Packet
}

var _ transport.Port = (*queuePort)(nil)

func newQueuePort() *queuePort { return &queuePort{in: make(chan protocol.Packet, 16)} }

func (q *queuePort) Send(p protocol.Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, p)
	return true
}

func (q *queuePort) RecvWithDeadline(timeout time.Duration) (protocol.Packet, error) {
	select {
	case p := <-q.in:
		return p, nil
	case <-time.After(timeout):
		return protocol.Packet{}, transport.ErrTimeout
	}
}

func (q *queuePort) Close() error { return nil }

func (q *queuePort) sentData() []protocol.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]protocol.Packet, 0, len(q.sent))
	for _, p := range q.sent {
		if p.Flag == protocol.FlagEmpty && len(p.Data) > 0 {
			out = append(out, p)
		}
	}
	return out
}

func TestUploadSendsAllChunksAndFinishesOnFin(t *testing.T) {
	const connID = 12
	body := strings.Repeat("x", protocol.MaxDataLen+10) // two chunks
	port := newQueuePort()
	clk := clock.NewMock()

	w := New(port, connID, strings.NewReader(body), clk, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- w.RunUpload(context.Background()) }()

	// Wait for both chunks to go out, then ack them cumulatively.
	require.Eventually(t, func() bool { return len(port.sentData()) == 2 }, time.Second, time.Millisecond)
	port.in <- protocol.NewAck(connID, uint16(len(body)%65536))

	// Sender should now emit its own FIN; echo it back to finish.
	require.Eventually(t, func() bool {
		for _, p := range port.sent {
			if p.Flag == protocol.FlagFIN {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	port.in <- protocol.Fin(connID, 0, protocol.ModeUpload)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not finish")
	}
}

func TestHandleAckSlidesWindow(t *testing.T) {
	port := newQueuePort()
	clk := clock.NewMock()
	w := New(port, 1, strings.NewReader(""), clk, zap.NewNop())
	w.pending = []chunk{
		{seq: 0, start: 0, data: make([]byte, 100)},
		{seq: 100, start: 100, data: make([]byte, 50)},
	}

	finished, err := w.HandleAck(protocol.NewAck(1, 100))
	require.NoError(t, err)
	require.False(t, finished)
	require.Len(t, w.pending, 1)
	require.EqualValues(t, 100, w.pending[0].start)
}

func TestHandleAckRST(t *testing.T) {
	port := newQueuePort()
	clk := clock.NewMock()
	w := New(port, 1, strings.NewReader(""), clk, zap.NewNop())

	_, err := w.HandleAck(protocol.Rst(1))
	require.ErrorIs(t, err, ErrResetByPeer)
}

func TestResendWindowRetransmitsWholeRemainingWindowAfterPartialAck(t *testing.T) {
	port := newQueuePort()
	clk := clock.NewMock()
	// Three chunks in flight; an ack only covers the first one, so the
	// go-back-N resend on timeout must re-send chunks 2 and 3 together.
	w := New(port, 1, strings.NewReader(""), clk, zap.NewNop())
	w.pending = []chunk{
		{seq: 0, start: 0, data: []byte("AAAAA")},
		{seq: 5, start: 5, data: []byte("BBBBB")},
		{seq: 10, start: 10, data: []byte("CCCCC")},
	}
	require.NoError(t, w.sendWindowLocked())
	require.Len(t, port.sentData(), 3)

	finished, err := w.HandleAck(protocol.NewAck(1, 5))
	require.NoError(t, err)
	require.False(t, finished)
	require.Len(t, w.pending, 2)

	clk.Add(transport.RemoteTimeout)
	require.NoError(t, w.resendWindowIfStale())

	sent := port.sentData()
	require.Len(t, sent, 5) // 3 initial + 2 resent
	require.EqualValues(t, 5, sent[3].Seq)
	require.EqualValues(t, 10, sent[4].Seq)
}

func TestResendWindowSkipsWhenNotStale(t *testing.T) {
	port := newQueuePort()
	clk := clock.NewMock()
	w := New(port, 1, strings.NewReader(""), clk, zap.NewNop())
	w.pending = []chunk{{seq: 0, start: 0, data: []byte("AAAAA")}}
	require.NoError(t, w.sendWindowLocked())
	require.Len(t, port.sentData(), 1)

	require.NoError(t, w.resendWindowIfStale())
	require.Len(t, port.sentData(), 1)
}

func TestStuckTransmissionGuard(t *testing.T) {
	port := newQueuePort()
	clk := clock.NewMock()
	w := New(port, 1, strings.NewReader(""), clk, zap.NewNop())
	w.pending = []chunk{{seq: 7, start: 0, data: []byte("x")}}

	var err error
	for i := 0; i < maxSameSeqSends+2; i++ {
		err = w.sendChunkLocked(0)
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrStuckTransmission)
}
