package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mcfalli/TickSTockAppV2-sub020/internal/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
)

// wsTransport adapts a gorilla WebSocket connection to domain.Transport.
// A single writer goroutine owns the connection for writes; Send enqueues
// into its buffered channel and is bounded by the caller's context, so a
// stalled socket surfaces as context.DeadlineExceeded instead of blocking
// the dispatch worker.
type wsTransport struct {
	conn       *websocket.Conn
	clock      clockwork.Clock
	sendCh     chan []byte
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	onActivity func()
}

func newWSTransport(conn *websocket.Conn, clock clockwork.Clock, onActivity func()) *wsTransport {
	t := &wsTransport{
		conn:       conn,
		clock:      clock,
		sendCh:     make(chan []byte, messageBufferSize),
		done:       make(chan struct{}),
		onActivity: onActivity,
	}
	t.configurePongHandler()
	t.wg.Add(1)
	go t.run()
	return t
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	select {
	case t.sendCh <- data:
		return nil
	case <-t.done:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *wsTransport) run() {
	ticker := t.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer t.wg.Done()

	for {
		select {
		case msg := <-t.sendCh:
			t.updateWriteDeadline()
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = t.conn.Close()
				return
			}
		case <-ticker.Chan():
			t.updateWriteDeadline()
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Ping failed - client likely disconnected
				metrics.WebSocketPingFailures.Inc()
				_ = t.conn.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}

// Close sends a close frame and tears the connection down. Safe to call more
// than once.
func (t *wsTransport) Close() error {
	t.stopOnce.Do(func() {
		close(t.done)

		// Wait for the writer goroutine so the close frame is not written
		// concurrently with a payload.
		t.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
		t.updateWriteDeadline()
		_ = t.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = t.conn.Close()
	})
	return nil
}

func (t *wsTransport) configurePongHandler() {
	t.updateReadDeadline()
	t.conn.SetPongHandler(func(string) error {
		t.updateReadDeadline()
		if t.onActivity != nil {
			t.onActivity()
		}
		return nil
	})
}

func (t *wsTransport) updateWriteDeadline() {
	_ = t.conn.SetWriteDeadline(t.clock.Now().Add(writeDeadline))
}

func (t *wsTransport) updateReadDeadline() {
	_ = t.conn.SetReadDeadline(t.clock.Now().Add(pongDeadline))
}
