package realtime

import (
	"errors"
	"sync"
	"time"

	"courier/pkg/logger"
	"courier/pkg/models"

	"github.com/fasthttp/websocket"
)

var (
	// ErrClosed is returned when delivering to a connection that has shut down.
	ErrClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when the send buffer is full. The
	// connection is closed.
	ErrSlowConsumer = errors.New("send buffer full")
)

// Conn is one websocket client. Outbound frames are queued on a buffered
// channel and written by a single writer goroutine.
type Conn struct {
	handle    string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(handle string, buffer int) *Conn {
	if buffer < 1 {
		buffer = 1
	}
	return &Conn{
		handle: handle,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Handle is the connection id used by the presence directory.
func (c *Conn) Handle() string { return c.handle }

// Deliver queues a server-initiated event.
func (c *Conn) Deliver(ev models.Outbound) error {
	return c.deliver("", ev)
}

func (c *Conn) deliver(ref string, ev models.Outbound) error {
	b, err := models.EncodeOutbound(ref, ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		logger.Warn("ws_slow_consumer", "handle", c.handle, "event", ev.Name())
		c.close()
		return ErrSlowConsumer
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Closed reports whether the connection has been shut down.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writeLoop drains the send buffer and pings the peer until the
// connection is closed.
func (c *Conn) writeLoop(ws *websocket.Conn, writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case b := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				logger.Debug("ws_write_failed", "handle", c.handle, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				logger.Debug("ws_ping_failed", "handle", c.handle, "error", err)
				c.close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
			return
		}
	}
}
