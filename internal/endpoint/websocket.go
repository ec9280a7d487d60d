package endpoint

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketPath is where the harnesses expose the RUDP relay.
const WebSocketPath = "/rudp"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn carries one datagram per binary WebSocket message.
//
// gorilla/websocket leaves a connection unusable after a read deadline
// fires, so messages are pumped by a background reader and read deadlines
// are enforced locally.
type wsConn struct {
	ws *websocket.Conn

	wmu sync.Mutex // gorilla allows one concurrent writer

	in     chan []byte
	errMu  sync.Mutex
	rerr   error
	failed chan struct{}

	readDeadline *deadline

	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocket adapts an established WebSocket into a PacketConn and starts
// its reader. Closing the PacketConn closes ws.
func NewWebSocket(ws *websocket.Conn) net.PacketConn {
	c := &wsConn{
		ws:           ws,
		in:           make(chan []byte, pipeQueueLen),
		failed:       make(chan struct{}),
		readDeadline: newDeadline(),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// DialWebSocket connects to a WebSocket relay at url.
func DialWebSocket(ctx context.Context, url string) (net.PacketConn, error) {
	dialer := websocket.DefaultDialer
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS endpoint: %w", err)
	}
	return NewWebSocket(ws), nil
}

// WebSocketHandler upgrades each request and hands the resulting
// PacketConn to serve. The connection is closed when serve returns.
func WebSocketHandler(serve func(pc net.PacketConn)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		pc := NewWebSocket(ws)
		defer pc.Close()
		serve(pc)
	})
}

func (c *wsConn) readLoop() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.rerr = err
			c.errMu.Unlock()
			close(c.failed)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		select {
		case c.in <- data:
		case <-c.done:
			return
		default:
			// queue full: dropped like an overrun socket buffer
		}
	}
}

func (c *wsConn) ReadFrom(b []byte) (int, net.Addr, error) {
	if isClosedChan(c.done) {
		return 0, nil, c.opError("read", net.ErrClosed)
	}

	select {
	case data := <-c.in:
		return copy(b, data), c.ws.RemoteAddr(), nil
	case <-c.readDeadline.wait():
		return 0, nil, c.opError("read", os.ErrDeadlineExceeded)
	case <-c.done:
		return 0, nil, c.opError("read", net.ErrClosed)
	case <-c.failed:
		// drain what arrived before the failure
		select {
		case data := <-c.in:
			return copy(b, data), c.ws.RemoteAddr(), nil
		default:
		}
		c.errMu.Lock()
		err := c.rerr
		c.errMu.Unlock()
		return 0, nil, c.opError("read", err)
	}
}

func (c *wsConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, c.opError("write", err)
	}
	return len(b), nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) LocalAddr() net.Addr { return c.ws.LocalAddr() }

// RemoteAddr returns the address every received frame is attributed to.
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	c.readDeadline.set(t)
	return nil
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) opError(op string, err error) error {
	return &net.OpError{Op: op, Net: "ws", Source: c.ws.LocalAddr(), Addr: c.ws.RemoteAddr(), Err: err}
}
