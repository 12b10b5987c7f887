package handler

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

var (
	errTransportClosed = errors.New("transport closed")
	errSendBufferFull  = errors.New("send buffer full")
)

// wsTransport serializes writes to one peer through a buffered channel and a
// single writer goroutine. Send never blocks: a peer that cannot drain its
// buffer is dropped instead of stalling the broker.
type wsTransport struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go t.writePump()
	return t
}

func (t *wsTransport) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return errTransportClosed
	case t.send <- data:
		return nil
	default:
		_ = t.Close()
		return errSendBufferFull
	}
}

func (t *wsTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
	return nil
}

func (t *wsTransport) writePump() {
	for {
		select {
		case <-t.done:
			return
		case data := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = t.Close()
				return
			}
		}
	}
}
