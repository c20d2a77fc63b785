package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"esa_go/internal/domain"
	"esa_go/internal/protocol"

	"github.com/gorilla/websocket"
)

// WSConn carries one JSON line per websocket text message.
type WSConn struct {
	conn        *websocket.Conn
	writeMu     sync.Mutex
	readTimeout time.Duration
}

func (c *WSConn) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if msgType == websocket.TextMessage {
			return string(msg), nil
		}
	}
}

func (c *WSConn) SendLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *WSConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// WSDialer dials a websocket relay of the stream.
type WSDialer struct {
	URL         string
	Header      http.Header
	Timeout     time.Duration
	ReadTimeout time.Duration
}

func (d *WSDialer) Dial(ctx context.Context) (protocol.Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.Timeout}
	conn, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, domain.NewNetworkError("dial", err)
	}
	return &WSConn{conn: conn, readTimeout: d.ReadTimeout}, nil
}
