// Package transport provides line transports to the stream endpoint.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"esa_go/internal/domain"
	"esa_go/internal/protocol"
)

const (
	maxLineSize  = 16 * 1024 * 1024
	readBufSize  = 64 * 1024
	writeTimeout = 10 * time.Second
)

// LineConn frames CRLF-terminated JSON lines over a net.Conn.
type LineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writeMu sync.Mutex

	// ReadTimeout, if set, bounds the wait for each line.
	ReadTimeout time.Duration
}

// NewLineConn wraps an established connection.
func NewLineConn(conn net.Conn) *LineConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, readBufSize), maxLineSize)
	return &LineConn{conn: conn, scanner: scanner}
}

// ReadLine blocks until the next line arrives.
func (c *LineConn) ReadLine() (string, error) {
	if c.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(c.scanner.Text(), "\r"), nil
}

// SendLine writes one line terminated by CRLF.
func (c *LineConn) SendLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

func (c *LineConn) Close() error {
	return c.conn.Close()
}

// TLSDialer dials the production stream endpoint.
type TLSDialer struct {
	Addr        string
	Timeout     time.Duration
	ReadTimeout time.Duration
	TLSConfig   *tls.Config
}

func (d *TLSDialer) Dial(ctx context.Context) (protocol.Transport, error) {
	cfg := d.TLSConfig
	if cfg == nil {
		host, _, err := net.SplitHostPort(d.Addr)
		if err != nil {
			return nil, domain.NewFatalNetworkError("dial", err)
		}
		cfg = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second},
		Config:    cfg,
	}
	conn, err := dialer.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, domain.NewNetworkError("dial", err)
	}

	lc := NewLineConn(conn)
	lc.ReadTimeout = d.ReadTimeout
	return lc, nil
}
