package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a thin wrapper around *websocket.Conn.
type Conn struct {
	c *websocket.Conn
	// writeMu serializes all writes; gorilla panics on concurrent writers.
	writeMu sync.Mutex
}

// DialOptions configures Dial.
type DialOptions struct {
	Header           http.Header
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
}

// NormalizeURL converts http(s) URLs to ws(s) and rejects other schemes.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid websocket URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("URL scheme must be ws, wss, http or https, got %q", u.Scheme)
	}
	return u.String(), nil
}

// Dial connects to urlStr. Handshake failures include the server's status
// and response body.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Conn, error) {
	target, err := NormalizeURL(urlStr)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
		TLSClientConfig:  opts.TLSConfig,
	}
	c, resp, err := dialer.DialContext(ctx, target, opts.Header)
	if err != nil {
		if resp != nil {
			var body []byte
			if resp.Body != nil {
				body, _ = io.ReadAll(io.LimitReader(resp.Body, 1024))
				resp.Body.Close()
			}
			return nil, fmt.Errorf("websocket handshake failed (status %d): %s: %w",
				resp.StatusCode, strings.TrimSpace(string(body)), err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &Conn{c: c}, nil
}

var errClosed = errors.New("websocket: connection is closed")

// ReadMessage reads the next data message.
func (cw *Conn) ReadMessage() ([]byte, error) {
	if cw == nil || cw.c == nil {
		return nil, errClosed
	}
	_, msg, err := cw.c.ReadMessage()
	return msg, err
}

// WritePing sends a ping control message.
func (cw *Conn) WritePing(timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return errClosed
	}
	cw.writeMu.Lock()
	defer cw.writeMu.Unlock()

	if timeout > 0 {
		cw.c.SetWriteDeadline(time.Now().Add(timeout))
	}
	return cw.c.WriteMessage(websocket.PingMessage, nil)
}

// CloseGracefully sends a normal-closure frame and closes the connection.
func (cw *Conn) CloseGracefully(timeout time.Duration) error {
	if cw == nil || cw.c == nil {
		return nil
	}
	cw.writeMu.Lock()
	deadline := time.Now().Add(timeout)
	_ = cw.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	cw.writeMu.Unlock()
	return cw.c.Close()
}

// Close closes the underlying connection without a close frame.
func (cw *Conn) Close() error {
	if cw == nil || cw.c == nil {
		return nil
	}
	return cw.c.Close()
}

// SetReadDeadline sets read deadline on underlying conn.
func (cw *Conn) SetReadDeadline(t time.Time) error {
	if cw == nil || cw.c == nil {
		return errClosed
	}
	return cw.c.SetReadDeadline(t)
}

// SetPongHandler sets the pong handler.
func (cw *Conn) SetPongHandler(h func(string) error) {
	if cw == nil || cw.c == nil {
		return
	}
	cw.c.SetPongHandler(h)
}

// IsCleanClose reports whether err is a close frame the peer sent on purpose.
func IsCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
