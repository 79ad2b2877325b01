package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestConnNilSafety(t *testing.T) {
	t.Parallel()

	for name, conn := range map[string]*Conn{"nil Conn": nil, "nil underlying": {c: nil}} {
		conn := conn
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := conn.ReadMessage(); err == nil {
				t.Error("ReadMessage should return error")
			}
			if err := conn.WritePing(time.Second); err == nil {
				t.Error("WritePing should return error")
			}
			if err := conn.SetReadDeadline(time.Now()); err == nil {
				t.Error("SetReadDeadline should return error")
			}
			if err := conn.CloseGracefully(time.Second); err != nil {
				t.Errorf("CloseGracefully should return nil, got %v", err)
			}
			if err := conn.Close(); err != nil {
				t.Errorf("Close should return nil, got %v", err)
			}
			conn.SetPongHandler(func(string) error { return nil })
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"http://host/ws/tenants/a/metrics":  "ws://host/ws/tenants/a/metrics",
		"https://host/ws/tenants/a/metrics": "wss://host/ws/tenants/a/metrics",
		"ws://host:8000/x":                  "ws://host:8000/x",
		"wss://host/x":                      "wss://host/x",
	}
	for in, want := range tests {
		got, err := NormalizeURL(in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q) error = %v", in, err)
		}
		if got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := NormalizeURL("ftp://host/x"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestDialReadAndCloseGracefully(t *testing.T) {
	t.Parallel()

	closed := make(chan int, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		_, _, err = c.ReadMessage()
		if ce, ok := err.(*websocket.CloseError); ok {
			closed <- ce.Code
		} else {
			closed <- -1
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, server.URL, DialOptions{HandshakeTimeout: time.Second})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(msg) != `{"type":"pong"}` {
		t.Errorf("unexpected frame %s", msg)
	}

	if err := conn.CloseGracefully(time.Second); err != nil {
		t.Fatalf("CloseGracefully() error = %v", err)
	}
	select {
	case code := <-closed:
		if code != websocket.CloseNormalClosure {
			t.Errorf("server saw close code %d, want %d", code, websocket.CloseNormalClosure)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never observed the close")
	}
}

func TestDialReportsHandshakeStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tenant not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := Dial(context.Background(), server.URL, DialOptions{HandshakeTimeout: time.Second})
	if err == nil {
		t.Fatal("expected handshake error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "tenant not found") {
		t.Errorf("error should carry status and body, got %v", err)
	}
}
