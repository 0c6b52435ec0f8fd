package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PingInterval = 0 // no keepalive noise in tests
	return cfg
}

func TestConn_Open(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	opened := make(chan struct{})
	c := New(testConfig(), Events{
		OnOpen: func() { close(opened) },
	}, nil)

	if err := c.Open(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("OnOpen never fired")
	}

	if !c.Connected() {
		t.Error("expected Connected to return true")
	}

	if err := c.Close(websocket.CloseNormalClosure, "done"); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if c.Connected() {
		t.Error("expected Connected to return false after Close")
	}
}

func TestConn_OpenDialFailure(t *testing.T) {
	c := New(testConfig(), Events{}, nil)

	err := c.Open(context.Background(), "ws://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected dial error")
	}
	if c.Connected() {
		t.Error("expected Connected to return false after failed dial")
	}
}

func TestConn_Send(t *testing.T) {
	var mu sync.Mutex
	var received []byte

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	c := New(testConfig(), Events{}, nil)
	if err := c.Open(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close(websocket.CloseNormalClosure, "")

	testMsg := []byte(`{"type":"ping"}`)
	if !c.Send(testMsg) {
		t.Error("Send returned false while connected")
	}

	// Wait for message to be received
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(testMsg) {
		t.Errorf("received %q, want %q", received, testMsg)
	}
}

func TestConn_SendNotConnected(t *testing.T) {
	c := New(testConfig(), Events{}, nil)

	if c.Send([]byte("test")) {
		t.Error("Send returned true before Open")
	}
}

func TestConn_MessageOrder(t *testing.T) {
	testMessages := []string{
		`{"type":"test","n":1}`,
		`{"type":"test","n":2}`,
		`{"type":"test","n":3}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Keep connection open
		time.Sleep(time.Second)
	})
	defer server.Close()

	msgCh := make(chan string, len(testMessages))
	c := New(testConfig(), Events{
		OnMessage: func(data []byte) { msgCh <- string(data) },
	}, nil)

	if err := c.Open(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close(websocket.CloseNormalClosure, "")

	timeout := time.After(time.Second)
	var received []string
	for range testMessages {
		select {
		case msg := <-msgCh:
			received = append(received, msg)
		case <-timeout:
			t.Fatalf("timeout, received %d of %d", len(received), len(testMessages))
		}
	}

	for i, want := range testMessages {
		if received[i] != want {
			t.Errorf("message %d: got %q, want %q", i, received[i], want)
		}
	}
}

func TestConn_RemoteClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"),
			time.Now().Add(time.Second),
		)
	})
	defer server.Close()

	type closeEvent struct {
		code   int
		remote bool
	}
	closeCh := make(chan closeEvent, 1)

	c := New(testConfig(), Events{
		OnClose: func(code int, reason string, remote bool) {
			closeCh <- closeEvent{code: code, remote: remote}
		},
	}, nil)

	if err := c.Open(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	select {
	case ev := <-closeCh:
		if !ev.remote {
			t.Error("expected remote=true for server-initiated close")
		}
		if ev.code != websocket.CloseGoingAway {
			t.Errorf("code = %d, want %d", ev.code, websocket.CloseGoingAway)
		}
	case <-time.After(time.Second):
		t.Fatal("OnClose never fired")
	}

	if c.Connected() {
		t.Error("expected Connected to return false after remote close")
	}
}

func TestConn_LocalCloseNotRemote(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	closeCh := make(chan bool, 2)
	c := New(testConfig(), Events{
		OnClose: func(code int, reason string, remote bool) { closeCh <- remote },
	}, nil)

	if err := c.Open(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := c.Close(websocket.CloseNormalClosure, "bye"); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	select {
	case remote := <-closeCh:
		if remote {
			t.Error("expected remote=false for local close")
		}
	case <-time.After(time.Second):
		t.Fatal("OnClose never fired")
	}

	// OnClose must fire exactly once
	select {
	case <-closeCh:
		t.Error("OnClose fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConn_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	c := New(testConfig(), Events{}, nil)
	if err := c.Open(context.Background(), wsURL(server)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := c.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := c.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestConn_OpenAfterClose(t *testing.T) {
	c := New(testConfig(), Events{}, nil)
	c.Close(websocket.CloseNormalClosure, "")

	if err := c.Open(context.Background(), "ws://127.0.0.1:1"); err != ErrAlreadyClosed {
		t.Errorf("expected ErrAlreadyClosed, got %v", err)
	}
}
