package wsfanout

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vc-agent/core/internal/eventbus"
)

var upgrader = websocket.Upgrader{}

func newTestServer(t *testing.T, f *Fanout) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.Add(r.URL.Query().Get("client"), conn)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func TestFanoutForwardsBusEventsToClient(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	f := New(bus)
	defer f.Close()

	srv, wsURL := newTestServer(t, f)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?client=c1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // let the server-side Add() register

	bus.Emit(eventbus.KindAgentStart, map[string]any{"task": "hi"}, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev eventbus.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kind != eventbus.KindAgentStart {
		t.Fatalf("expected AgentStart, got %s", ev.Kind)
	}
}

func TestFanoutRemoveDisconnectsClient(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	f := New(bus)
	defer f.Close()

	srv, wsURL := newTestServer(t, f)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?client=c2", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	f.Remove("c2")
	time.Sleep(50 * time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected read to fail after server-side removal")
	}
}
