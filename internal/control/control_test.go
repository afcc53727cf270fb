package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vc-agent/core/internal/eventbus"
)

func TestEmergencyStopCommandEmitsEvent(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "agentcore.sock")

	bus := eventbus.New(eventbus.DefaultConfig())
	srv, err := NewServer(sock, bus)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop()

	received := make(chan eventbus.Event, 1)
	bus.On(eventbus.KindAgentEmergencyStop, func(ev eventbus.Event) { received <- ev })

	waitForSocket(t, sock)

	client := NewClient(sock)
	resp, err := client.EmergencyStop("agent-1", "user requested")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}

	select {
	case ev := <-received:
		payload := ev.Payload.(map[string]any)
		if payload["agentId"] != "agent-1" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AgentEmergencyStopEvent")
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}
