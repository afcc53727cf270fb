// Package wsfanout fans every Event Bus event out to WebSocket
// subscribers registered via the bus's "any" subscription, with
// backpressure handling: a slow or closed client is dropped rather
// than allowed to block Emit (spec §5, "Backpressure").
package wsfanout

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vc-agent/core/internal/eventbus"
)

const defaultSendBuffer = 64

// Fanout owns a bounded per-client send queue and forwards every bus
// event to it; Add/Remove are safe to call concurrently with delivery.
type Fanout struct {
	bus *eventbus.Bus

	mu      sync.Mutex
	clients map[string]*client
	subID   uint64
}

type client struct {
	conn   *websocket.Conn
	sendCh chan []byte
	doneCh chan struct{}
}

// New wires a Fanout to bus; it immediately starts listening for every
// event kind via the bus's wildcard subscription.
func New(bus *eventbus.Bus) *Fanout {
	f := &Fanout{bus: bus, clients: make(map[string]*client)}
	f.subID = bus.On(eventbus.KindAny, f.onEvent)
	return f
}

// Close deregisters from the bus and disconnects every client.
func (f *Fanout) Close() {
	f.bus.Off(f.subID)
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.clients {
		close(c.doneCh)
		delete(f.clients, id)
	}
}

// Add registers conn under clientID and starts its write pump. A
// client already registered under clientID is replaced.
func (f *Fanout) Add(clientID string, conn *websocket.Conn) {
	c := &client{
		conn:   conn,
		sendCh: make(chan []byte, defaultSendBuffer),
		doneCh: make(chan struct{}),
	}

	f.mu.Lock()
	if old, ok := f.clients[clientID]; ok {
		close(old.doneCh)
	}
	f.clients[clientID] = c
	f.mu.Unlock()

	go f.writePump(clientID, c)
}

// Remove disconnects and deregisters clientID, if present.
func (f *Fanout) Remove(clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[clientID]; ok {
		close(c.doneCh)
		delete(f.clients, clientID)
	}
}

func (f *Fanout) onEvent(ev eventbus.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsfanout: marshal event %s: %v\n", ev.ID, err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.clients {
		select {
		case c.sendCh <- payload:
		default:
			// Full buffer means a slow consumer; drop the client
			// rather than block the listener (and therefore Emit).
			close(c.doneCh)
			delete(f.clients, id)
		}
	}
}

func (f *Fanout) writePump(clientID string, c *client) {
	defer func() {
		// Only deregister if clientID still maps to this client; a
		// replacement registered by Add must stay in place.
		f.mu.Lock()
		if cur, ok := f.clients[clientID]; ok && cur == c {
			close(c.doneCh)
			delete(f.clients, clientID)
		}
		f.mu.Unlock()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.doneCh:
			return
		case msg := <-c.sendCh:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
