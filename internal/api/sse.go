package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// keepaliveInterval is how often an SSE comment is written to hold idle
// connections open through proxies.
const keepaliveInterval = 15 * time.Second

// streamBuffer is the per-subscriber event buffer. A subscriber that
// falls this far behind starts losing events.
const streamBuffer = 16

// StreamHub fans lifecycle events out to server-sent-event subscribers.
// Delivery is best-effort; slow subscribers drop events rather than
// blocking the runner.
type StreamHub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewStreamHub creates an empty hub.
func NewStreamHub() *StreamHub {
	return &StreamHub{subs: make(map[chan []byte]struct{})}
}

// Broadcast pushes an event to all subscribers. Satisfies
// events.BroadcastFunc.
func (hub *StreamHub) Broadcast(name string, data map[string]any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to encode stream event", "event", name, "error", err)
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", name, payload))

	hub.mu.Lock()
	defer hub.mu.Unlock()
	for ch := range hub.subs {
		select {
		case ch <- frame:
		default:
			// Subscriber is not keeping up.
		}
	}
}

// Subscribers returns the current subscriber count.
func (hub *StreamHub) Subscribers() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.subs)
}

func (hub *StreamHub) subscribe() chan []byte {
	ch := make(chan []byte, streamBuffer)
	hub.mu.Lock()
	hub.subs[ch] = struct{}{}
	hub.mu.Unlock()
	return ch
}

func (hub *StreamHub) unsubscribe(ch chan []byte) {
	hub.mu.Lock()
	delete(hub.subs, ch)
	hub.mu.Unlock()
}

// ServeHTTP streams events to one subscriber until the client goes away.
func (hub *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-ch:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
