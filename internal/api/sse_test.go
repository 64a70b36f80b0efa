package api

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jobrunner/internal/testutil"
)

func TestStreamHub_Broadcast(t *testing.T) {
	hub := NewStreamHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	testutil.MustWaitFor(t, func() bool {
		return hub.Subscribers() == 1
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(10*time.Millisecond))

	hub.Broadcast("job_started", map[string]any{"jobKey": "job-1"})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read stream: %v", err)
		}
		if line = strings.TrimRight(line, "\n"); line != "" {
			lines = append(lines, line)
		}
	}

	if lines[0] != "event: job_started" {
		t.Errorf("unexpected event line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "data: ") || !strings.Contains(lines[1], `"jobKey":"job-1"`) {
		t.Errorf("unexpected data line %q", lines[1])
	}
}

func TestStreamHub_UnsubscribeOnDisconnect(t *testing.T) {
	hub := NewStreamHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	testutil.MustWaitFor(t, func() bool {
		return hub.Subscribers() == 1
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(10*time.Millisecond))

	resp.Body.Close()

	testutil.MustWaitFor(t, func() bool {
		return hub.Subscribers() == 0
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(10*time.Millisecond))
}

func TestStreamHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewStreamHub()
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	// Overflow the buffer; Broadcast must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < streamBuffer*2; i++ {
			hub.Broadcast("job_completed", map[string]any{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
}
