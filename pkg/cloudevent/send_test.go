package cloudevent

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSend_Headers(t *testing.T) {
	t.Parallel()

	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := New("runner.job.completed", "jobrunner", "job-1", "evt-1", map[string]any{"result": "applied"})
	sender := NewSender(5 * time.Second)

	if err := sender.Send(context.Background(), srv.URL, event, SendOptions{}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got := gotHeaders.Get("Ce-Type"); got != "runner.job.completed" {
		t.Errorf("Ce-Type = %q", got)
	}
	if got := gotHeaders.Get("Ce-Subject"); got != "job-1" {
		t.Errorf("Ce-Subject = %q", got)
	}
	if got := gotHeaders.Get("Content-Type"); got != "application/cloudevents+json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestSend_SigningKey(t *testing.T) {
	t.Parallel()

	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := New("runner.jobs.stopped", "jobrunner", "runner-1", "evt-2", nil)
	sender := NewSender(5 * time.Second)

	if err := sender.Send(context.Background(), srv.URL, event, SendOptions{SigningKey: "secret"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestSend_PrecomputedSignatureWins(t *testing.T) {
	t.Parallel()

	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := New("runner.jobs.drained", "jobrunner", "runner-1", "evt-3", nil)
	sender := NewSender(5 * time.Second)

	opts := SendOptions{SigningKey: "ignored", Signature: "sha256=precomputed"}
	if err := sender.Send(context.Background(), srv.URL, event, opts); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotSig != "sha256=precomputed" {
		t.Errorf("signature = %q, want precomputed", gotSig)
	}
}

func TestSend_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	event := New("runner.job.started", "jobrunner", "job-1", "evt-4", nil)
	sender := NewSender(5 * time.Second)

	err := sender.Send(context.Background(), srv.URL, event, SendOptions{})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d", httpErr.StatusCode)
	}
	if !IsClientError(err) {
		t.Error("expected 400 to classify as client error")
	}
}

func TestIsClientError(t *testing.T) {
	t.Parallel()

	if IsClientError(&HTTPError{StatusCode: 500}) {
		t.Error("500 should not be a client error")
	}
	if IsClientError(errors.New("plain")) {
		t.Error("plain errors are not client errors")
	}
	if !IsClientError(&HTTPError{StatusCode: 404}) {
		t.Error("404 should be a client error")
	}
}
