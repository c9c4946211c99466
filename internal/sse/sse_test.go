package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReaderFrames(t *testing.T) {
	stream := ": keep-alive comment\n" +
		"event: connected\ndata: {\"status\":\"ok\"}\n\n" +
		"event: heartbeat\n\n" +
		"data: {\"type\":\"NOTIFICATION\"}\r\n\r\n" +
		"event: notification\nid: 7\ndata: line1\ndata: line2\n\n" +
		"\n\n"

	r := NewReader(strings.NewReader(stream))

	want := []Event{
		{Name: "connected", Data: []byte(`{"status":"ok"}`)},
		{Name: "heartbeat"},
		{Name: DefaultEvent, Data: []byte(`{"type":"NOTIFICATION"}`)},
		{Name: "notification", ID: "7", Data: []byte("line1\nline2")},
	}
	for i, w := range want {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got.Name != w.Name || got.ID != w.ID || string(got.Data) != string(w.Data) {
			t.Fatalf("frame %d = %+v (%q), want %+v (%q)", i, got, got.Data, w, w.Data)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderIncompleteFrameIsNotDispatched(t *testing.T) {
	r := NewReader(strings.NewReader("event: notification\ndata: {}"))
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF for unterminated frame, got %v", err)
	}
}

func TestReaderDropsOversizedFrame(t *testing.T) {
	huge := strings.Repeat("x", maxLineSize+10)
	stream := "event: notification\ndata: " + huge + "\n\n" +
		"event: notification\ndata: {\"id\":\"n2\"}\n\n"

	r := NewReader(strings.NewReader(stream))
	got, err := r.Next()
	if err != nil {
		t.Fatalf("oversized frame should not fail the stream: %v", err)
	}
	if got.Name != "notification" || string(got.Data) != `{"id":"n2"}` {
		t.Fatalf("unexpected frame %+v (%q)", got, got.Data)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestHTTPDialer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "a b" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing Accept header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	}))
	defer srv.Close()

	d := NewHTTPDialer(nil)

	s, err := d.Dial(context.Background(), srv.URL+"?token=a%20b")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ev, err := s.Next()
	if err != nil || ev.Name != "connected" {
		t.Fatalf("unexpected first event %+v, err %v", ev, err)
	}
	_ = s.Close()

	_, err = d.Dial(context.Background(), srv.URL+"?token=wrong")
	var se *StatusError
	if !errors.As(err, &se) || !se.Unauthorized() {
		t.Fatalf("expected unauthorized StatusError, got %v", err)
	}
}
