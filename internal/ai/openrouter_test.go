package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newStreamServer(deltas []string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamChatLeavesSharedClientUntouched(t *testing.T) {
	srv := newStreamServer([]string{"hel", "lo"})
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "test-key", "test-model", "", "", 5*time.Second)

	chunks, errs := p.StreamChat(context.Background(),
		[]Message{{Role: "user", Content: "hi"}}, Options{})

	var got string
	for c := range chunks {
		got += c
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got != "hello" {
		t.Fatalf("streamed content %q", got)
	}
	if p.Client.Timeout != 5*time.Second {
		t.Fatalf("shared client timeout mutated to %v", p.Client.Timeout)
	}
}

func TestStreamChatStopsWhenConsumerCancels(t *testing.T) {
	deltas := make([]string, 100)
	for i := range deltas {
		deltas[i] = "x"
	}
	srv := newStreamServer(deltas)
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "test-key", "test-model", "", "", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chunks, errs := p.StreamChat(ctx, []Message{{Role: "user", Content: "hi"}}, Options{})

	// Read one chunk, then walk away without draining.
	if _, ok := <-chunks; !ok {
		t.Fatalf("stream closed before first chunk")
	}
	cancel()

	select {
	case err, ok := <-errs:
		if ok && err == nil {
			t.Fatalf("expected a cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("producer kept running after cancel")
	}
}
