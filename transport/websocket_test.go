package transport

import (
	"testing"
	"time"
)

// TestStatusEmitNeverDropped fills the status buffer and checks that a
// further transition waits for the consumer instead of being dropped; a
// lost StatusConnected would strand the consumer in a disconnected state.
func TestStatusEmitNeverDropped(t *testing.T) {
	tr := NewWebsocket("ws://127.0.0.1:0/", WebsocketOptions{})

	for i := 0; i < cap(tr.status); i++ {
		tr.emit(StatusReconnecting)
	}

	delivered := make(chan struct{})
	go func() {
		tr.emit(StatusConnected)
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("emit returned with the buffer full; the transition was dropped")
	case <-time.After(20 * time.Millisecond):
	}

	for i := 0; i < cap(tr.status); i++ {
		if got := <-tr.Status(); got != StatusReconnecting {
			t.Fatalf("buffered transition %d is %q", i, got)
		}
	}
	if got := <-tr.Status(); got != StatusConnected {
		t.Fatalf("got %q, expected %q", got, StatusConnected)
	}
	<-delivered
}

func TestStatusEmitUnblocksOnClose(t *testing.T) {
	tr := NewWebsocket("ws://127.0.0.1:0/", WebsocketOptions{})

	for i := 0; i < cap(tr.status); i++ {
		tr.emit(StatusReconnecting)
	}

	done := make(chan struct{})
	go func() {
		tr.emit(StatusConnected)
		close(done)
	}()

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit still blocked after Close")
	}
}
