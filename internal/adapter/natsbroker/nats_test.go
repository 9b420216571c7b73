package natsbroker

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/planweave/planweave/internal/domain/event"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Sink {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	s, err := Connect(context.Background(), url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestSink_EmitFollow(t *testing.T) {
	s := testConnect(t)
	planID := "test-" + t.Name()

	var (
		mu   sync.Mutex
		got  *event.Event
		done = make(chan struct{})
		once sync.Once
	)

	stop, err := s.Follow(context.Background(), planID, func(ev event.Event) {
		mu.Lock()
		got = &ev
		mu.Unlock()
		once.Do(func() { close(done) })
	})
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	defer stop()

	want := event.New(planID, event.KindStepEnd, map[string]any{"step_id": "s1"})
	if err := s.Emit(context.Background(), want); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	mu.Lock()
	defer mu.Unlock()

	if got == nil {
		t.Fatal("handler was not called")
	}
	if got.ID != want.ID || got.Event != want.Event {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSink_IsConnected(t *testing.T) {
	s := testConnect(t)

	if !s.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("p1"); got != "plans.events.p1" {
		t.Errorf("Subject(p1) = %q", got)
	}
	if got := Subject(""); got != "plans.events.unrouted" {
		t.Errorf("Subject(\"\") = %q", got)
	}
}
