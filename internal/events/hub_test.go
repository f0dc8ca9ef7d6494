package events

import (
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(8)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(TypeLedgerAppend, map[string]string{"entry_id": "e-1"})

	select {
	case ev := <-ch:
		if ev.Type != TypeLedgerAppend {
			t.Errorf("type = %q, want %q", ev.Type, TypeLedgerAppend)
		}
		if ev.ID != 1 {
			t.Errorf("id = %d, want 1", ev.ID)
		}
		if string(ev.Data) != `{"entry_id":"e-1"}` {
			t.Errorf("data = %s", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	hub := NewHub(8)
	ch, cancel := hub.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}

	// Publishing after cancel should not panic.
	hub.Publish(TypeKillSwitch, nil)

	// Cancelling twice is safe.
	cancel()
}

func TestReplayReturnsEventsAfterID(t *testing.T) {
	t.Parallel()

	hub := NewHub(8)
	for i := 0; i < 5; i++ {
		hub.Publish(TypeDispatch, map[string]int{"attempt": i})
	}

	got := hub.Replay(2)
	if len(got) != 3 {
		t.Fatalf("replay(2) returned %d events, want 3", len(got))
	}
	for i, ev := range got {
		if want := int64(3 + i); ev.ID != want {
			t.Errorf("event %d id = %d, want %d", i, ev.ID, want)
		}
	}
}

func TestRingEvictsOldest(t *testing.T) {
	t.Parallel()

	hub := NewHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(TypeApproval, nil)
	}

	got := hub.Replay(0)
	if len(got) != 3 {
		t.Fatalf("replay returned %d events, want 3", len(got))
	}
	if got[0].ID != 3 || got[2].ID != 5 {
		t.Errorf("replay ids = [%d..%d], want [3..5]", got[0].ID, got[2].ID)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	hub := NewHub(4)
	_, cancel := hub.Subscribe()
	defer cancel()

	// Overflow the subscriber channel; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			hub.Publish(TypeLedgerAppend, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestNilPayloadMarshalsEmptyObject(t *testing.T) {
	t.Parallel()

	hub := NewHub(2)
	hub.Publish(TypeKillSwitch, nil)

	got := hub.Replay(0)
	if len(got) != 1 {
		t.Fatalf("replay returned %d events", len(got))
	}
	if string(got[0].Data) != "{}" {
		t.Errorf("data = %s, want {}", got[0].Data)
	}
}
