package notify

import (
	"sync"
	"testing"
	"time"
)

func TestHub_BasicSubscribeSignal(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe(Filter{})
	defer cancel()

	hub.Signal(Event{Kind: PublicationAdded, RegistrationID: 1, StreamID: 1001})

	select {
	case ev := <-events:
		if ev.Kind != PublicationAdded || ev.RegistrationID != 1 {
			t.Errorf("expected (added, 1), got (%s, %d)", ev.Kind, ev.RegistrationID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_FilterSpecificStream(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe(Filter{StreamIDs: []int32{10}})
	defer cancel()

	hub.Signal(Event{Kind: PublicationAdded, StreamID: 20})
	hub.Signal(Event{Kind: PublicationClosed, StreamID: 10})

	select {
	case ev := <-events:
		if ev.StreamID != 10 || ev.Kind != PublicationClosed {
			t.Errorf("expected closed event for stream 10, got %s for %d", ev.Kind, ev.StreamID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected event for stream %d", ev.StreamID)
	default:
	}
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe(Filter{})
	defer cancel()

	for i := 0; i < defaultEventBufferSize*2; i++ {
		hub.Signal(Event{Kind: PublicationAdded, RegistrationID: int64(i)})
	}

	if len(events) != defaultEventBufferSize {
		t.Errorf("expected %d buffered events, got %d", defaultEventBufferSize, len(events))
	}
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	hub := NewHub()

	events, cancel := hub.Subscribe(Filter{})
	cancel()
	cancel()

	if _, ok := <-events; ok {
		t.Error("expected channel to be closed")
	}

	// Signal after cancel must not panic
	hub.Signal(Event{Kind: PublicationClosed})
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()

	a, cancelA := hub.Subscribe(Filter{})
	b, _ := hub.Subscribe(Filter{StreamIDs: []int32{1}})
	hub.Close()
	cancelA()

	if _, ok := <-a; ok {
		t.Error("expected first channel closed")
	}
	if _, ok := <-b; ok {
		t.Error("expected second channel closed")
	}
}

func TestHub_ConcurrentSignal(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		_, cancel := hub.Subscribe(Filter{})
		defer cancel()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.Signal(Event{Kind: PublicationAdded, RegistrationID: int64(n*100 + j)})
			}
		}(i)
	}
	wg.Wait()
}

func TestEventKindString(t *testing.T) {
	if PublicationAdded.String() != "added" {
		t.Errorf("unexpected %s", PublicationAdded)
	}
	if EventKind(99).String() != "unknown" {
		t.Errorf("unexpected %s", EventKind(99))
	}
}
