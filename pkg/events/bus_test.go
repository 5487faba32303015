package events

import (
	"testing"
	"time"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	bus.Publish(NewEvent(EventTrialStart, "trial-1"))

	select {
	case event := <-ch:
		if event.Type != EventTrialStart {
			t.Errorf("expected EventTrialStart, got %s", event.Type)
		}
		if event.Data != "trial-1" {
			t.Errorf("expected data 'trial-1', got %v", event.Data)
		}
		if event.Seq != 1 {
			t.Errorf("Seq = %d, want 1", event.Seq)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryBusFilter(t *testing.T) {
	bus := NewMemoryBus()
	ch := bus.Subscribe(EventTrialEnd)
	defer bus.Unsubscribe(ch)

	bus.Publish(NewEvent(EventTrialState, "should-be-filtered"))
	bus.Publish(NewEvent(EventTrialEnd, "should-arrive"))

	select {
	case event := <-ch:
		if event.Type != EventTrialEnd {
			t.Errorf("expected EventTrialEnd, got %s", event.Type)
		}
		if event.Data != "should-arrive" {
			t.Errorf("expected data 'should-arrive', got %v", event.Data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}

	select {
	case event := <-ch:
		t.Errorf("unexpected event: %v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusMultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	defer bus.Unsubscribe(ch1)
	defer bus.Unsubscribe(ch2)

	bus.Publish(NewEvent(EventSessionStart, "s-1"))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case event := <-ch:
			if event.Type != EventSessionStart {
				t.Errorf("expected EventSessionStart, got %s", event.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestMemoryBusHistory(t *testing.T) {
	bus := NewMemoryBus()
	bus.Publish(NewEvent(EventTrialStart, "first"))
	bus.Publish(NewEvent(EventTrialEnd, "second"))

	tests := []struct {
		after uint64
		want  []any
	}{
		{0, []any{"first", "second"}},
		{1, []any{"second"}},
		{2, nil},
		{9, nil},
	}
	for _, tt := range tests {
		got := bus.History(tt.after)
		if len(got) != len(tt.want) {
			t.Fatalf("History(%d) = %d events, want %d", tt.after, len(got), len(tt.want))
		}
		for i := range got {
			if got[i].Data != tt.want[i] {
				t.Errorf("History(%d)[%d] = %v, want %v", tt.after, i, got[i].Data, tt.want[i])
			}
		}
	}
}

func TestMemoryBusHistoryLimit(t *testing.T) {
	bus := NewMemoryBusWithLimit(3)
	for i := 0; i < 5; i++ {
		bus.Publish(NewEvent(EventTrialState, i))
	}

	h := bus.History(0)
	if len(h) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(h))
	}
	if h[0].Data != 2 || h[2].Data != 4 {
		t.Errorf("retained %v, want the newest three", []any{h[0].Data, h[1].Data, h[2].Data})
	}
	if h[2].Seq != 5 {
		t.Errorf("Seq = %d, want 5", h[2].Seq)
	}
	if got := bus.History(4); len(got) != 1 || got[0].Data != 4 {
		t.Errorf("History(4) = %v", got)
	}
	if bus.Count(EventTrialState) != 3 {
		t.Errorf("Count = %d, want 3", bus.Count(EventTrialState))
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, ok := <-ch
	if ok {
		t.Error("expected channel to be closed")
	}
}

func TestMemoryBusUnsubscribeUnknown(t *testing.T) {
	bus := NewMemoryBus()
	other := make(chan Event)
	bus.Unsubscribe(other)
	bus.Publish(NewEvent(EventSessionStart, nil))
}

func TestEventForTrial(t *testing.T) {
	event := NewEvent(EventTrialState, map[string]string{"state": "WAIT_GO"}).ForTrial("abc", 3)

	if event.SessionID != "abc" || event.Trial != 3 {
		t.Errorf("ForTrial = %q/%d", event.SessionID, event.Trial)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}
