package dataservice

import (
	"sync"
	"testing"

	"bizdash/internal/core"
)

func TestBroadcaster_DeliversInOrder(t *testing.T) {
	b := NewBroadcaster()

	var mu sync.Mutex
	var got []SessionEvent
	unsub := b.Subscribe(func(event SessionEvent, _ *core.Session) {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
	})
	defer unsub()

	events := []SessionEvent{EventInitialSession, EventSignedIn, EventTokenRefreshed, EventSignedOut}
	for _, e := range events {
		b.Emit(e, nil)
	}

	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	for i := range events {
		if got[i] != events[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], events[i])
		}
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	calls := 0
	unsub := b.Subscribe(func(SessionEvent, *core.Session) { calls++ })

	b.Emit(EventSignedIn, &core.Session{User: core.Identity{UserID: "u1"}})
	unsub()
	unsub()
	b.Emit(EventSignedOut, nil)

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if b.Len() != 0 {
		t.Fatalf("expected no listeners, got %d", b.Len())
	}
}

func TestBroadcaster_ListenersGetCopies(t *testing.T) {
	b := NewBroadcaster()
	b.Subscribe(func(_ SessionEvent, s *core.Session) { s.AccessToken = "mutated" })

	var seen string
	b.Subscribe(func(_ SessionEvent, s *core.Session) { seen = s.AccessToken })

	orig := &core.Session{AccessToken: "tok"}
	b.Emit(EventSignedIn, orig)

	if seen != "tok" || orig.AccessToken != "tok" {
		t.Fatalf("session was shared between listeners: seen=%q orig=%q", seen, orig.AccessToken)
	}
}
