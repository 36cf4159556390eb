package session

import "testing"

func TestLinkDropsOldestWhenFull(t *testing.T) {
	l := NewLink(2)

	l.Load("https://pay.example.com/1")
	l.Reload()
	l.Unload() // buffer full; the load event is dropped

	first := <-l.Events()
	if first.Name != EventViewReload {
		t.Errorf("first event = %s, want %s", first.Name, EventViewReload)
	}
	second := <-l.Events()
	if second.Name != EventViewUnload {
		t.Errorf("second event = %s, want %s", second.Name, EventViewUnload)
	}
}

func TestLinkCloseIsIdempotentAndDropsLatePushes(t *testing.T) {
	l := NewLink(4)
	l.Close()
	l.Close()

	// Pushing after close must not panic.
	l.Reload()

	if _, ok := <-l.Events(); ok {
		t.Error("events channel still open after Close")
	}
}
