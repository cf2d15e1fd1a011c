package threadstate

import "testing"

func TestSetListenerCancelsPrevious(t *testing.T) {
	st := newState()
	fired := false
	l1 := st.SetListener(func() { fired = true })
	if !st.ListenerMatches(l1) {
		t.Fatal("expected l1 to match")
	}
	l2 := st.SetListener(func() {})
	if fired != true {
		t.Fatal("expected previous cancel to fire when replaced")
	}
	if st.ListenerMatches(l1) {
		t.Fatal("l1 should no longer match after replacement")
	}
	if !st.ListenerMatches(l2) {
		t.Fatal("l2 should match")
	}
}

func TestClearListenerFiresCancel(t *testing.T) {
	st := newState()
	fired := false
	l := st.SetListener(func() { fired = true })
	st.ClearListener()
	if !fired {
		t.Fatal("expected cancel to fire on clear")
	}
	if st.ListenerMatches(l) {
		t.Fatal("listener should be cleared")
	}
}

func TestManagerRemoveConnectionClearsListenerWhenEmpty(t *testing.T) {
	m := NewManager()
	sid := SessionID("s1")
	cid := ConnectionID("c1")

	st := m.EnsureConnectionSubscribed(sid, cid)
	fired := false
	st.SetListener(func() { fired = true })

	m.RemoveConnection(cid)
	if !fired {
		t.Fatal("expected listener cancel to fire once last subscriber leaves")
	}
}

func TestManagerKeepsListenerWithRemainingSubscribers(t *testing.T) {
	m := NewManager()
	sid := SessionID("s1")
	st := m.EnsureConnectionSubscribed(sid, "c1")
	m.EnsureConnectionSubscribed(sid, "c2")

	fired := false
	st.SetListener(func() { fired = true })

	m.RemoveConnection("c1")
	if fired {
		t.Fatal("did not expect cancel while a subscriber remains")
	}
}
