package outboxkit

import "testing"

func TestManualMonitorInitialState(t *testing.T) {
	if NewManualMonitor(true).IsOnline() != true {
		t.Error("monitor created online reports offline")
	}
	if NewManualMonitor(false).IsOnline() != false {
		t.Error("monitor created offline reports online")
	}
}

func TestManualMonitorNotifiesOnTransitionOnly(t *testing.T) {
	m := NewManualMonitor(false)

	var events []bool
	cancel := m.Subscribe(func(online bool) { events = append(events, online) })
	defer cancel()

	m.SetOnline(false) // no transition
	m.SetOnline(true)
	m.SetOnline(true) // no transition
	m.SetOnline(false)

	want := []bool{true, false}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestManualMonitorCancelStopsDelivery(t *testing.T) {
	m := NewManualMonitor(false)

	var count int
	cancel := m.Subscribe(func(bool) { count++ })

	m.SetOnline(true)
	cancel()
	m.SetOnline(false)
	m.SetOnline(true)

	if count != 1 {
		t.Errorf("events after cancel = %d, want 1", count)
	}
}

func TestManualMonitorMultipleSubscribers(t *testing.T) {
	m := NewManualMonitor(false)

	var a, b int
	cancelA := m.Subscribe(func(bool) { a++ })
	defer cancelA()
	cancelB := m.Subscribe(func(bool) { b++ })
	defer cancelB()

	m.SetOnline(true)
	if a != 1 || b != 1 {
		t.Errorf("subscriber counts = %d/%d, want 1/1", a, b)
	}
}
