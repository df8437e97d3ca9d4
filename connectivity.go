package outboxkit

import "sync"

// Monitor reports whether the network is reachable and signals transitions.
// The application drives it from whatever platform reachability signal it
// has; the dispatcher only consumes it.
type Monitor interface {
	// IsOnline is queryable synchronously at any time.
	IsOnline() bool

	// Subscribe registers a handler invoked on every online/offline
	// transition. The returned function cancels the subscription.
	Subscribe(handler func(online bool)) (cancel func())
}

// ManualMonitor is a Monitor driven explicitly via SetOnline. It starts
// offline.
type ManualMonitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(bool)
}

var _ Monitor = (*ManualMonitor)(nil)

// NewManualMonitor returns a monitor in the given initial state.
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{
		online: online,
		subs:   make(map[int]func(bool)),
	}
}

// IsOnline reports the current state.
func (m *ManualMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the state. Subscribers are notified only on an actual
// transition, synchronously and in unspecified order.
func (m *ManualMonitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	handlers := make([]func(bool), 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(online)
	}
}

// Subscribe registers a transition handler.
func (m *ManualMonitor) Subscribe(handler func(online bool)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
