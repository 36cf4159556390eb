// Package connectivity tracks online/offline state and notifies listeners on
// edges only.
package connectivity

import "sync"

// Listener receives connectivity edges (true = online).
type Listener func(online bool)

// Monitor holds the current connectivity state. SetOnline is edge-detecting:
// listeners fire only when the state actually changes.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]Listener
	nextID    int
}

// NewMonitor creates a monitor that starts online.
func NewMonitor() *Monitor {
	return &Monitor{
		online:    true,
		listeners: make(map[int]Listener),
	}
}

// Current returns the last observed state.
func (m *Monitor) Current() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a listener and returns its cancel function.
func (m *Monitor) Subscribe(l Listener) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SetOnline records an observation. Listeners are notified outside the lock,
// and only on a transition.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	notify := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		notify = append(notify, l)
	}
	m.mu.Unlock()

	for _, l := range notify {
		l(online)
	}
}
