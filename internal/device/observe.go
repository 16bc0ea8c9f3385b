package device

import "fmt"

// Subscribe returns a channel that receives every published snapshot and
// a function that cancels the subscription and closes the channel.
//
// The channel holds up to buffer snapshots (minimum 1). When it is full
// the oldest pending snapshot is dropped, so a slow reader always
// catches up to the newest state.
func (m *Manager) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)

	m.pubMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch
	m.pubMu.Unlock()

	var cancelled bool
	cancel := func() {
		m.pubMu.Lock()
		defer m.pubMu.Unlock()
		if cancelled {
			return
		}
		cancelled = true
		delete(m.subscribers, id)
		close(ch)
	}
	return ch, cancel
}

// AddObserver registers fn to be called synchronously with every
// published snapshot. A panicking observer is logged and skipped.
func (m *Manager) AddObserver(fn func(State)) {
	if fn == nil {
		return
	}
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	m.observers = append(m.observers, fn)
}

// publishLocked delivers snap. Caller holds pubMu.
func (m *Manager) publishLocked(snap State) {
	for _, ch := range m.subscribers {
		select {
		case ch <- snap.clone():
			continue
		default:
		}
		// Full: drop the oldest and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap.clone():
		default:
		}
	}

	for _, fn := range m.observers {
		m.notify(fn, snap.clone())
	}
}

func (m *Manager) notify(fn func(State), snap State) {
	defer func() {
		if r := recover(); r != nil {
			m.deps.Logger.Error("state observer panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn(snap)
}
