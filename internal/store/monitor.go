// internal/store/monitor.go
package store

import "sync"

// Monitor keeps the most recent raw text lines received from the device
type Monitor struct {
	mu    sync.RWMutex
	lines *Ring[string]
}

// NewMonitor creates a monitor holding at most size lines. A size of zero
// disables it.
func NewMonitor(size int) *Monitor {
	if size <= 0 {
		return &Monitor{}
	}
	return &Monitor{lines: NewRing[string](size)}
}

// Append records one line
func (m *Monitor) Append(line string) {
	if m.lines == nil {
		return
	}
	m.mu.Lock()
	m.lines.Add(line)
	m.mu.Unlock()
}

// Lines returns a copy of the stored lines, oldest first
func (m *Monitor) Lines() []string {
	if m.lines == nil {
		return []string{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lines.Items()
}

// Clear drops every line
func (m *Monitor) Clear() {
	if m.lines == nil {
		return
	}
	m.mu.Lock()
	m.lines.Clear()
	m.mu.Unlock()
}
