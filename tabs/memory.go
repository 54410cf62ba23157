package tabs

import (
	"context"
	"errors"
	"sync"

	"github.com/ajolex/surveycto-vc-agent/types"
)

// ErrNoSuchTab is returned for operations on unknown tab ids.
var ErrNoSuchTab = errors.New("no such tab")

// Memory is a Browser and Deliverer that keeps tabs in memory. It backs the
// "memory" browser setting, where console pages connect over the hub
// instead of being driven through DevTools, and it is used in tests.
type Memory struct {
	mu        sync.Mutex
	next      types.TabID
	tabs      []Tab
	focused   types.TabID
	delivered map[types.TabID][]types.Message
	// DeliverErr, when set, fails every Deliver call.
	DeliverErr error
	// OnOpen, when set, is called after a tab is opened.
	OnOpen func(Tab)
}

// NewMemory creates a Memory browser with tabs already open at urls.
func NewMemory(urls ...string) *Memory {
	m := &Memory{delivered: make(map[types.TabID][]types.Message)}
	for _, u := range urls {
		m.add(u)
	}
	return m
}

func (m *Memory) add(url string) Tab {
	m.next++
	tab := Tab{ID: m.next, URL: url}
	m.tabs = append(m.tabs, tab)
	return tab
}

// Tabs implements Browser.
func (m *Memory) Tabs(context.Context) ([]Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Tab(nil), m.tabs...), nil
}

// Focus implements Browser.
func (m *Memory) Focus(_ context.Context, id types.TabID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index(id) < 0 {
		return ErrNoSuchTab
	}
	m.focused = id
	return nil
}

// Open implements Browser.
func (m *Memory) Open(_ context.Context, url string) (Tab, error) {
	m.mu.Lock()
	tab := m.add(url)
	m.focused = tab.ID
	hook := m.OnOpen
	m.mu.Unlock()
	if hook != nil {
		hook(tab)
	}
	return tab, nil
}

// Deliver implements Deliverer.
func (m *Memory) Deliver(_ context.Context, id types.TabID, msg types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeliverErr != nil {
		return m.DeliverErr
	}
	if m.index(id) < 0 {
		return ErrNoSuchTab
	}
	m.delivered[id] = append(m.delivered[id], msg)
	return nil
}

// Close removes a tab. It reports whether the tab existed.
func (m *Memory) Close(id types.TabID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return false
	}
	m.tabs = append(m.tabs[:i], m.tabs[i+1:]...)
	delete(m.delivered, id)
	return true
}

// Focused returns the last focused or opened tab.
func (m *Memory) Focused() types.TabID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

// Delivered returns the messages delivered to a tab.
func (m *Memory) Delivered(id types.TabID) []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Message(nil), m.delivered[id]...)
}

func (m *Memory) index(id types.TabID) int {
	for i, t := range m.tabs {
		if t.ID == id {
			return i
		}
	}
	return -1
}

var (
	_ Browser   = (*Memory)(nil)
	_ Deliverer = (*Memory)(nil)
)
