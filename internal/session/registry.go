package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTabNotFound is returned for unknown or closed tab IDs.
var ErrTabNotFound = errors.New("session: tab not found")

// Registry owns the open tabs.
type Registry struct {
	mu   sync.RWMutex
	tabs map[string]*Tab
	now  func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tabs: make(map[string]*Tab),
		now:  time.Now,
	}
}

// Create opens a new tab with a random ID.
func (r *Registry) Create() *Tab {
	tab := NewTab(uuid.NewString(), r.now().UTC())

	r.mu.Lock()
	r.tabs[tab.ID] = tab
	r.mu.Unlock()
	return tab
}

// Get returns an open tab.
func (r *Registry) Get(id string) (*Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tab, ok := r.tabs[id]
	if !ok {
		return nil, ErrTabNotFound
	}
	return tab, nil
}

// Close removes a tab, stopping its live tail and subscribers.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	tab, ok := r.tabs[id]
	delete(r.tabs, id)
	r.mu.Unlock()

	if !ok {
		return ErrTabNotFound
	}
	tab.close()
	return nil
}

// List returns the open tabs ordered by creation time.
func (r *Registry) List() []*Tab {
	r.mu.RLock()
	tabs := make([]*Tab, 0, len(r.tabs))
	for _, t := range r.tabs {
		tabs = append(tabs, t)
	}
	r.mu.RUnlock()

	sort.Slice(tabs, func(i, j int) bool {
		return tabs[i].CreatedAt.Before(tabs[j].CreatedAt)
	})
	return tabs
}

// CloseAll closes every tab.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	tabs := r.tabs
	r.tabs = make(map[string]*Tab)
	r.mu.Unlock()

	for _, t := range tabs {
		t.close()
	}
}
