package engine

import "sync"

// Listeners is a concurrency-safe set of listeners keyed by event name.
// Engines embed it to implement AddEventListener and RemoveEventListener.
type Listeners struct {
	mu  sync.RWMutex
	set map[string][]Listener
}

// AddEventListener registers l under name. Adding the same listener twice
// under one name is a no-op.
func (ls *Listeners) AddEventListener(name string, l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.set == nil {
		ls.set = make(map[string][]Listener)
	}
	for _, existing := range ls.set[name] {
		if existing == l {
			return
		}
	}
	ls.set[name] = append(ls.set[name], l)
}

// RemoveEventListener unregisters l from name.
func (ls *Listeners) RemoveEventListener(name string, l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	list := ls.set[name]
	for i, existing := range list {
		if existing == l {
			ls.set[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(ls.set[name]) == 0 {
		delete(ls.set, name)
	}
}

// Emit delivers ev to every listener registered under ev.Type. The list is
// copied first so listeners may unregister themselves.
func (ls *Listeners) Emit(ev RawEvent) {
	ls.mu.RLock()
	list := make([]Listener, len(ls.set[ev.Type]))
	copy(list, ls.set[ev.Type])
	ls.mu.RUnlock()

	for _, l := range list {
		l.HandleEngineEvent(ev)
	}
}

// Count returns the total number of registrations across all names.
func (ls *Listeners) Count() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	n := 0
	for _, list := range ls.set {
		n += len(list)
	}
	return n
}
