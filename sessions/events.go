package sessions

import (
	"sort"
	"sync"
)

type EventKind int

const (
	EventLoggedIn EventKind = iota
	EventRefreshed
	// EventSessionInvalidated is published after the tokens have been cleared.
	// Reason is ErrSessionExpired, ErrLoggedOut, ErrCorruptedSession or a RefreshError.
	EventSessionInvalidated
)

func (k EventKind) String() string {
	switch k {
	case EventLoggedIn:
		return "logged_in"
	case EventRefreshed:
		return "refreshed"
	case EventSessionInvalidated:
		return "session_invalidated"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind   EventKind
	Reason error
}

// Events is a synchronous in-process hub. Handlers run on the publishing goroutine in
// subscription order and must not block.
type Events struct {
	lock     sync.RWMutex
	nextID   int
	handlers map[int]func(Event)
}

func NewEvents() *Events {
	return &Events{handlers: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it.
func (e *Events) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.lock.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = fn
	e.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.lock.Lock()
			delete(e.handlers, id)
			e.lock.Unlock()
		})
	}
}

func (e *Events) Publish(ev Event) {
	e.lock.RLock()
	ids := make([]int, 0, len(e.handlers))
	for id := range e.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, e.handlers[id])
	}
	e.lock.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
