package ws

import (
	"fmt"
	"slices"
	"sync"
)

// EventKind names one of the events a Conn emits.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
	EventPing
	EventPong

	numEventKinds
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	case EventPing:
		return "ping"
	case EventPong:
		return "pong"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is passed to listeners. Which fields are set depends on Kind:
//
//   - EventMessage: Binary, and Text or Data
//   - EventError: Err
//   - EventClose: Code and Reason; Code is 0 when the peer sent no status
//     or the transport was lost
//   - EventPing, EventPong: Data
type Event struct {
	Kind EventKind

	Binary bool
	Text   string
	Data   []byte

	Code   int
	Reason string

	Err error
}

// Listener handles one event. Listeners run on the connection's read
// goroutine and may call any Conn method.
type Listener func(Event)

// ListenerID identifies a listener added with AddListener.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

type registry struct {
	mu     sync.Mutex
	nextID ListenerID
	slots  [numEventKinds]Listener
	lists  [numEventKinds][]listenerEntry
}

func (r *registry) setSlot(kind EventKind, fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots[kind] = fn
}

func (r *registry) add(kind EventKind, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.lists[kind] = append(r.lists[kind], listenerEntry{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *registry) remove(kind EventKind, id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.lists[kind], func(e listenerEntry) bool { return e.id == id })
	if i < 0 {
		return false
	}
	// Copy so a snapshot taken by an in-flight emit stays intact.
	r.lists[kind] = slices.Delete(slices.Clone(r.lists[kind]), i, i+1)
	return true
}

// snapshot returns the listeners for kind in call order: the slot first,
// then added listeners in registration order.
func (r *registry) snapshot(kind EventKind) []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Listener, 0, len(r.lists[kind])+1)
	if r.slots[kind] != nil {
		out = append(out, r.slots[kind])
	}
	for _, e := range r.lists[kind] {
		out = append(out, e.fn)
	}
	return out
}

func validKind(kind EventKind) bool {
	return kind >= 0 && kind < numEventKinds
}
