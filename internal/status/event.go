// internal/status/event.go
package status

import (
	"sync"
	"time"
)

// EventKind classifies a client notification.
type EventKind uint8

const (
	EventStatus EventKind = iota + 1
	EventError
	EventMetadataReady
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	case EventMetadataReady:
		return "metadata"
	default:
		return "unknown"
	}
}

// Event is one push notification from a device client.
// Text is meant for direct display; Err carries the categorized cause.
type Event struct {
	Kind  EventKind
	Text  string
	Err   error
	State State
	At    time.Time
}

// Notifier fans events out to subscribers and remembers the last status
// and error text for pull-style readers.
// Publish never blocks: a subscriber that falls behind loses events.
type Notifier struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	lastSt  string
	lastErr string
	fault   error
	dropped uint64
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered event channel and a cancel func that
// detaches and closes it.
func (n *Notifier) Subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Publish stamps and delivers e to every subscriber.
func (n *Notifier) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	switch e.Kind {
	case EventStatus:
		n.lastSt = e.Text
	case EventError:
		n.lastErr = e.Text
		n.fault = e.Err
	}

	for _, ch := range n.subs {
		select {
		case ch <- e:
		default:
			n.dropped++
		}
	}
}

// LastStatus returns the text of the most recent status event.
func (n *Notifier) LastStatus() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastSt
}

// LastError returns the text of the most recent error event.
func (n *Notifier) LastError() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastErr
}

// LastFault returns the cause attached to the most recent error event.
func (n *Notifier) LastFault() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fault
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (n *Notifier) Dropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}
