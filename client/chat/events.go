// client/chat/events.go

package chatclient

import "sync"

// Queue lifecycle event kinds.
const (
	EventMessageQueued = "message_queued"
	EventMessageSent   = "message_sent"
	EventMessageFailed = "message_failed"
)

// Event describes a change in a queued item's lifecycle. ServerMessage
// is set only for message_sent; Err only for message_failed.
type Event struct {
	Kind          string
	Item          QueuedMessage
	ServerMessage *ServerMessage
	Err           string
}

// observerList fans events out to subscribers. Subscribing returns a
// disposer; publishing never blocks the queue's mutex.
type observerList struct {
	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

func (l *observerList) subscribe(fn func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = make(map[int]func(Event))
	}
	id := l.next
	l.next++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}

func (l *observerList) publish(evt Event) {
	l.mu.Lock()
	fns := make([]func(Event), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}
