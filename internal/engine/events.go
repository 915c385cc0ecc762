package engine

import "sync"

// EventType identifies a lifecycle event emitted during a sync round.
type EventType string

const (
	EventSyncStart        EventType = "sync-start"
	EventSyncProgress     EventType = "sync-progress"
	EventSyncSuccess      EventType = "sync-success"
	EventSyncError        EventType = "sync-error"
	EventConflictDetected EventType = "conflict-detected"
	EventConflictResolved EventType = "conflict-resolved"
)

// Event is one entry in the lifecycle stream. Only the fields relevant to
// the Type are populated.
type Event struct {
	Type      EventType
	Progress  int        // EventSyncProgress
	Message   string     // EventSyncError
	Snapshot  *Snapshot  // EventSyncSuccess, EventConflictResolved
	Conflicts []Conflict // EventSyncSuccess, EventConflictDetected
}

// broadcaster fans events out to subscribers. Publishing never blocks: a
// subscriber that has fallen behind its buffer misses events rather than
// stalling the sync round.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// subscribe registers a new subscriber with the given channel buffer and
// returns the receive channel plus an unsubscribe func. Unsubscribing closes
// the channel; it is safe to call more than once.
func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeAll drops every subscriber and closes their channels.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
