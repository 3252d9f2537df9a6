package engine

import (
	"sync"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/progress"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 256

// Event types published on a session topic.
const (
	EventBatch    = "batch"
	EventTask     = "task"
	EventExpanded = "expanded"
	EventProgress = "progress"
	EventDone     = "done"
)

// Event is one change in a session.
type Event struct {
	Type     string             `json:"type"`
	Mode     model.Mode         `json:"mode"`
	BatchID  string             `json:"batch_id,omitempty"`
	Task     *model.Task        `json:"task,omitempty"`
	Tasks    []model.Task       `json:"tasks,omitempty"`
	Progress *progress.Snapshot `json:"progress,omitempty"`
}

// EventBroker fans session events out to subscribers. It is safe for
// concurrent use.
//
// Closed topics are retained as markers so that late subscribers receive a
// closed channel instead of blocking forever.
type EventBroker struct {
	mu     sync.Mutex
	topics map[model.Mode]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[model.Mode]*eventTopic),
	}
}

// Subscribe returns a channel that receives the events of one session and
// an unsubscribe function. If the topic was closed the returned channel is
// already closed.
func (b *EventBroker) Subscribe(mode model.Mode) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[mode]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[mode] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of its mode. Events are
// dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.Mode]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends the topic of one mode. All subscriber channels are closed and
// future Subscribe calls return a closed channel.
func (b *EventBroker) Close(mode model.Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[mode]
	if !ok {
		b.topics[mode] = &eventTopic{subs: make(map[int]chan Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
