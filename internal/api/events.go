package api

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published on the hub.
const EventJobState = "job.state"

type Event struct {
	ID   int64
	Type string
	At   time.Time
	Data []byte // JSON payload
}

// EventHub is an in-memory pub/sub that keeps the last few events so a
// reconnecting client can resume from Last-Event-ID.
type EventHub struct {
	seq atomic.Int64

	mu     sync.Mutex
	recent []Event // ring, oldest at head
	head   int
	count  int

	subs      map[int]chan Event
	nextSubID int
}

func NewEventHub(capacity int) *EventHub {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventHub{
		recent: make([]Event, capacity),
		subs:   make(map[int]chan Event),
	}
}

func (h *EventHub) Publish(eventType string, data any) Event {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}
	ev := Event{
		ID:   h.seq.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.remember(ev)
	for _, ch := range h.subs {
		// Slow subscribers miss events rather than stall the watcher.
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

func (h *EventHub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 32)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Since returns buffered events with ID > lastID, oldest first.
func (h *EventHub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		ev := h.recent[(h.head+i)%len(h.recent)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *EventHub) remember(ev Event) {
	n := len(h.recent)
	if h.count < n {
		h.recent[(h.head+h.count)%n] = ev
		h.count++
		return
	}
	h.recent[h.head] = ev
	h.head = (h.head + 1) % n
}
