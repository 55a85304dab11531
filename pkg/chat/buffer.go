package chat

import "sync"

// DefaultCapacity is the display buffer size.
const DefaultCapacity = 50

const defaultSubscriberBuffer = 64

// Event is delivered to subscribers. Reset means Messages replaces the
// whole view; otherwise Messages are appended.
type Event struct {
	Reset    bool      `json:"reset"`
	Messages []Message `json:"messages"`
}

// Buffer keeps the most recent messages in insertion order and fans
// changes out to subscribers.
type Buffer struct {
	mutex       sync.Mutex
	capacity    int
	messages    []Message
	subscribers map[uint64]chan Event
	nextID      uint64
}

// NewBuffer constructs a buffer; non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity:    capacity,
		messages:    make([]Message, 0, capacity),
		subscribers: make(map[uint64]chan Event),
	}
}

// Push appends messages, evicting the oldest beyond capacity.
func (buffer *Buffer) Push(messages ...Message) {
	if len(messages) == 0 {
		return
	}
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	buffer.messages = append(buffer.messages, messages...)
	if overflow := len(buffer.messages) - buffer.capacity; overflow > 0 {
		buffer.messages = append(buffer.messages[:0:0], buffer.messages[overflow:]...)
	}
	buffer.broadcast(Event{Messages: tail(messages, buffer.capacity)})
}

// Replace swaps the contents for the last capacity entries of messages.
func (buffer *Buffer) Replace(messages []Message) {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	buffer.messages = tail(messages, buffer.capacity)
	buffer.broadcast(Event{Reset: true, Messages: buffer.snapshot()})
}

// Messages returns a copy of the buffered messages, oldest first.
func (buffer *Buffer) Messages() []Message {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	return buffer.snapshot()
}

// Len returns the number of buffered messages.
func (buffer *Buffer) Len() int {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	return len(buffer.messages)
}

// Subscribe returns the current snapshot and a channel of subsequent
// events. A subscriber that falls behind has its queued events replaced by
// one reset carrying the whole view.
func (buffer *Buffer) Subscribe() ([]Message, <-chan Event, func()) {
	buffer.mutex.Lock()
	defer buffer.mutex.Unlock()
	id := buffer.nextID
	buffer.nextID++
	events := make(chan Event, defaultSubscriberBuffer)
	buffer.subscribers[id] = events
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			buffer.mutex.Lock()
			defer buffer.mutex.Unlock()
			delete(buffer.subscribers, id)
			close(events)
		})
	}
	return buffer.snapshot(), events, unsubscribe
}

func (buffer *Buffer) broadcast(event Event) {
	for _, subscriber := range buffer.subscribers {
		select {
		case subscriber <- event:
			continue
		default:
		}
		drain(subscriber)
		// Only broadcast sends, under the buffer mutex, so the drained channel has room.
		subscriber <- Event{Reset: true, Messages: buffer.snapshot()}
	}
}

func drain(events chan Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

func (buffer *Buffer) snapshot() []Message {
	return append([]Message(nil), buffer.messages...)
}

func tail(messages []Message, capacity int) []Message {
	if len(messages) > capacity {
		messages = messages[len(messages)-capacity:]
	}
	return append([]Message(nil), messages...)
}
