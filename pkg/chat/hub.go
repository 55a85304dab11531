package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// RelayFactory builds the relay for one room of a provider.
type RelayFactory func(provider Provider, room string) (Relay, error)

// Observer receives relay lifecycle callbacks.
type Observer interface {
	MessagesReceived(provider Provider, room string, count int)
	RelayStopped(provider Provider, room string, err error)
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithObserver wires relay lifecycle callbacks.
func WithObserver(observer Observer) HubOption {
	return func(hub *Hub) {
		hub.observer = observer
	}
}

// WithCapacity overrides the per-room buffer size.
func WithCapacity(capacity int) HubOption {
	return func(hub *Hub) {
		hub.capacity = capacity
	}
}

type roomKey struct {
	provider Provider
	room     string
}

type room struct {
	buffer      *Buffer
	relay       Relay
	cancel      context.CancelFunc
	done        chan struct{}
	subscribers int
}

// Hub runs one relay per provider room, started on the first subscriber
// and stopped when the last one leaves.
type Hub struct {
	factory  RelayFactory
	observer Observer
	capacity int

	mutex  sync.Mutex
	rooms  map[roomKey]*room
	closed bool
}

// NewHub constructs a Hub.
func NewHub(factory RelayFactory, options ...HubOption) (*Hub, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: relay factory is nil", ErrInvalidHub)
	}
	hub := &Hub{
		factory:  factory,
		capacity: DefaultCapacity,
		rooms:    make(map[roomKey]*room),
	}
	for _, option := range options {
		if option != nil {
			option(hub)
		}
	}
	return hub, nil
}

// Subscription is a live view of one room.
type Subscription struct {
	Snapshot []Message
	Events   <-chan Event

	relay       Relay
	done        <-chan struct{}
	unsubscribe func()
	release     func()
	once        sync.Once
}

// Connected reports whether the underlying relay is connected.
func (subscription *Subscription) Connected() bool {
	return subscription.relay.Connected()
}

// Done is closed once the room's relay has exited.
func (subscription *Subscription) Done() <-chan struct{} {
	return subscription.done
}

// Close leaves the room.
func (subscription *Subscription) Close() {
	subscription.once.Do(func() {
		subscription.unsubscribe()
		subscription.release()
	})
}

// Subscribe joins a room, starting its relay when needed.
func (hub *Hub) Subscribe(ctx context.Context, provider Provider, roomID string) (*Subscription, error) {
	trimmedRoom := strings.TrimSpace(roomID)
	if trimmedRoom == "" {
		return nil, fmt.Errorf("%w: room is empty", ErrInvalidRoom)
	}
	if _, err := ParseProvider(provider.String()); err != nil {
		return nil, err
	}
	key := roomKey{provider: provider, room: trimmedRoom}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if hub.closed {
		return nil, ErrHubClosed
	}
	active, ok := hub.rooms[key]
	if !ok {
		relay, err := hub.factory(provider, trimmedRoom)
		if err != nil {
			return nil, err
		}
		relayContext, cancel := context.WithCancel(context.WithoutCancel(ctx))
		active = &room{
			buffer: NewBuffer(hub.capacity),
			relay:  relay,
			cancel: cancel,
			done:   make(chan struct{}),
		}
		hub.rooms[key] = active
		go hub.run(relayContext, key, active)
	}
	active.subscribers++
	snapshot, events, unsubscribe := active.buffer.Subscribe()
	return &Subscription{
		Snapshot:    snapshot,
		Events:      events,
		relay:       active.relay,
		done:        active.done,
		unsubscribe: unsubscribe,
		release:     func() { hub.release(key, active) },
	}, nil
}

// Rooms returns the number of rooms with a running relay.
func (hub *Hub) Rooms() int {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return len(hub.rooms)
}

// Err returns ErrHubClosed once the hub has been closed.
func (hub *Hub) Err() error {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if hub.closed {
		return ErrHubClosed
	}
	return nil
}

// Close stops every relay and waits for them to exit.
func (hub *Hub) Close() {
	hub.mutex.Lock()
	hub.closed = true
	rooms := make([]*room, 0, len(hub.rooms))
	for key, active := range hub.rooms {
		rooms = append(rooms, active)
		delete(hub.rooms, key)
	}
	hub.mutex.Unlock()
	for _, active := range rooms {
		active.cancel()
		<-active.done
	}
}

func (hub *Hub) run(ctx context.Context, key roomKey, active *room) {
	defer close(active.done)
	err := active.relay.Run(ctx, &observedSink{hub: hub, key: key, sink: active.buffer})
	if hub.observer != nil {
		hub.observer.RelayStopped(key.provider, key.room, err)
	}
	hub.mutex.Lock()
	if hub.rooms[key] == active {
		delete(hub.rooms, key)
	}
	hub.mutex.Unlock()
}

func (hub *Hub) release(key roomKey, active *room) {
	hub.mutex.Lock()
	active.subscribers--
	last := active.subscribers <= 0
	if last && hub.rooms[key] == active {
		delete(hub.rooms, key)
	}
	hub.mutex.Unlock()
	if last {
		active.cancel()
	}
}

// observedSink counts messages into the observer. Replace only counts
// entries absent from the previous snapshot.
type observedSink struct {
	hub  *Hub
	key  roomKey
	sink Sink

	mutex sync.Mutex
	seen  map[string]struct{}
}

func (sink *observedSink) Push(messages ...Message) {
	sink.sink.Push(messages...)
	sink.observe(len(messages))
}

func (sink *observedSink) Replace(messages []Message) {
	sink.sink.Replace(messages)
	sink.mutex.Lock()
	seen := make(map[string]struct{}, len(messages))
	fresh := 0
	for _, message := range messages {
		key := message.key()
		if _, ok := sink.seen[key]; !ok {
			fresh++
		}
		seen[key] = struct{}{}
	}
	sink.seen = seen
	sink.mutex.Unlock()
	sink.observe(fresh)
}

func (sink *observedSink) observe(count int) {
	if sink.hub.observer != nil && count > 0 {
		sink.hub.observer.MessagesReceived(sink.key.provider, sink.key.room, count)
	}
}
