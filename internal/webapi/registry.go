package webapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leotyps/jkt48connect/pkg/checkout"
)

// fulfillmentGrace bounds how long shutdown waits for a paid session's fulfillment.
const fulfillmentGrace = 30 * time.Second

var (
	ErrRegistryClosed        = errors.New("checkout registry closed")
	ErrInvalidRegistryConfig = errors.New("invalid checkout registry config")
)

// ControllerFactory builds a fresh controller for one checkout.
type ControllerFactory func(id string) (*checkout.Controller, error)

// Registry tracks live checkout controllers by session id and evicts them
// once they have settled and the retention period has passed.
type Registry struct {
	factory   ControllerFactory
	retention time.Duration
	newID     func() string

	mutex   sync.Mutex
	entries map[string]*checkout.Controller
	closed  bool
	stop    chan struct{}
	workers sync.WaitGroup
}

// NewRegistry constructs a Registry.
func NewRegistry(factory ControllerFactory, retention time.Duration) (*Registry, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: controller factory is required", ErrInvalidRegistryConfig)
	}
	if retention <= 0 {
		retention = defaultSessionRetention
	}
	return &Registry{
		factory:   factory,
		retention: retention,
		newID:     uuid.NewString,
		entries:   make(map[string]*checkout.Controller),
		stop:      make(chan struct{}),
	}, nil
}

// Start begins a checkout on a new controller. A session that failed during
// creation is still registered so it can be fetched until evicted.
func (registry *Registry) Start(ctx context.Context, order checkout.Order) (checkout.Session, error) {
	registry.mutex.Lock()
	closed := registry.closed
	registry.mutex.Unlock()
	if closed {
		return checkout.Session{}, ErrRegistryClosed
	}
	controller, err := registry.factory(registry.newID())
	if err != nil {
		return checkout.Session{}, err
	}
	session, beginErr := controller.Begin(ctx, order)
	if session.ID == "" {
		controller.Close(ctx)
		return session, beginErr
	}

	registry.mutex.Lock()
	if registry.closed {
		registry.mutex.Unlock()
		controller.Close(ctx)
		return checkout.Session{}, ErrRegistryClosed
	}
	registry.entries[session.ID] = controller
	registry.workers.Add(1)
	registry.mutex.Unlock()
	go registry.evict(session.ID, controller)
	return session, beginErr
}

// Get returns the current snapshot of a registered session.
func (registry *Registry) Get(sessionID string) (checkout.Session, bool) {
	registry.mutex.Lock()
	controller, ok := registry.entries[sessionID]
	registry.mutex.Unlock()
	if !ok {
		return checkout.Session{}, false
	}
	return controller.Snapshot(), true
}

// Cancel abandons a pending session.
func (registry *Registry) Cancel(ctx context.Context, sessionID string) (checkout.Session, error) {
	registry.mutex.Lock()
	controller, ok := registry.entries[sessionID]
	registry.mutex.Unlock()
	if !ok {
		return checkout.Session{}, fmt.Errorf("%w: %s", checkout.ErrSessionNotFound, sessionID)
	}
	return controller.Cancel(ctx)
}

// Len returns the number of registered sessions.
func (registry *Registry) Len() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return len(registry.entries)
}

// Close abandons every pending session, lets paid sessions finish fulfillment
// within the grace period and waits for the eviction workers.
func (registry *Registry) Close() {
	registry.mutex.Lock()
	if registry.closed {
		registry.mutex.Unlock()
		return
	}
	registry.closed = true
	close(registry.stop)
	registry.mutex.Unlock()
	registry.workers.Wait()
}

func (registry *Registry) evict(sessionID string, controller *checkout.Controller) {
	defer registry.workers.Done()
	defer func() {
		registry.mutex.Lock()
		delete(registry.entries, sessionID)
		registry.mutex.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), fulfillmentGrace)
		defer cancel()
		controller.Close(ctx)
	}()
	select {
	case <-controller.Done():
	case <-registry.stop:
		return
	}
	timer := time.NewTimer(registry.retention)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-registry.stop:
	}
}
