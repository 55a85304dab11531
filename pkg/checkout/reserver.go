package checkout

import (
	"context"
	"sync"
	"time"
)

// MemoryReserver keeps reserved totals in process memory.
type MemoryReserver struct {
	mutex sync.Mutex
	now   func() time.Time
	held  map[Amount]time.Time
}

// NewMemoryReserver constructs an in-process reserver.
func NewMemoryReserver(now func() time.Time) *MemoryReserver {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryReserver{now: now, held: make(map[Amount]time.Time)}
}

// Reserve claims total until ttl elapses; false means another session holds it.
func (reserver *MemoryReserver) Reserve(_ context.Context, total Amount, ttl time.Duration) (bool, error) {
	reserver.mutex.Lock()
	defer reserver.mutex.Unlock()
	now := reserver.now()
	if expiresAt, ok := reserver.held[total]; ok && expiresAt.After(now) {
		return false, nil
	}
	reserver.held[total] = now.Add(ttl)
	return true, nil
}

// Release frees total.
func (reserver *MemoryReserver) Release(_ context.Context, total Amount) error {
	reserver.mutex.Lock()
	defer reserver.mutex.Unlock()
	delete(reserver.held, total)
	return nil
}
