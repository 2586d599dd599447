package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// InMemoryKV is a process-local KV with lazy expiry.
type InMemoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ KV = (*InMemoryKV)(nil)

// NewInMemoryKV creates an empty in-memory KV.
func NewInMemoryKV() *InMemoryKV {
	return &InMemoryKV{entries: make(map[string]memoryEntry), now: time.Now}
}

// WithClock replaces the time source used for expiry.
func (kv *InMemoryKV) WithClock(now func() time.Time) *InMemoryKV {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.now = now
	return kv
}

func (kv *InMemoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !kv.now().Before(e.expiresAt) {
		delete(kv.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (kv *InMemoryKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = kv.now().Add(ttl)
	}
	kv.entries[key] = e
	return nil
}

// InMemoryLocker serializes callers per key within one process. The ttl
// argument is ignored; locks are held until released.
type InMemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

var _ Locker = (*InMemoryLocker)(nil)

func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{held: make(map[string]chan struct{})}
}

func (l *InMemoryLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}
