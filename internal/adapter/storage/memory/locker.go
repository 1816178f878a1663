package memory

import (
	"context"
	"sync"

	"cpay-gateway/pkg/apperror"
)

// KeyLocker implements ports.SessionLocker with one mutex per key. It only
// serializes callers inside this process.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[string]*keyLock)}
}

// WithLock runs fn while holding key. It gives up when ctx is done.
func (l *KeyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		return apperror.ErrLockTimeout(ctx.Err())
	}
	defer func() { <-kl.ch }()

	return fn(ctx)
}
