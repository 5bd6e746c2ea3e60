package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// LockManager is a process-local domain.LockManager.
type LockManager struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: map[string]time.Time{}}
}

// Acquire takes the lock for key until unlock is called or ttl passes.
func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, domain.ErrLockHeld
	}
	exp := now.Add(ttl)
	l.held[key] = exp

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key].Equal(exp) {
				delete(l.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
