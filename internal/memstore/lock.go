package memstore

import (
	"context"
	"sync"
)

// LocalLock is a single-process LeaderLock.
type LocalLock struct {
	mu   sync.Mutex
	held bool
}

func (l *LocalLock) TryLock(context.Context) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
		return nil
	}, true, nil
}
