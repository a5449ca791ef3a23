package domain

import (
	"context"
	"fmt"
	"sync"
)

// Locker serialises load-mutate-save cycles per section.
type Locker interface {
	Lock(ctx context.Context, section string) (unlock func(), err error)
}

// MutexLocker is an in-process Locker keyed by section name.
type MutexLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMutexLocker constructs a MutexLocker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{slots: make(map[string]chan struct{})}
}

// Lock blocks until the section is free or ctx is done.
func (l *MutexLocker) Lock(ctx context.Context, section string) (func(), error) {
	slot := l.slot(section)
	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: section %s: %v", ErrLockTimeout, section, ctx.Err())
	}
}

func (l *MutexLocker) slot(section string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[section]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[section] = slot
	}
	return slot
}
