// Package lock provides per-key mutual exclusion, either within one process
// or across replicas through Redis.
package lock

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// StateKey guards every state-changing operation of the engine.
const StateKey = "shield:state"

// Locker acquires exclusive ownership of a key. Acquire blocks until the key
// is free or ctx is done. The returned release func is safe to call more than
// once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "lock: acquire %s", key)
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

var _ Locker = (*Local)(nil)
