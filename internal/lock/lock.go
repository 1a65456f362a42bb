// Package lock provides per-key mutual exclusion for token refreshes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes work on a key. Lock blocks until the key is held or ctx ends;
// the returned func releases it and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

const defaultStripes = 256

// KeyedMutex is an in-process Locker backed by a fixed set of striped mutexes.
// Distinct keys may share a stripe; that only costs parallelism.
type KeyedMutex struct {
	stripes []chan struct{}
}

func NewKeyedMutex() *KeyedMutex {
	stripes := make([]chan struct{}, defaultStripes)
	for i := range stripes {
		stripes[i] = make(chan struct{}, 1)
	}
	return &KeyedMutex{stripes: stripes}
}

func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	stripe := m.stripes[m.index(key)]

	select {
	case stripe <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-stripe })
	}, nil
}

func (m *KeyedMutex) index(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % uint32(len(m.stripes))
}
