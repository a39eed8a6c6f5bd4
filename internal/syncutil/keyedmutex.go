// Package syncutil provides locking helpers shared by the stores.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used by NewKeyedMutex when n <= 0.
const DefaultShards = 256

// KeyedMutex serializes work per key using a fixed pool of channel-based
// mutexes. Memory stays bounded however many keys are seen; keys that hash
// to the same shard share a lock.
type KeyedMutex struct {
	shards []chan struct{}
}

// NewKeyedMutex creates a mutex pool with n shards.
func NewKeyedMutex(n int) *KeyedMutex {
	if n <= 0 {
		n = DefaultShards
	}
	m := &KeyedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{} // unlocked
	}
	return m
}

// Lock acquires the lock for key. It returns the context's error if ctx is
// done first; otherwise the caller must call the returned unlock function.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	shard := m.shards[m.shardIdx(key)]
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shardIdx(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
