package cache

import (
	"hash/fnv"
	"sync"
)

const numShards = 16

// ShardedSet maps string keys to sets of members. Each key lives in one of
// numShards independently locked shards, so operations on different keys
// rarely contend.
type ShardedSet[T comparable] struct {
	shards [numShards]*setShard[T]
}

type setShard[T comparable] struct {
	mu    sync.RWMutex
	items map[string]map[T]struct{}
}

// NewShardedSet creates an empty set registry.
func NewShardedSet[T comparable]() *ShardedSet[T] {
	s := &ShardedSet[T]{}
	for i := 0; i < numShards; i++ {
		s.shards[i] = &setShard[T]{items: make(map[string]map[T]struct{})}
	}
	return s
}

func (s *ShardedSet[T]) shard(key string) *setShard[T] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%numShards]
}

// Add inserts member under key. It reports whether the member was new.
func (s *ShardedSet[T]) Add(key string, member T) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set, ok := sh.items[key]
	if !ok {
		set = make(map[T]struct{})
		sh.items[key] = set
	}
	if _, exists := set[member]; exists {
		return false
	}
	set[member] = struct{}{}
	return true
}

// Remove deletes member from key; the key is dropped once its set is empty.
// It reports whether the member was present.
func (s *ShardedSet[T]) Remove(key string, member T) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set, ok := sh.items[key]
	if !ok {
		return false
	}
	if _, exists := set[member]; !exists {
		return false
	}
	delete(set, member)
	if len(set) == 0 {
		delete(sh.items, key)
	}
	return true
}

// Members returns a snapshot of the members under key.
func (s *ShardedSet[T]) Members(key string) []T {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	set := sh.items[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]T, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out
}

// Count returns the number of members under key.
func (s *ShardedSet[T]) Count(key string) int {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.items[key])
}

// Has reports whether key has at least one member.
func (s *ShardedSet[T]) Has(key string) bool {
	return s.Count(key) > 0
}

// Keys returns the number of keys with at least one member.
func (s *ShardedSet[T]) Keys() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.items)
		sh.mu.RUnlock()
	}
	return total
}

// Stats provides registry statistics.
type Stats struct {
	Keys        int            `json:"keys"`
	Members     int            `json:"members"`
	ShardCounts [numShards]int `json:"shard_counts"`
}

// Stats returns per-shard key counts and totals.
func (s *ShardedSet[T]) Stats() Stats {
	var st Stats
	for i, sh := range s.shards {
		sh.mu.RLock()
		st.ShardCounts[i] = len(sh.items)
		st.Keys += len(sh.items)
		for _, set := range sh.items {
			st.Members += len(set)
		}
		sh.mu.RUnlock()
	}
	return st
}
