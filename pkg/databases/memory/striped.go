package memory

import (
	"sync"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

const shardCount = 32

type key interface {
	~uint16 | ~uint32
}

type shard[K key, V any] struct {
	mu    sync.Mutex
	items map[K]V
}

// striped is a map split into shardCount independently locked shards.
type striped[K key, V interface{ Equal(V) bool }] struct {
	shards [shardCount]shard[K, V]
}

func newStriped[K key, V interface{ Equal(V) bool }]() *striped[K, V] {
	s := &striped[K, V]{}
	for i := range s.shards {
		s.shards[i].items = make(map[K]V)
	}
	return s
}

func (s *striped[K, V]) shard(k K) *shard[K, V] {
	return &s.shards[uint32(k)%shardCount]
}

// get returns a copy of the value stored under k, or nil.
func (s *striped[K, V]) get(k K) *V {
	sh := s.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	v, ok := sh.items[k]
	if !ok {
		return nil
	}
	return &v
}

func (s *striped[K, V]) compareAndSwap(k K, expected *V, next V) error {
	sh := s.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, ok := sh.items[k]
	switch {
	case expected == nil && ok:
		return ledger.ErrCASConflict
	case expected != nil && (!ok || !current.Equal(*expected)):
		return ledger.ErrCASConflict
	}
	sh.items[k] = next
	return nil
}

func (s *striped[K, V]) values() []V {
	var out []V
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, v := range sh.items {
			out = append(out, v)
		}
		sh.mu.Unlock()
	}
	return out
}
