package facts

import (
	"hash/fnv"
	"sort"
	"sync"
)

// keyLocks is a sharded mutex table serializing same-key fact upserts
// in-process. Keys hash to shards with FNV-1a; two keys on the same shard
// contend, which is harmless, they just serialize.
type keyLocks struct {
	shards []sync.Mutex
}

func newKeyLocks(n int) *keyLocks {
	if n <= 0 {
		n = 64
	}
	return &keyLocks{shards: make([]sync.Mutex, n)}
}

func (l *keyLocks) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.shards)))
}

// lock acquires the shard for key and returns its unlock function.
func (l *keyLocks) lock(key string) func() {
	i := l.shard(key)
	l.shards[i].Lock()
	return l.shards[i].Unlock
}

// lockMany acquires the shards for all keys in ascending shard order, so two
// batches holding overlapping key sets can never deadlock. Returns the unlock
// function; shards are released in reverse order.
func (l *keyLocks) lockMany(keys []string) func() {
	seen := make(map[int]bool, len(keys))
	var shards []int
	for _, k := range keys {
		i := l.shard(k)
		if !seen[i] {
			seen[i] = true
			shards = append(shards, i)
		}
	}
	sort.Ints(shards)

	for _, i := range shards {
		l.shards[i].Lock()
	}
	return func() {
		for j := len(shards) - 1; j >= 0; j-- {
			l.shards[shards[j]].Unlock()
		}
	}
}
