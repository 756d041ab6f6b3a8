package ledger

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// keyLocks hands out one mutex per key. Mutexes are created on first use and
// kept for the life of the ledger, like the records they guard.
type keyLocks struct {
	m cmap.ConcurrentMap[string, *sync.Mutex]
}

func newKeyLocks() keyLocks {
	return keyLocks{m: cmap.New[*sync.Mutex]()}
}

// lock blocks until key is held and returns the matching unlock.
func (k keyLocks) lock(key string) func() {
	mu := k.m.Upsert(key, nil, func(exist bool, cur, _ *sync.Mutex) *sync.Mutex {
		if exist {
			return cur
		}
		return &sync.Mutex{}
	})
	mu.Lock()
	return mu.Unlock
}

func riderKey(id string) string   { return "rider:" + id }
func requestKey(id string) string { return "req:" + id }
func driverKey(id string) string  { return "driver:" + id }
