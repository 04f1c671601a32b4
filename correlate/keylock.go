package correlate

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// KeyLocks serializes the attach-or-create sequence per correlation key
// within a process. Keys are hashed onto a fixed set of stripes; two keys
// on the same stripe share a mutex, which is acceptable contention in
// exchange for bounded memory. Cross-process races are closed separately
// by the alert version CAS in the store.
type KeyLocks struct {
	stripes []sync.Mutex
}

// NewKeyLocks creates a striped lock set. stripes must be positive.
func NewKeyLocks(stripes int) *KeyLocks {
	if stripes < 1 {
		stripes = 1
	}
	return &KeyLocks{stripes: make([]sync.Mutex, stripes)}
}

func (k *KeyLocks) stripe(key string) *sync.Mutex {
	return &k.stripes[xxhash.Sum64String(key)%uint64(len(k.stripes))]
}

// Lock acquires the stripe for key.
func (k *KeyLocks) Lock(key string) {
	k.stripe(key).Lock()
}

// Unlock releases the stripe for key.
func (k *KeyLocks) Unlock(key string) {
	k.stripe(key).Unlock()
}
