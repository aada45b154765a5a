package util

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// KeyedLock provides mutual exclusion per string key. Keys are hashed onto a
// fixed set of stripes, so unrelated keys rarely contend while two steps for
// the same conversation never run concurrently.
type KeyedLock struct {
	stripes []sync.Mutex
}

func NewKeyedLock(stripes int) *KeyedLock {
	if stripes <= 0 {
		stripes = 64
	}
	return &KeyedLock{stripes: make([]sync.Mutex, stripes)}
}

func (kl *KeyedLock) stripe(key string) *sync.Mutex {
	h := murmur3.Sum32([]byte(key))
	return &kl.stripes[int(h)%len(kl.stripes)]
}

func (kl *KeyedLock) Lock(key string) {
	kl.stripe(key).Lock()
}

func (kl *KeyedLock) Unlock(key string) {
	kl.stripe(key).Unlock()
}
