// Package dicekey interns heterogeneous, comparable user keys into dense
// integer ids, so the rest of the engine can work with cheap-to-hash,
// cheap-to-compare KeyId values instead of arbitrary user types.
package dicekey

import (
	"fmt"
	"sync"
)

// KeyId is a dense, process-local identifier for an interned user key.
// It is valid for the lifetime of the process; ids are never reused.
type KeyId int64

// KeyIndex interns user keys of arbitrary (but comparable) type into
// KeyId values. Lookups are not lock-free: Get and the fast path of Intern
// take a shared read lock, so readers do not block each other but do wait
// for an insertion in progress; interning a never-before-seen key takes
// the exclusive write lock.
//
// Key equality follows Go's own `==` for the stored value, so callers
// must use comparable key types (as spec.md requires: "a user-defined,
// hashable identity of a computation").
type KeyIndex struct {
	mu     sync.RWMutex
	toId   map[any]KeyId
	toKey  []any // index i holds the key for KeyId(i)
}

// New creates an empty KeyIndex.
func New() *KeyIndex {
	return &KeyIndex{
		toId: make(map[any]KeyId),
	}
}

// Intern returns the KeyId for key, allocating a new one if key has not
// been seen before. Safe for concurrent use.
func (k *KeyIndex) Intern(key any) KeyId {
	k.mu.RLock()
	if id, ok := k.toId[key]; ok {
		k.mu.RUnlock()
		return id
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()

	// Another writer may have raced us between RUnlock and Lock.
	if id, ok := k.toId[key]; ok {
		return id
	}

	id := KeyId(len(k.toKey))
	k.toKey = append(k.toKey, key)
	k.toId[key] = id
	return id
}

// Get returns the original user key for id. Panics if id was never
// interned by this index, which would indicate an internal invariant
// violation (spec.md §7, category 4) -- callers never construct KeyId
// values themselves, so this can only happen from a programming error.
func (k *KeyIndex) Get(id KeyId) any {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if int(id) < 0 || int(id) >= len(k.toKey) {
		panic(fmt.Sprintf("dice: internal invariant violation: unknown KeyId %d", id))
	}
	return k.toKey[id]
}

// Len returns the number of interned keys.
func (k *KeyIndex) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.toKey)
}
