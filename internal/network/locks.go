package network

import (
	"sort"
	"sync"
)

// keyedLocks hands out one mutex per key. Entries are refcounted and dropped when idle.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: make(map[string]*keyedEntry)}
}

// lock acquires every non-empty key in sorted order and returns the matching unlock.
func (k *keyedLocks) lock(keys ...string) func() {
	uniq := make(map[string]struct{}, len(keys))
	sorted := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := uniq[key]; ok {
			continue
		}
		uniq[key] = struct{}{}
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)

	held := make([]*keyedEntry, 0, len(sorted))
	for _, key := range sorted {
		k.mu.Lock()
		e, ok := k.entries[key]
		if !ok {
			e = &keyedEntry{}
			k.entries[key] = e
		}
		e.refs++
		k.mu.Unlock()

		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		k.mu.Lock()
		for i, key := range sorted {
			e := held[i]
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
		}
		k.mu.Unlock()
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
