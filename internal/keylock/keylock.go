// Package keylock serializes work per string key. Different keys never block
// each other; entries are dropped once no goroutine holds or waits on them.
package keylock

import (
	"fmt"
	"sort"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until key is free and returns its unlock func.
func (l *Locker) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// LockAll takes several keys in sorted order so overlapping callers cannot
// deadlock. Duplicates are taken once.
func (l *Locker) LockAll(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	unlocks := make([]func(), 0, len(sorted))
	for i, k := range sorted {
		if i > 0 && sorted[i-1] == k {
			continue
		}
		unlocks = append(unlocks, l.Lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Held reports how many keys currently have holders or waiters.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func BountyKey(bounty uint64) string { return fmt.Sprintf("bounty/%d", bounty) }

func ApplicationKey(bounty, app uint64) string { return fmt.Sprintf("app/%d/%d", bounty, app) }

func MilestoneKey(app, milestone uint64) string { return fmt.Sprintf("milestone/%d/%d", app, milestone) }
