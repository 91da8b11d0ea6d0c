package workspace

import (
	"context"
	"sync"

	"github.com/agentdb9/wsengine/pkg/errdefs"
)

// Locks hands out one exclusive lock per workspace id. Entries are
// reference counted and dropped once nobody holds or waits for them.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// NewLocks creates an empty lock table
func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

func (l *Locks) acquireEntry(id string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[id] = e
	}
	e.refs++
	return e
}

func (l *Locks) releaseEntry(id string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

// Lock blocks until the workspace lock is held or ctx is done
func (l *Locks) Lock(ctx context.Context, id string) (func(), error) {
	e := l.acquireEntry(id)
	select {
	case e.ch <- struct{}{}:
		return l.unlocker(id, e), nil
	case <-ctx.Done():
		l.releaseEntry(id, e)
		return nil, errdefs.FromContext("workspace.lock", "workspace:"+id, ctx.Err())
	}
}

// TryLock takes the workspace lock only if it is free
func (l *Locks) TryLock(id string) (func(), bool) {
	e := l.acquireEntry(id)
	select {
	case e.ch <- struct{}{}:
		return l.unlocker(id, e), true
	default:
		l.releaseEntry(id, e)
		return nil, false
	}
}

func (l *Locks) unlocker(id string, e *lockEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.releaseEntry(id, e)
		})
	}
}

// size reports how many ids currently have a lock entry
func (l *Locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
