package market

import "sync"

// taskLocks serializes market operations per task ID. Concurrent operations
// on different tasks proceed independently; operations on the same task
// never interleave partially (no lost pool increments, no double
// redemption). Lock entries are retained for the life of the process —
// bounded by the number of tasks, which is also a database row each.
type taskLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for taskID, creating it on first use, and returns
// the unlock function.
func (l *taskLocks) lock(taskID string) func() {
	l.mu.Lock()
	m, ok := l.locks[taskID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[taskID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
