package engine

import "sync"

// keyedQueue serializes work per key in submission order. Work on
// different keys is not ordered.
type keyedQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{tails: make(map[string]chan struct{})}
}

// enqueue reserves the next slot for key. The caller waits on prev (nil
// when the key is idle) before running and calls done afterwards.
func (q *keyedQueue) enqueue(key string) (prev <-chan struct{}, done func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mine := make(chan struct{})
	if tail, ok := q.tails[key]; ok {
		prev = tail
	}
	q.tails[key] = mine

	return prev, func() {
		q.mu.Lock()
		if q.tails[key] == mine {
			delete(q.tails, key)
		}
		q.mu.Unlock()
		close(mine)
	}
}

// pending reports how many keys have queued or running work.
func (q *keyedQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
