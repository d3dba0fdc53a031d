// Package store holds the local, in-memory copy of one collection.
//
// A Store is the only owner of its item list. Every commit happens under
// the store lock, is checked against the collection invariants, and is
// published to subscribers as an immutable Snapshot.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"storesync/internal/model"
	"storesync/internal/policy"
)

// ErrNoChange is returned by an Apply mutator to abort without committing.
var ErrNoChange = errors.New("store: no change")

// Snapshot is a consistent, deep-copied view of a collection.
// Version increases on every commit; Epoch only on Replace.
type Snapshot struct {
	Kind    model.Kind    `json:"kind"`
	Items   []model.Item  `json:"items"`
	Totals  policy.Totals `json:"totals"`
	Version uint64        `json:"version"`
	Epoch   uint64        `json:"epoch"`
}

// Find returns the row with the given id and its index, or -1.
func (s Snapshot) Find(id string) (model.Item, int) {
	i := model.IndexOf(s.Items, id)
	if i < 0 {
		return model.Item{}, -1
	}
	return s.Items[i], i
}

// Options configures a Store.
type Options struct {
	// Strict panics on an invariant violation instead of sanitizing.
	// Enabled outside production so bugs surface immediately.
	Strict bool
	Logger *slog.Logger
}

// Store is a single collection's local state.
type Store struct {
	kind   model.Kind
	strict bool
	logger *slog.Logger

	mu      sync.Mutex
	items   []model.Item
	version uint64
	epoch   uint64
	subs    map[int]chan Snapshot
	nextSub int
	closed  bool
}

// New creates an empty store for kind.
func New(kind model.Kind, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kind:   kind,
		strict: opts.Strict,
		logger: logger.With("collection", kind),
		items:  []model.Item{},
		subs:   make(map[int]chan Snapshot),
	}
}

// Kind returns the collection kind this store holds.
func (s *Store) Kind() model.Kind {
	return s.kind
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Replace installs items as the authoritative collection and bumps Epoch.
func (s *Store) Replace(items []model.Item) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	return s.commitLocked(items)
}

// Apply runs fn over the current snapshot and commits its result.
// fn runs under the store lock; it must not call back into the store.
// If fn returns an error nothing is committed and the error is returned
// with the unchanged snapshot. Return ErrNoChange to abort quietly.
func (s *Store) Apply(fn func(Snapshot) ([]model.Item, error)) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snapshotLocked()
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	return s.commitLocked(next), nil
}

// Subscribe returns a channel that always holds the newest snapshot.
// Intermediate snapshots may be skipped when the reader is slow. The
// current state is delivered immediately. cancel closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Close closes all subscriber channels. The store stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	items := model.CloneItems(s.items)
	return Snapshot{
		Kind:    s.kind,
		Items:   items,
		Totals:  policy.CollectionTotals(items),
		Version: s.version,
		Epoch:   s.epoch,
	}
}

func (s *Store) commitLocked(items []model.Item) Snapshot {
	items = model.CloneItems(items)
	if err := policy.Validate(items); err != nil {
		if s.strict {
			panic(fmt.Sprintf("store %s: %v", s.kind, err))
		}
		s.logger.Warn("sanitizing collection", "error", err)
		items = policy.Sanitize(items)
	}

	s.items = items
	s.version++
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		// Keep only the newest snapshot in each buffer.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	return snap
}
