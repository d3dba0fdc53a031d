// Package engine runs the optimistic-apply-then-reconcile protocol for one
// collection.
//
// Each intent is applied to the local store immediately, dispatched to the
// backend, and then settled: the backend's collection replaces local state,
// a bare acknowledgement keeps the optimistic state and schedules a
// background reconcile, and a failure restores the touched row. Intents on
// the same catalog entity run one after another in submission order;
// intents on different entities run concurrently.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"storesync/internal/adapter"
	"storesync/internal/model"
	"storesync/internal/notify"
	"storesync/internal/store"
)

// DefaultTimeout bounds each remote call.
const DefaultTimeout = 10 * time.Second

// ErrClosed is returned for intents submitted after Close.
var ErrClosed = errors.New("engine: closed")

// Reconciler schedules a background refresh of the collection.
type Reconciler interface {
	Refresh()
}

// Options configures an Engine. Backend and Store are required.
type Options struct {
	Backend  adapter.Backend
	Store    *store.Store
	Notifier notify.Notifier

	// Reconciler runs after an ack-only response. Nil skips the refresh.
	Reconciler Reconciler

	// OnUnauthorized receives 401-class failures (session expiry). It runs
	// on the mutation goroutine and must not wait for Close.
	OnUnauthorized func(ctx context.Context, err error)

	// Locale returns the current locale for outgoing requests.
	Locale func() string

	Timeout time.Duration
	Logger  *slog.Logger
}

// Engine is the sync engine for one collection.
type Engine struct {
	backend        adapter.Backend
	store          *store.Store
	notifier       notify.Notifier
	reconciler     Reconciler
	onUnauthorized func(ctx context.Context, err error)
	locale         func() string
	timeout        time.Duration
	logger         *slog.Logger

	queue *keyedQueue

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Backend == nil || opts.Store == nil {
		panic("engine: Backend and Store are required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Locale == nil {
		opts.Locale = func() string { return "" }
	}
	return &Engine{
		backend:        opts.Backend,
		store:          opts.Store,
		notifier:       opts.Notifier,
		reconciler:     opts.Reconciler,
		onUnauthorized: opts.OnUnauthorized,
		locale:         opts.Locale,
		timeout:        opts.Timeout,
		logger:         opts.Logger.With("collection", opts.Store.Kind()),
		queue:          newKeyedQueue(),
	}
}

// Kind returns the collection this engine mutates.
func (e *Engine) Kind() model.Kind {
	return e.store.Kind()
}

// Submit starts the intent and returns at once. The channel receives
// exactly one Outcome. The mutation is detached from ctx cancellation;
// ctx values (request-scoped logging attributes) are kept.
func (e *Engine) Submit(ctx context.Context, in Intent) <-chan Outcome {
	out := make(chan Outcome, 1)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		out <- Outcome{Intent: in, Phase: PhaseIdle, Err: ErrClosed, Snapshot: e.store.Snapshot()}
		return out
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	prev, done := e.queue.enqueue(e.entityKey(in))
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer e.inflight.Done()
		defer done()
		if prev != nil {
			<-prev
		}
		out <- e.run(ctx, in)
	}()
	return out
}

// Do runs the intent and waits for its outcome. If ctx ends first the
// mutation keeps running and ctx.Err() is returned in the Outcome.
func (e *Engine) Do(ctx context.Context, in Intent) Outcome {
	ch := e.Submit(ctx, in)
	select {
	case o := <-ch:
		return o
	case <-ctx.Done():
		return Outcome{Intent: in, Phase: PhaseOptimistic, Err: ctx.Err(), Snapshot: e.store.Snapshot()}
	}
}

// Add inserts item, or increases an existing row by quantity.
func (e *Engine) Add(ctx context.Context, item model.Item, quantity int) Outcome {
	return e.Do(ctx, Intent{Op: adapter.OpAdd, ItemID: item.ID, Item: &item, Quantity: quantity})
}

// Remove deletes the row with id.
func (e *Engine) Remove(ctx context.Context, id string) Outcome {
	return e.Do(ctx, Intent{Op: adapter.OpRemove, ItemID: id})
}

// Increase adds one to the row's quantity.
func (e *Engine) Increase(ctx context.Context, id string) Outcome {
	return e.Do(ctx, Intent{Op: adapter.OpIncrease, ItemID: id})
}

// Decrease subtracts one from the row's quantity, removing it at zero.
func (e *Engine) Decrease(ctx context.Context, id string) Outcome {
	return e.Do(ctx, Intent{Op: adapter.OpDecrease, ItemID: id})
}

// Close stops accepting intents and waits for in-flight mutations to
// settle or ctx to end.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// entityKey picks the queue key: the row's product id when known.
func (e *Engine) entityKey(in Intent) string {
	if in.Op == adapter.OpAdd {
		cand := in.candidate()
		snap := e.store.Snapshot()
		for _, row := range snap.Items {
			if row.Matches(cand) {
				return row.EntityKey()
			}
		}
		return cand.EntityKey()
	}
	if row, i := e.store.Snapshot().Find(in.ItemID); i >= 0 {
		return row.EntityKey()
	}
	return in.ItemID
}

// run executes one intent: plan and optimistic commit, dispatch, settle.
func (e *Engine) run(ctx context.Context, in Intent) Outcome {
	kind := e.store.Kind()
	logger := e.logger.With("op", in.Op, "item_id", in.ItemID)

	var (
		p     plan
		epoch uint64
	)
	snap, err := e.store.Apply(func(cur store.Snapshot) ([]model.Item, error) {
		p = planMutation(cur, kind, in)
		epoch = cur.Epoch
		if !p.dispatches() {
			return nil, store.ErrNoChange
		}
		return p.next, nil
	})
	if err != nil && !errors.Is(err, store.ErrNoChange) {
		return Outcome{Intent: in, Phase: PhaseIdle, Err: err, Snapshot: snap}
	}

	if p.noop {
		logger.Debug("nothing to remove")
		return Outcome{Intent: in, Phase: PhaseConfirmed, Noop: true, Snapshot: snap}
	}
	if p.reject != nil {
		if p.limitReached {
			e.notifier.Notify(ctx, limitNotification(p, kind, in.Op))
		}
		logger.Debug("intent rejected", "error", p.reject)
		return Outcome{Intent: in, Phase: PhaseIdle, LimitReached: p.limitReached, Err: p.reject, Snapshot: snap}
	}

	m := p.mutation
	m.Locale = e.locale()
	m.IdempotencyKey = in.IdempotencyKey
	if m.IdempotencyKey == "" {
		m.IdempotencyKey = adapter.NewIdempotencyKey()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	resp := adapter.Settle(e.backend.Mutate(callCtx, m))
	cancel()

	phase, effects := settle(p, kind, resp)
	logger.Debug("mutation settled", "phase", phase, "idempotency_key", m.IdempotencyKey)

	var outErr error
	for _, eff := range effects {
		switch eff.kind {
		case effectReplace:
			snap = e.store.Replace(eff.items)
		case effectRestore:
			snap = e.restore(p, epoch, logger)
		case effectReconcile:
			if e.reconciler != nil {
				e.reconciler.Refresh()
			}
		case effectNotify:
			e.notifier.Notify(ctx, eff.notification)
		case effectUnauthorized:
			if e.onUnauthorized != nil {
				e.onUnauthorized(ctx, eff.err)
			}
		}
	}
	if f, ok := resp.(*adapter.Failure); ok {
		outErr = f.Err
		logger.Warn("mutation rolled back", "error", f.Err)
	}

	return Outcome{Intent: in, Phase: phase, Err: outErr, Snapshot: snap}
}

// restore rolls the touched row back unless an authoritative Replace has
// landed since the optimistic commit.
func (e *Engine) restore(p plan, epoch uint64, logger *slog.Logger) store.Snapshot {
	snap, err := e.store.Apply(func(cur store.Snapshot) ([]model.Item, error) {
		if cur.Epoch != epoch {
			return nil, store.ErrNoChange
		}
		return rollback(cur.Items, p), nil
	})
	if errors.Is(err, store.ErrNoChange) {
		logger.Debug("rollback skipped, collection was replaced")
	}
	return snap
}
