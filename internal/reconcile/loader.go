package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"storesync/internal/adapter"
	"storesync/internal/model"
	"storesync/internal/notify"
	"storesync/internal/store"
)

// DefaultTimeout bounds one fetch.
const DefaultTimeout = 10 * time.Second

// Options configures a Loader. Backend and Store are required.
type Options struct {
	Backend  adapter.Backend
	Store    *store.Store
	Notifier notify.Notifier

	// OnUnauthorized receives 401-class fetch failures. It may run on a
	// refresh goroutine and must not wait for Close.
	OnUnauthorized func(ctx context.Context, err error)

	// DefaultLocale is used until SetLocale is called. Empty sends no locale.
	DefaultLocale string

	Timeout time.Duration
	Logger  *slog.Logger
}

// Loader replaces a store's contents with the backend's collection.
type Loader struct {
	backend        adapter.Backend
	store          *store.Store
	notifier       notify.Notifier
	onUnauthorized func(ctx context.Context, err error)
	timeout        time.Duration
	logger         *slog.Logger

	group singleflight.Group

	mu         sync.Mutex
	locale     string
	closed     bool
	inflight   sync.WaitGroup
	pending    bool // A refresh was requested after the running one started
	refreshing bool

	// Fetches are numbered as they start; a result older than the last
	// applied one is discarded.
	seq     uint64
	applied uint64
}

// New creates a loader. An invalid DefaultLocale is dropped with a warning.
func New(opts Options) *Loader {
	if opts.Backend == nil || opts.Store == nil {
		panic("reconcile: Backend and Store are required")
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
	l := &Loader{
		backend:        opts.Backend,
		store:          opts.Store,
		notifier:       opts.Notifier,
		onUnauthorized: opts.OnUnauthorized,
		timeout:        opts.Timeout,
		logger:         opts.Logger.With("collection", opts.Store.Kind()),
	}
	if opts.DefaultLocale != "" {
		tag, err := CanonicalLocale(opts.DefaultLocale)
		if err != nil {
			l.logger.Warn("ignoring default locale", "locale", opts.DefaultLocale, "error", err)
		}
		l.locale = tag
	}
	return l
}

// CanonicalLocale parses a BCP 47 tag and returns its canonical form.
func CanonicalLocale(tag string) (string, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return "", model.NewValidationError("locale", fmt.Sprintf("invalid language tag %q", tag))
	}
	return t.String(), nil
}

// Locale returns the locale sent with fetches and mutations.
func (l *Loader) Locale() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locale
}

// Load fetches the collection and replaces local state. Concurrent loads
// for the same locale share one fetch. On failure local state is kept and
// a warning notification is sent.
func (l *Loader) Load(ctx context.Context) (store.Snapshot, error) {
	locale := l.Locale()
	ch := l.group.DoChan("load:"+locale, func() (any, error) {
		// Shared by every waiter, so it must outlive any single caller.
		return l.load(context.WithoutCancel(ctx), locale)
	})

	select {
	case res := <-ch:
		snap, _ := res.Val.(store.Snapshot)
		if res.Err != nil {
			return l.store.Snapshot(), res.Err
		}
		return snap, nil
	case <-ctx.Done():
		return l.store.Snapshot(), ctx.Err()
	}
}

// SetLocale switches the locale and reloads when it changed. The new
// locale is kept even if the reload fails.
func (l *Loader) SetLocale(ctx context.Context, tag string) (changed bool, err error) {
	canonical, err := CanonicalLocale(tag)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	if l.locale == canonical {
		l.mu.Unlock()
		return false, nil
	}
	l.locale = canonical
	l.mu.Unlock()

	l.logger.Info("locale changed, reloading", "locale", canonical)
	_, err = l.Load(ctx)
	return true, err
}

// Refresh schedules a background load and returns at once. The load always
// starts after the call, so it observes every mutation acknowledged before
// it. Requests made while a refresh runs collapse into one more fetch.
func (l *Loader) Refresh() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.pending = true
	if l.refreshing {
		return
	}
	l.refreshing = true
	l.inflight.Add(1)
	go l.refreshLoop()
}

func (l *Loader) refreshLoop() {
	defer l.inflight.Done()
	for {
		l.mu.Lock()
		if !l.pending || l.closed {
			l.refreshing = false
			l.mu.Unlock()
			return
		}
		l.pending = false
		locale := l.locale
		l.mu.Unlock()

		if _, err := l.load(context.Background(), locale); err != nil {
			l.logger.Warn("background refresh failed", "error", err)
		}
	}
}

// Close stops scheduling refreshes and waits for running ones.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) load(ctx context.Context, locale string) (store.Snapshot, error) {
	kind := l.store.Kind()
	start := time.Now()

	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.backend.Fetch(fetchCtx, adapter.FetchRequest{Collection: kind, Locale: locale})
	if err == nil && resp == nil {
		err = model.NewMalformedError("backend")
	}
	if err != nil {
		l.fail(ctx, kind, err)
		return store.Snapshot{}, err
	}

	l.mu.Lock()
	if seq < l.applied {
		l.mu.Unlock()
		l.logger.Debug("discarding superseded fetch", "locale", locale)
		return l.store.Snapshot(), nil
	}
	l.applied = seq
	prev := l.store.Snapshot()
	snap := l.store.Replace(resp.Items)
	l.mu.Unlock()

	diff := Compute(prev.Items, snap.Items)
	attrs := []any{
		"locale", locale,
		"items", len(snap.Items),
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"updated", len(diff.Updated),
		"duration", time.Since(start),
	}
	if diff.IsEmpty() {
		l.logger.Debug("collection reconciled", attrs...)
	} else {
		l.logger.Info("collection reconciled", attrs...)
	}
	return snap, nil
}

func (l *Loader) fail(ctx context.Context, kind model.Kind, err error) {
	l.logger.Warn("collection load failed, keeping last known state", "error", err)
	l.notifier.Notify(ctx, notify.Notification{
		Level:      notify.LevelWarning,
		Collection: kind,
		Op:         "reload",
		Message:    fmt.Sprintf("Could not refresh your %s. Showing the last known state.", kind),
		Error:      err.Error(),
	})
	if l.onUnauthorized != nil && errors.Is(err, model.ErrUnauthorized) {
		l.onUnauthorized(ctx, err)
	}
}
