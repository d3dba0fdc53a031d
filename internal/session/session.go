// Package session owns the per-user lifecycle of synchronized collections.
//
// A Session is opened for a bearer credential: it builds one backend, and
// for every configured collection a store, a sync engine and a loader, then
// loads all collections concurrently. Logout or an authorization failure
// tears everything down after in-flight mutations settle.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"storesync/internal/adapter"
	"storesync/internal/engine"
	"storesync/internal/model"
	"storesync/internal/notify"
	"storesync/internal/reconcile"
	"storesync/internal/store"
)

// ErrNoSession is returned when the credential has no open session.
var ErrNoSession = errors.New("session: not found")

// teardownTimeout bounds the background teardown after expiry.
const teardownTimeout = 30 * time.Second

// Options configures a Manager. Factory and Collections are required.
type Options struct {
	Factory     adapter.Factory
	Collections []model.Kind

	Strict        bool // Panic on collection invariant violations
	Timeout       time.Duration
	DefaultLocale string
	Logger        *slog.Logger
}

// Manager maps bearer credentials to open sessions.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.Factory == nil {
		panic("session: Factory is required")
	}
	if len(opts.Collections) == 0 {
		opts.Collections = []model.Kind{model.KindCart}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
}

// Collection bundles the components synchronizing one collection.
type Collection struct {
	Kind   model.Kind
	Store  *store.Store
	Engine *engine.Engine
	Loader *reconcile.Loader
}

// Session is one user's set of synchronized collections.
type Session struct {
	ID        string // Opaque id for logs; never the credential
	CreatedAt time.Time

	key         string
	order       []model.Kind
	collections map[model.Kind]*Collection
	notifier    *notify.Broadcaster
	logger      *slog.Logger

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Open returns the session for credential, creating it and loading every
// collection when none exists. A collection that fails to load starts
// empty and reports the failure through notifications; an authorization
// failure aborts the open.
func (m *Manager) Open(ctx context.Context, credential string) (*Session, error) {
	if credential == "" {
		return nil, model.NewUnauthorizedError("missing bearer credential")
	}
	key := credentialKey(credential)

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	backend, err := m.opts.Factory(credential)
	if err != nil {
		return nil, fmt.Errorf("creating backend: %w", err)
	}
	s := m.build(key, backend)

	if err := s.loadAll(ctx); errors.Is(err, model.ErrUnauthorized) {
		_ = s.close(ctx)
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[key]; ok {
		// Lost a race with a concurrent Open for the same credential.
		m.mu.Unlock()
		_ = s.close(ctx)
		return existing, nil
	}
	m.sessions[key] = s
	m.mu.Unlock()

	s.logger.Info("session opened", "collections", s.order)
	return s, nil
}

// Get returns the open session for credential.
func (m *Manager) Get(credential string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[credentialKey(credential)]; ok {
		return s, nil
	}
	return nil, ErrNoSession
}

// Close logs the credential out, waiting for in-flight mutations.
func (m *Manager) Close(ctx context.Context, credential string) error {
	s := m.remove(credentialKey(credential))
	if s == nil {
		return ErrNoSession
	}
	s.logger.Info("session closed")
	return s.close(ctx)
}

// Shutdown tears down every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for key, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) remove(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	delete(m.sessions, key)
	return s
}

// expire drops the session after the backend rejected its credential.
// It runs on engine and loader goroutines, so teardown happens elsewhere.
func (m *Manager) expire(s *Session, err error) {
	if m.remove(s.key) != s {
		return
	}
	s.logger.Warn("session expired", "error", err)
	s.notifier.Notify(context.Background(), notify.Notification{
		Level:   notify.LevelError,
		Op:      "session",
		Message: "Your session has expired. Please sign in again.",
		Error:   err.Error(),
	})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := s.close(ctx); err != nil {
			s.logger.Warn("session teardown incomplete", "error", err)
		}
	}()
}

func (m *Manager) build(key string, backend adapter.Backend) *Session {
	id := uuid.NewString()
	logger := m.logger.With("session_id", id)
	s := &Session{
		ID:          id,
		CreatedAt:   time.Now(),
		key:         key,
		collections: make(map[model.Kind]*Collection, len(m.opts.Collections)),
		notifier:    notify.NewBroadcaster(logger, notify.DefaultHistory),
		logger:      logger,
		done:        make(chan struct{}),
	}
	onUnauthorized := func(_ context.Context, err error) { m.expire(s, err) }

	for _, kind := range m.opts.Collections {
		st := store.New(kind, store.Options{Strict: m.opts.Strict, Logger: logger})
		loader := reconcile.New(reconcile.Options{
			Backend:        backend,
			Store:          st,
			Notifier:       s.notifier,
			OnUnauthorized: onUnauthorized,
			DefaultLocale:  m.opts.DefaultLocale,
			Timeout:        m.opts.Timeout,
			Logger:         logger,
		})
		eng := engine.New(engine.Options{
			Backend:        backend,
			Store:          st,
			Notifier:       s.notifier,
			Reconciler:     loader,
			OnUnauthorized: onUnauthorized,
			Locale:         loader.Locale,
			Timeout:        m.opts.Timeout,
			Logger:         logger,
		})
		s.order = append(s.order, kind)
		s.collections[kind] = &Collection{Kind: kind, Store: st, Engine: eng, Loader: loader}
	}
	return s
}

// Collection returns the components for kind.
func (s *Session) Collection(kind model.Kind) (*Collection, error) {
	c, ok := s.collections[kind]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("collection %q", kind))
	}
	return c, nil
}

// Kinds returns the session's collections in configuration order.
func (s *Session) Kinds() []model.Kind {
	return append([]model.Kind(nil), s.order...)
}

// Notifications returns the session's notification stream.
func (s *Session) Notifications() *notify.Broadcaster {
	return s.notifier
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshots returns the current snapshot of every collection.
func (s *Session) Snapshots() map[model.Kind]store.Snapshot {
	out := make(map[model.Kind]store.Snapshot, len(s.order))
	for _, kind := range s.order {
		out[kind] = s.collections[kind].Store.Snapshot()
	}
	return out
}

// Locale returns the session locale.
func (s *Session) Locale() string {
	if len(s.order) == 0 {
		return ""
	}
	return s.collections[s.order[0]].Loader.Locale()
}

// SetLocale switches every collection to tag and reloads them.
func (s *Session) SetLocale(ctx context.Context, tag string) error {
	if _, err := reconcile.CanonicalLocale(tag); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range s.order {
		loader := s.collections[kind].Loader
		g.Go(func() error {
			_, err := loader.SetLocale(ctx, tag)
			return err
		})
	}
	return g.Wait()
}

// Reload reconciles every collection.
func (s *Session) Reload(ctx context.Context) error {
	return s.loadAll(ctx)
}

func (s *Session) loadAll(ctx context.Context) error {
	var g errgroup.Group
	for _, kind := range s.order {
		loader := s.collections[kind].Loader
		g.Go(func() error {
			if _, err := loader.Load(ctx); err != nil {
				return fmt.Errorf("loading %s: %w", kind, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// close waits for in-flight work and releases subscribers. Safe to call
// more than once; later calls return the first result.
func (s *Session) close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, kind := range s.order {
			c := s.collections[kind]
			if err := c.Engine.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s engine: %w", kind, err))
			}
			if err := c.Loader.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s loader: %w", kind, err))
			}
			c.Store.Close()
		}
		s.notifier.Close()
		close(s.done)
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// credentialKey keeps raw bearer tokens out of the session map.
func credentialKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
