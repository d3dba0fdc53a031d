// Package notify delivers user-visible, non-blocking notifications about
// collection operations (failed mutations, stock limits, stale data).
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storesync/internal/model"
)

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one message for the UI. Op names the operation that
// produced it ("add", "remove", "increase", "decrease", "reload").
type Notification struct {
	Level      Level      `json:"level"`
	Collection model.Kind `json:"collection"`
	Op         string     `json:"op"`
	ItemID     string     `json:"item_id,omitempty"`
	Message    string     `json:"message"`
	Error      string     `json:"error,omitempty"`
	Time       time.Time  `json:"time"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Discard drops every notification.
var Discard Notifier = Func(func(context.Context, Notification) {})

// DefaultHistory is the number of notifications Broadcaster keeps for Recent.
const DefaultHistory = 50

// Broadcaster logs every notification, keeps a bounded history and fans
// out to subscribers. A subscriber that is not keeping up misses messages
// rather than stalling the sender.
type Broadcaster struct {
	logger *slog.Logger

	mu      sync.Mutex
	history []Notification
	limit   int
	subs    map[int]chan Notification
	nextID  int
	closed  bool
}

// NewBroadcaster creates a Broadcaster keeping up to history entries.
func NewBroadcaster(logger *slog.Logger, history int) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if history <= 0 {
		history = DefaultHistory
	}
	return &Broadcaster{
		logger: logger,
		limit:  history,
		subs:   make(map[int]chan Notification),
	}
}

// Notify implements Notifier.
func (b *Broadcaster) Notify(ctx context.Context, n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}

	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	b.logger.Log(ctx, level, "notification",
		"collection", n.Collection,
		"op", n.Op,
		"item_id", n.ItemID,
		"message", n.Message,
		"error", n.Error,
	)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, n)
	if len(b.history) > b.limit {
		b.history = b.history[len(b.history)-b.limit:]
	}
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Recent returns the retained notifications, oldest first.
func (b *Broadcaster) Recent() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Notification, len(b.history))
	copy(out, b.history)
	return out
}

// Subscribe returns a channel of future notifications and a cancel func.
// The channel is closed by cancel or Close.
func (b *Broadcaster) Subscribe() (<-chan Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Notification, 16)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Close closes every subscriber channel. Later notifications are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
