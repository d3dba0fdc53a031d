package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBroadcaster_RecentIsBounded(t *testing.T) {
	b := NewBroadcaster(testLogger(), 3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Notify(context.Background(), Notification{Level: LevelError, Message: msg})
	}

	recent := b.Recent()
	if len(recent) != 3 {
		t.Fatalf("len(Recent()) = %d, want 3", len(recent))
	}
	if recent[0].Message != "b" || recent[2].Message != "d" {
		t.Errorf("Recent() = %v, want b..d", recent)
	}
	if recent[0].Time.IsZero() {
		t.Error("Notify should stamp Time")
	}
}

func TestBroadcaster_Subscribe(t *testing.T) {
	b := NewBroadcaster(testLogger(), 0)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Notify(context.Background(), Notification{Op: "add", Message: "failed"})

	select {
	case n := <-ch:
		if n.Op != "add" {
			t.Errorf("Op = %q, want add", n.Op)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive notification")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	cancel() // second cancel is a no-op
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(testLogger(), 0)
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Notify(context.Background(), Notification{Message: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full subscriber")
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(testLogger(), 0)
	ch, _ := b.Subscribe()
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}

	b.Notify(context.Background(), Notification{Message: "late"})
	if len(b.Recent()) != 0 {
		t.Error("notifications after Close should be dropped")
	}

	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}

func TestFunc(t *testing.T) {
	var got Notification
	var n Notifier = Func(func(_ context.Context, n Notification) { got = n })
	n.Notify(context.Background(), Notification{ItemID: "A"})
	if got.ItemID != "A" {
		t.Errorf("ItemID = %q, want A", got.ItemID)
	}
	Discard.Notify(context.Background(), Notification{})
}
