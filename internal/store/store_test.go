package store

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"storesync/internal/model"
)

func newTestStore(strict bool) *Store {
	return New(model.KindCart, Options{
		Strict: strict,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestStore_ReplaceBumpsEpochAndVersion(t *testing.T) {
	s := newTestStore(true)

	snap := s.Replace([]model.Item{{ID: "A", UnitPrice: 1000, Quantity: 1}})
	if snap.Version != 1 || snap.Epoch != 1 {
		t.Errorf("Version/Epoch = %d/%d, want 1/1", snap.Version, snap.Epoch)
	}
	if snap.Totals.ItemCount != 1 || snap.Totals.Total != 1000 {
		t.Errorf("Totals = %+v, want count 1 total 1000", snap.Totals)
	}

	snap, err := s.Apply(func(cur Snapshot) ([]model.Item, error) {
		items := cur.Items
		items[0].Quantity = 2
		return items, nil
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if snap.Version != 2 || snap.Epoch != 1 {
		t.Errorf("Version/Epoch = %d/%d, want 2/1", snap.Version, snap.Epoch)
	}
	if snap.Totals.Total != 2000 {
		t.Errorf("Total = %d, want 2000", snap.Totals.Total)
	}
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := newTestStore(true)
	s.Replace([]model.Item{{ID: "A", Quantity: 1}})

	snap := s.Snapshot()
	snap.Items[0].Quantity = 99

	if got := s.Snapshot().Items[0].Quantity; got != 1 {
		t.Errorf("store quantity = %d after mutating snapshot, want 1", got)
	}
}

func TestStore_ApplyErrorDoesNotCommit(t *testing.T) {
	s := newTestStore(true)
	s.Replace([]model.Item{{ID: "A", Quantity: 1}})

	snap, err := s.Apply(func(Snapshot) ([]model.Item, error) {
		return nil, ErrNoChange
	})
	if !errors.Is(err, ErrNoChange) {
		t.Fatalf("err = %v, want ErrNoChange", err)
	}
	if snap.Version != 1 || len(snap.Items) != 1 {
		t.Errorf("snapshot changed on aborted Apply: %+v", snap)
	}
}

func TestStore_StrictPanicsOnInvariant(t *testing.T) {
	s := newTestStore(true)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate ids in strict mode")
		}
	}()
	s.Replace([]model.Item{{ID: "A", Quantity: 1}, {ID: "A", Quantity: 1}})
}

func TestStore_ProductionSanitizes(t *testing.T) {
	s := newTestStore(false)
	snap := s.Replace([]model.Item{
		{ID: "A", Quantity: 5, Stock: 2},
		{ID: "A", Quantity: 1},
		{ID: "B", Quantity: 0},
	})

	if len(snap.Items) != 1 {
		t.Fatalf("items = %+v, want only A", snap.Items)
	}
	if snap.Items[0].Quantity != 2 {
		t.Errorf("quantity = %d, want clamped to 2", snap.Items[0].Quantity)
	}
}

func TestStore_SubscribeDeliversLatest(t *testing.T) {
	s := newTestStore(true)
	ch, cancel := s.Subscribe()
	defer cancel()

	first := <-ch
	if first.Version != 0 {
		t.Errorf("initial Version = %d, want 0", first.Version)
	}

	s.Replace([]model.Item{{ID: "A", Quantity: 1}})
	s.Replace([]model.Item{{ID: "A", Quantity: 2}})
	s.Replace([]model.Item{{ID: "A", Quantity: 3}})

	latest := <-ch
	if latest.Version != 3 || latest.Items[0].Quantity != 3 {
		t.Errorf("got Version %d quantity %d, want the newest snapshot", latest.Version, latest.Items[0].Quantity)
	}

	select {
	case extra := <-ch:
		t.Errorf("unexpected extra snapshot: %+v", extra)
	default:
	}
}

func TestStore_CloseClosesSubscribers(t *testing.T) {
	s := newTestStore(true)
	ch, _ := s.Subscribe()
	<-ch
	s.Close()

	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	late, _ := s.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}

func TestStore_ConcurrentApply(t *testing.T) {
	s := newTestStore(true)
	s.Replace([]model.Item{{ID: "A", Quantity: 1}})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Apply(func(cur Snapshot) ([]model.Item, error) {
				cur.Items[0].Quantity++
				return cur.Items, nil
			})
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.Items[0].Quantity != 51 {
		t.Errorf("quantity = %d, want 51", snap.Items[0].Quantity)
	}
	if snap.Version != 51 {
		t.Errorf("Version = %d, want 51", snap.Version)
	}
}

func TestSnapshot_Find(t *testing.T) {
	snap := Snapshot{Items: []model.Item{{ID: "A"}, {ID: "B"}}}
	if _, i := snap.Find("B"); i != 1 {
		t.Errorf("Find(B) index = %d, want 1", i)
	}
	if _, i := snap.Find("Z"); i != -1 {
		t.Errorf("Find(Z) index = %d, want -1", i)
	}
}
