package engine

import (
	"errors"
	"reflect"
	"testing"

	"storesync/internal/adapter"
	"storesync/internal/model"
	"storesync/internal/store"
)

func snapOf(items ...model.Item) store.Snapshot {
	return store.Snapshot{Kind: model.KindCart, Items: items, Epoch: 1}
}

func TestPlanMutation(t *testing.T) {
	a := model.Item{ID: "A", ProductID: "p-a", Name: "Lamp", UnitPrice: 1000, Quantity: 1}
	limited := model.Item{ID: "L", UnitPrice: 500, Quantity: 2, Stock: 2}

	tests := []struct {
		name       string
		snap       store.Snapshot
		intent     Intent
		wantNext   []model.Item
		wantOp     adapter.Op
		wantTarget int
		wantReject error
		wantLimit  bool
		wantNoop   bool
	}{
		{
			name:     "add new row",
			snap:     snapOf(),
			intent:   Intent{Op: adapter.OpAdd, ItemID: "A", Item: &a},
			wantNext: []model.Item{a},
			wantOp:   adapter.OpAdd, wantTarget: 1,
		},
		{
			name:     "add bare id",
			snap:     snapOf(),
			intent:   Intent{Op: adapter.OpAdd, ItemID: "Z", Quantity: 3},
			wantNext: []model.Item{{ID: "Z", Quantity: 3}},
			wantOp:   adapter.OpAdd, wantTarget: 3,
		},
		{
			name:     "re-add increases quantity",
			snap:     snapOf(a),
			intent:   Intent{Op: adapter.OpAdd, ItemID: "A", Quantity: 2},
			wantNext: []model.Item{{ID: "A", ProductID: "p-a", Name: "Lamp", UnitPrice: 1000, Quantity: 3}},
			wantOp:   adapter.OpAdd, wantTarget: 3,
		},
		{
			name:     "re-add by product id",
			snap:     snapOf(a),
			intent:   Intent{Op: adapter.OpAdd, ItemID: "other-row", Item: &model.Item{ID: "other-row", ProductID: "p-a"}},
			wantNext: []model.Item{{ID: "A", ProductID: "p-a", Name: "Lamp", UnitPrice: 1000, Quantity: 2}},
			wantOp:   adapter.OpAdd, wantTarget: 2,
		},
		{
			name:       "add at stock limit",
			snap:       snapOf(limited),
			intent:     Intent{Op: adapter.OpAdd, ItemID: "L"},
			wantNext:   []model.Item{limited},
			wantReject: model.ErrStockLimit, wantLimit: true,
		},
		{
			name:     "increase",
			snap:     snapOf(a),
			intent:   Intent{Op: adapter.OpIncrease, ItemID: "A"},
			wantNext: []model.Item{{ID: "A", ProductID: "p-a", Name: "Lamp", UnitPrice: 1000, Quantity: 2}},
			wantOp:   adapter.OpIncrease, wantTarget: 2,
		},
		{
			name:       "increase at stock",
			snap:       snapOf(limited),
			intent:     Intent{Op: adapter.OpIncrease, ItemID: "L"},
			wantNext:   []model.Item{limited},
			wantReject: model.ErrStockLimit, wantLimit: true,
		},
		{
			name:       "increase unknown",
			snap:       snapOf(a),
			intent:     Intent{Op: adapter.OpIncrease, ItemID: "Q"},
			wantNext:   []model.Item{a},
			wantReject: model.ErrNotFound,
		},
		{
			name:     "decrease from one removes",
			snap:     snapOf(a),
			intent:   Intent{Op: adapter.OpDecrease, ItemID: "A"},
			wantNext: []model.Item{},
			wantOp:   adapter.OpDecrease, wantTarget: 0,
		},
		{
			name:     "decrease",
			snap:     snapOf(limited),
			intent:   Intent{Op: adapter.OpDecrease, ItemID: "L"},
			wantNext: []model.Item{{ID: "L", UnitPrice: 500, Quantity: 1, Stock: 2}},
			wantOp:   adapter.OpDecrease, wantTarget: 1,
		},
		{
			name:     "remove",
			snap:     snapOf(a, limited),
			intent:   Intent{Op: adapter.OpRemove, ItemID: "A"},
			wantNext: []model.Item{limited},
			wantOp:   adapter.OpRemove,
		},
		{
			name:     "remove absent",
			snap:     snapOf(a),
			intent:   Intent{Op: adapter.OpRemove, ItemID: "Q"},
			wantNext: []model.Item{a},
			wantNoop: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := model.CloneItems(tt.snap.Items)
			p := planMutation(tt.snap, model.KindCart, tt.intent)

			if !reflect.DeepEqual(tt.snap.Items, before) {
				t.Error("planMutation modified the input snapshot")
			}
			if !reflect.DeepEqual(p.next, tt.wantNext) {
				t.Errorf("next = %+v, want %+v", p.next, tt.wantNext)
			}
			if p.noop != tt.wantNoop {
				t.Errorf("noop = %v, want %v", p.noop, tt.wantNoop)
			}
			if p.limitReached != tt.wantLimit {
				t.Errorf("limitReached = %v, want %v", p.limitReached, tt.wantLimit)
			}
			if tt.wantReject != nil {
				if !errors.Is(p.reject, tt.wantReject) {
					t.Errorf("reject = %v, want %v", p.reject, tt.wantReject)
				}
				return
			}
			if p.reject != nil {
				t.Fatalf("unexpected reject: %v", p.reject)
			}
			if tt.wantNoop {
				return
			}
			if p.mutation.Op != tt.wantOp || p.mutation.Target != tt.wantTarget {
				t.Errorf("mutation = %s target %d, want %s target %d",
					p.mutation.Op, p.mutation.Target, tt.wantOp, tt.wantTarget)
			}
		})
	}
}

func TestRollback(t *testing.T) {
	a := model.Item{ID: "A", Quantity: 1}
	b := model.Item{ID: "B", Quantity: 2}
	c := model.Item{ID: "C", Quantity: 3}

	tests := []struct {
		name  string
		start []model.Item
		in    Intent
		// concurrent is applied to the optimistic state before rollback
		concurrent func([]model.Item) []model.Item
		want       []model.Item
	}{
		{
			name:  "remove restores position",
			start: []model.Item{a, b, c},
			in:    Intent{Op: adapter.OpRemove, ItemID: "B"},
			want:  []model.Item{a, b, c},
		},
		{
			name:  "decrease to zero restores row",
			start: []model.Item{a, b},
			in:    Intent{Op: adapter.OpDecrease, ItemID: "A"},
			want:  []model.Item{a, b},
		},
		{
			name:  "add of new row is removed",
			start: []model.Item{a},
			in:    Intent{Op: adapter.OpAdd, ItemID: "B", Item: &b},
			want:  []model.Item{a},
		},
		{
			name:  "increase restores quantity only",
			start: []model.Item{a, b},
			in:    Intent{Op: adapter.OpIncrease, ItemID: "B"},
			concurrent: func(items []model.Item) []model.Item {
				items[0].Quantity = 5 // another entity changed meanwhile
				return items
			},
			want: []model.Item{{ID: "A", Quantity: 5}, b},
		},
		{
			name:  "index clamped when rows shrank",
			start: []model.Item{a, b, c},
			in:    Intent{Op: adapter.OpRemove, ItemID: "C"},
			concurrent: func(items []model.Item) []model.Item {
				return items[:1]
			},
			want: []model.Item{a, c},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := planMutation(snapOf(tt.start...), model.KindCart, tt.in)
			optimistic := p.next
			if tt.concurrent != nil {
				optimistic = tt.concurrent(model.CloneItems(optimistic))
			}
			got := rollback(optimistic, p)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("rollback = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSettle(t *testing.T) {
	p := planMutation(snapOf(model.Item{ID: "A", Name: "Lamp", Quantity: 1}), model.KindCart,
		Intent{Op: adapter.OpIncrease, ItemID: "A"})

	kinds := func(effects []effect) []effectKind {
		out := make([]effectKind, len(effects))
		for i, e := range effects {
			out[i] = e.kind
		}
		return out
	}

	tests := []struct {
		name      string
		resp      adapter.Response
		wantPhase Phase
		wantKinds []effectKind
	}{
		{"full collection", &adapter.FullCollection{Items: []model.Item{{ID: "A", Quantity: 2}}},
			PhaseConfirmed, []effectKind{effectReplace}},
		{"ack only", &adapter.AckOnly{Status: 204},
			PhaseConfirmed, []effectKind{effectReconcile}},
		{"network failure", &adapter.Failure{Err: model.NewNetworkError("backend", errors.New("timeout"))},
			PhaseRolledBack, []effectKind{effectRestore, effectNotify}},
		{"unauthorized", &adapter.Failure{Err: model.NewUnauthorizedError("expired")},
			PhaseRolledBack, []effectKind{effectRestore, effectNotify, effectUnauthorized}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase, effects := settle(p, model.KindCart, tt.resp)
			if phase != tt.wantPhase {
				t.Errorf("phase = %s, want %s", phase, tt.wantPhase)
			}
			if got := kinds(effects); !reflect.DeepEqual(got, tt.wantKinds) {
				t.Errorf("effects = %v, want %v", got, tt.wantKinds)
			}
		})
	}

	_, effects := settle(p, model.KindCart, &adapter.Failure{Err: errors.New("boom")})
	n := effects[1].notification
	if n.Op != "increase" || n.ItemID != "A" || n.Collection != model.KindCart {
		t.Errorf("notification = %+v", n)
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseRolledBack.String() != "rolled_back" {
		t.Errorf("String() = %s", PhaseRolledBack)
	}
	b, _ := PhaseConfirmed.MarshalText()
	if string(b) != "confirmed" {
		t.Errorf("MarshalText() = %s", b)
	}
}
