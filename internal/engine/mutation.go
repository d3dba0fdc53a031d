package engine

import (
	"fmt"

	"storesync/internal/adapter"
	"storesync/internal/model"
	"storesync/internal/notify"
	"storesync/internal/policy"
	"storesync/internal/store"
)

// Phase is the lifecycle state of one mutation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOptimistic
	PhaseConfirmed
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOptimistic:
		return "optimistically_applied"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseRolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Intent is a user action on a collection.
type Intent struct {
	Op     adapter.Op
	ItemID string

	// Item is the record to insert when Op is add and the row is new.
	// Without it a bare row carrying only ItemID is inserted.
	Item *model.Item

	// Quantity is the add amount; zero means 1.
	Quantity int

	// IdempotencyKey is forwarded to the backend when set, so a caller
	// retrying the same intent reuses it. Empty generates a fresh key.
	IdempotencyKey string
}

func (in Intent) amount() int {
	if in.Quantity <= 0 {
		return 1
	}
	return in.Quantity
}

// candidate is the row an add refers to.
func (in Intent) candidate() model.Item {
	if in.Item != nil {
		c := *in.Item
		if c.ID == "" {
			c.ID = in.ItemID
		}
		return c
	}
	return model.Item{ID: in.ItemID}
}

// Outcome is the settled result of an intent.
type Outcome struct {
	Intent       Intent
	Phase        Phase
	Noop         bool // Nothing to do (remove of an absent row)
	LimitReached bool // Rejected at the stock limit
	Err          error
	Snapshot     store.Snapshot
}

// plan is the pure result of applying an intent to a snapshot.
type plan struct {
	next     []model.Item
	mutation adapter.Mutation

	// Rollback data for the touched row.
	itemID    string
	prev      model.Item
	prevIndex int
	hadPrev   bool

	// Set when the intent is settled without dispatch.
	reject       error
	limitReached bool
	noop         bool
}

func (p plan) dispatches() bool {
	return p.reject == nil && !p.noop
}

// planMutation computes the optimistic next collection and the remote
// request for in. It never modifies snap.
func planMutation(snap store.Snapshot, kind model.Kind, in Intent) plan {
	items := model.CloneItems(snap.Items)

	switch in.Op {
	case adapter.OpAdd:
		return planAdd(items, kind, in)

	case adapter.OpRemove:
		i := model.IndexOf(items, in.ItemID)
		if i < 0 {
			return plan{itemID: in.ItemID, noop: true, next: items}
		}
		prev := items[i]
		return plan{
			next:      append(items[:i:i], items[i+1:]...),
			itemID:    prev.ID,
			prev:      prev,
			prevIndex: i,
			hadPrev:   true,
			mutation:  mutationFor(adapter.OpRemove, kind, prev, 0, 0),
		}

	case adapter.OpIncrease, adapter.OpDecrease:
		i := model.IndexOf(items, in.ItemID)
		if i < 0 {
			return plan{itemID: in.ItemID, reject: model.NewNotFoundError("item " + in.ItemID), next: items}
		}
		prev := items[i]
		delta := 1
		if in.Op == adapter.OpDecrease {
			delta = -1
		}
		qty, limited := policy.ClampQuantity(prev.Quantity, delta, prev.Stock)
		if limited {
			return plan{
				itemID:       prev.ID,
				reject:       model.NewStockLimitError(prev.ID, policy.QuantityLimit(prev.Stock)),
				limitReached: true,
				next:         items,
			}
		}

		p := plan{itemID: prev.ID, prev: prev, prevIndex: i, hadPrev: true}
		if qty == 0 {
			p.next = append(items[:i:i], items[i+1:]...)
		} else {
			items[i].Quantity = qty
			p.next = items
		}
		p.mutation = mutationFor(in.Op, kind, prev, 0, qty)
		return p
	}

	return plan{
		itemID: in.ItemID,
		reject: model.NewValidationError("op", fmt.Sprintf("unsupported operation %q", in.Op)),
		next:   items,
	}
}

func planAdd(items []model.Item, kind model.Kind, in Intent) plan {
	cand := in.candidate()
	amount := in.amount()
	if cand.ID == "" {
		return plan{reject: model.NewValidationError("itemId", "required"), next: items}
	}

	for i := range items {
		if !items[i].Matches(cand) {
			continue
		}
		prev := items[i]
		qty, limited := policy.ClampQuantity(prev.Quantity, amount, prev.Stock)
		if limited {
			return plan{
				itemID:       prev.ID,
				reject:       model.NewStockLimitError(prev.ID, policy.QuantityLimit(prev.Stock)),
				limitReached: true,
				next:         items,
			}
		}
		items[i].Quantity = qty
		return plan{
			next:      items,
			itemID:    prev.ID,
			prev:      prev,
			prevIndex: i,
			hadPrev:   true,
			mutation:  mutationFor(adapter.OpAdd, kind, mergeIdentity(prev, cand), amount, qty),
		}
	}

	qty, limited := policy.ClampQuantity(0, amount, cand.Stock)
	if limited {
		return plan{
			itemID:       cand.ID,
			reject:       model.NewStockLimitError(cand.ID, policy.QuantityLimit(cand.Stock)),
			limitReached: true,
			next:         items,
		}
	}
	row := cand
	row.Quantity = qty
	if row.DiscountPrice >= row.UnitPrice {
		row.DiscountPrice = 0
	}
	return plan{
		next:      append(items, row),
		itemID:    row.ID,
		prevIndex: len(items),
		mutation:  mutationFor(adapter.OpAdd, kind, row, amount, qty),
	}
}

// mergeIdentity keeps the stored row id and fills a missing product id
// from the add candidate.
func mergeIdentity(row, cand model.Item) model.Item {
	if row.ProductID == "" {
		row.ProductID = cand.ProductID
	}
	return row
}

func mutationFor(op adapter.Op, kind model.Kind, row model.Item, amount, target int) adapter.Mutation {
	return adapter.Mutation{
		Op:         op,
		Collection: kind,
		ItemID:     row.ID,
		ProductID:  row.ProductID,
		Quantity:   amount,
		Target:     target,
		Item:       row,
	}
}

// rollback restores the planned row inside items. Only that row changes:
// the previous record is put back at its old position, or an inserted row
// is removed.
func rollback(items []model.Item, p plan) []model.Item {
	items = model.CloneItems(items)
	i := model.IndexOf(items, p.itemID)

	if !p.hadPrev {
		if i < 0 {
			return items
		}
		return append(items[:i:i], items[i+1:]...)
	}

	if i >= 0 {
		items[i] = p.prev
		return items
	}
	at := p.prevIndex
	if at > len(items) {
		at = len(items)
	}
	out := make([]model.Item, 0, len(items)+1)
	out = append(out, items[:at]...)
	out = append(out, p.prev)
	return append(out, items[at:]...)
}

// effectKind enumerates what the executor may do after settlement.
type effectKind int

const (
	effectReplace effectKind = iota
	effectRestore
	effectReconcile
	effectNotify
	effectUnauthorized
)

type effect struct {
	kind         effectKind
	items        []model.Item
	notification notify.Notification
	err          error
}

// settle maps a remote response to the resulting phase and effects.
func settle(p plan, kind model.Kind, resp adapter.Response) (Phase, []effect) {
	switch r := resp.(type) {
	case *adapter.FullCollection:
		return PhaseConfirmed, []effect{{kind: effectReplace, items: r.Items}}

	case *adapter.AckOnly:
		return PhaseConfirmed, []effect{{kind: effectReconcile}}

	case *adapter.Failure:
		effects := []effect{
			{kind: effectRestore},
			{kind: effectNotify, notification: failureNotification(p, kind, r.Err)},
		}
		if r.Unauthorized() {
			effects = append(effects, effect{kind: effectUnauthorized, err: r.Err})
		}
		return PhaseRolledBack, effects
	}
	panic(fmt.Sprintf("engine: unhandled response %T", resp))
}

func failureNotification(p plan, kind model.Kind, err error) notify.Notification {
	name := p.itemID
	if p.hadPrev && p.prev.Name != "" {
		name = p.prev.Name
	} else if p.mutation.Item.Name != "" {
		name = p.mutation.Item.Name
	}
	return notify.Notification{
		Level:      notify.LevelError,
		Collection: kind,
		Op:         string(p.mutation.Op),
		ItemID:     p.itemID,
		Message:    fmt.Sprintf("Could not %s %s. Your %s was restored.", p.mutation.Op, name, kind),
		Error:      err.Error(),
	}
}

func limitNotification(p plan, kind model.Kind, op adapter.Op) notify.Notification {
	return notify.Notification{
		Level:      notify.LevelWarning,
		Collection: kind,
		Op:         string(op),
		ItemID:     p.itemID,
		Message:    "Only the available stock can be added.",
		Error:      p.reject.Error(),
	}
}
