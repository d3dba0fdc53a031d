// Package reconcile refreshes a local collection from its backend and
// reports what the authoritative state changed.
package reconcile

import "storesync/internal/model"

// Diff describes how a collection changed between two snapshots.
// Rows are matched by entity key (product id when known, else row id).
type Diff struct {
	Added   []model.Item // Rows in next but not prev
	Removed []model.Item // Rows in prev but not next
	Updated []Change     // Rows in both whose quantity or price changed
}

// Change records an updated row.
type Change struct {
	ID          string
	OldQuantity int
	NewQuantity int
	OldPrice    int64 // Effective price, minor units
	NewPrice    int64
}

// IsEmpty returns true if the collections hold the same rows.
func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// Compute returns the delta from prev to next. Output follows the order
// of next for additions and updates, and the order of prev for removals.
func Compute(prev, next []model.Item) Diff {
	var d Diff

	prevByKey := make(map[string]model.Item, len(prev))
	for _, item := range prev {
		prevByKey[item.EntityKey()] = item
	}
	nextKeys := make(map[string]bool, len(next))

	for _, item := range next {
		key := item.EntityKey()
		nextKeys[key] = true

		old, exists := prevByKey[key]
		if !exists {
			d.Added = append(d.Added, item)
			continue
		}
		if old.Quantity != item.Quantity || old.EffectivePrice() != item.EffectivePrice() {
			d.Updated = append(d.Updated, Change{
				ID:          item.ID,
				OldQuantity: old.Quantity,
				NewQuantity: item.Quantity,
				OldPrice:    old.EffectivePrice(),
				NewPrice:    item.EffectivePrice(),
			})
		}
	}

	for _, item := range prev {
		if !nextKeys[item.EntityKey()] {
			d.Removed = append(d.Removed, item)
		}
	}
	return d
}
