// Package policy holds the pure price and quantity rules every collection
// mutation goes through. Nothing here performs I/O or keeps state.
package policy

import (
	"fmt"

	"storesync/internal/model"
)

// Totals are the derived aggregates of a collection.
type Totals struct {
	ItemCount int   `json:"item_count"` // Sum of quantities
	Total     int64 `json:"total"`      // Sum of effective price × quantity, minor units
}

// EffectivePrice returns discountPrice when positive, else unitPrice.
func EffectivePrice(item model.Item) int64 {
	return item.EffectivePrice()
}

// ClampQuantity applies delta to current.
// Decreases floor at zero. An increase past QuantityLimit(stock) is
// rejected: current is returned unchanged with limited set, so the caller
// can report "at stock limit".
func ClampQuantity(current, delta, stock int) (qty int, limited bool) {
	if delta > 0 {
		if limit := QuantityLimit(stock); current >= limit || delta > limit-current {
			return current, true
		}
		return current + delta, false
	}
	if delta < -current {
		return 0, false
	}
	return current + delta, false
}

// QuantityLimit is the largest quantity a row with stock may hold.
func QuantityLimit(stock int) int {
	if stock > 0 && stock < model.MaxQuantity {
		return stock
	}
	return model.MaxQuantity
}

// CollectionTotals computes item count and total over items.
func CollectionTotals(items []model.Item) Totals {
	var t Totals
	for _, item := range items {
		t.ItemCount += item.Quantity
		t.Total += item.EffectivePrice() * int64(item.Quantity)
	}
	return t
}

// Validate returns an error wrapping model.ErrInvariant for the first
// violated collection invariant, or nil.
func Validate(items []model.Item) error {
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%w: item %d has no id", model.ErrInvariant, i)
		}
		if seen[item.ID] {
			return fmt.Errorf("%w: duplicate id %q", model.ErrInvariant, item.ID)
		}
		seen[item.ID] = true

		if item.Quantity <= 0 {
			return fmt.Errorf("%w: %q has quantity %d", model.ErrInvariant, item.ID, item.Quantity)
		}
		if item.Stock > 0 && item.Quantity > item.Stock {
			return fmt.Errorf("%w: %q quantity %d exceeds stock %d", model.ErrInvariant, item.ID, item.Quantity, item.Stock)
		}
		if item.UnitPrice < 0 || item.DiscountPrice < 0 {
			return fmt.Errorf("%w: %q has a negative price", model.ErrInvariant, item.ID)
		}
		if item.EffectivePrice() > item.UnitPrice {
			return fmt.Errorf("%w: %q effective price %d above unit price %d",
				model.ErrInvariant, item.ID, item.EffectivePrice(), item.UnitPrice)
		}
	}
	return nil
}

// Sanitize repairs items so Validate passes: rows without id or with a
// non-positive quantity are dropped, later duplicates are dropped, quantities
// are clamped to known stock, and discounts not below the unit price are
// cleared. Order of the surviving rows is kept.
func Sanitize(items []model.Item) []model.Item {
	out := make([]model.Item, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.ID == "" || item.Quantity <= 0 || seen[item.ID] {
			continue
		}
		seen[item.ID] = true

		if item.Stock < 0 {
			item.Stock = 0
		}
		if item.Stock > 0 && item.Quantity > item.Stock {
			item.Quantity = item.Stock
		}
		if item.UnitPrice < 0 {
			item.UnitPrice = 0
		}
		if item.DiscountPrice < 0 || item.DiscountPrice >= item.UnitPrice {
			item.DiscountPrice = 0
		}
		out = append(out, item)
	}
	return out
}
