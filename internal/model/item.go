// Package model holds the canonical collection types shared by every
// component: items, collection kinds, money helpers and errors.
package model

// Kind names a synchronized collection (cart, comparison list, ...).
type Kind string

const (
	KindCart    Kind = "cart"
	KindCompare Kind = "compare"
	KindListing Kind = "listing"
)

// MaxQuantity bounds every quantity and stock count so that totals and
// quantity arithmetic cannot overflow.
const MaxQuantity = 1_000_000

// Item is the canonical, shape-stable representation of a collection row.
// Amounts are in minor currency units (cents).
type Item struct {
	ID        string `json:"id"`                   // Collection row identity
	ProductID string `json:"product_id,omitempty"` // Catalog entity identity, may differ from ID

	Name      string `json:"name"`
	Image     string `json:"image"`
	Category  string `json:"category"`
	Condition string `json:"condition"`

	UnitPrice     int64 `json:"unit_price"`
	DiscountPrice int64 `json:"discount_price,omitempty"` // Zero means no discount

	Quantity int `json:"quantity"`
	Stock    int `json:"stock"` // Zero means unconstrained
}

// EffectivePrice is the price actually charged after discount resolution.
func (i Item) EffectivePrice() int64 {
	if i.DiscountPrice > 0 {
		return i.DiscountPrice
	}
	return i.UnitPrice
}

// EntityKey identifies the underlying catalog entity of a row.
// Mutations sharing an entity key are serialized.
func (i Item) EntityKey() string {
	if i.ProductID != "" {
		return i.ProductID
	}
	return i.ID
}

// Matches reports whether other refers to the same row or catalog entity.
func (i Item) Matches(other Item) bool {
	if i.ID != "" && i.ID == other.ID {
		return true
	}
	return i.ProductID != "" && i.ProductID == other.ProductID
}

// CloneItems returns a copy of items that shares no backing array.
func CloneItems(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// IndexOf returns the position of the row with the given id, or -1.
func IndexOf(items []Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
