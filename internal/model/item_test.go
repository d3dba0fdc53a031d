package model

import "testing"

func TestEffectivePrice(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want int64
	}{
		{"no discount", Item{UnitPrice: 2000}, 2000},
		{"discounted", Item{UnitPrice: 2000, DiscountPrice: 1500}, 1500},
		{"zero discount ignored", Item{UnitPrice: 2000, DiscountPrice: 0}, 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.EffectivePrice(); got != tt.want {
				t.Errorf("EffectivePrice() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEntityKeyAndMatches(t *testing.T) {
	row := Item{ID: "row-1", ProductID: "p-9"}
	if row.EntityKey() != "p-9" {
		t.Errorf("EntityKey() = %s, want p-9", row.EntityKey())
	}
	if (Item{ID: "row-2"}).EntityKey() != "row-2" {
		t.Error("EntityKey() should fall back to row id")
	}

	if !row.Matches(Item{ID: "p-9", ProductID: "p-9"}) {
		t.Error("rows sharing a product id should match")
	}
	if row.Matches(Item{ID: "row-3"}) {
		t.Error("unrelated rows should not match")
	}
}

func TestCloneItems(t *testing.T) {
	orig := []Item{{ID: "A", Quantity: 1}}
	cp := CloneItems(orig)
	cp[0].Quantity = 5
	if orig[0].Quantity != 1 {
		t.Error("CloneItems must not share backing array")
	}
	if CloneItems(nil) == nil {
		t.Error("CloneItems(nil) should return an empty, non-nil slice")
	}
}
