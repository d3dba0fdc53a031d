package woocommerce

import (
	"encoding/json"
	"testing"

	"storesync/internal/model"
)

func TestTransformCartItem(t *testing.T) {
	tests := []struct {
		name string
		item WooCartItem
		want model.Item
	}{
		{
			name: "regular price",
			item: WooCartItem{
				Key: "k1", ID: 60, Name: "Hoodie", Quantity: 2,
				Prices: WooCartItemPrices{Price: "4500", RegularPrice: "4500", SalePrice: "4500"},
				Images: []WooImage{{Src: "https://shop.example/hoodie.jpg"}},
			},
			want: model.Item{ID: "k1", ProductID: "60", Name: "Hoodie", Image: "https://shop.example/hoodie.jpg",
				UnitPrice: 4500, Quantity: 2},
		},
		{
			name: "on sale",
			item: WooCartItem{
				Key: "k2", ID: 61, Name: "Cap", Quantity: 1,
				Prices: WooCartItemPrices{Price: "1500", RegularPrice: "2000", SalePrice: "1500"},
			},
			want: model.Item{ID: "k2", ProductID: "61", Name: "Cap", UnitPrice: 2000, DiscountPrice: 1500, Quantity: 1},
		},
		{
			name: "managed stock",
			item: WooCartItem{
				Key: "k3", ID: 62, Quantity: 5,
				Prices:         WooCartItemPrices{Price: "100"},
				QuantityLimits: WooQuantityLimits{Minimum: 1, Maximum: 3, MultipleOf: 1, Editable: true},
			},
			want: model.Item{ID: "k3", ProductID: "62", UnitPrice: 100, Quantity: 3, Stock: 3},
		},
		{
			name: "backorders leave stock unconstrained",
			item: WooCartItem{
				Key: "k4", ID: 63, Quantity: 5,
				Prices:         WooCartItemPrices{Price: "100"},
				QuantityLimits: WooQuantityLimits{Maximum: 3, Editable: true},
				Backorders:     true,
			},
			want: model.Item{ID: "k4", ProductID: "63", UnitPrice: 100, Quantity: 5},
		},
		{
			name: "non-editable row ignores limits",
			item: WooCartItem{
				Key: "k5", ID: 64, Quantity: 1,
				Prices:         WooCartItemPrices{Price: "100"},
				QuantityLimits: WooQuantityLimits{Maximum: 1, Editable: false},
			},
			want: model.Item{ID: "k5", ProductID: "64", UnitPrice: 100, Quantity: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transformCartItem(&tt.item)
			if got != tt.want {
				t.Errorf("transformCartItem() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCartToItems(t *testing.T) {
	raw := `{
		"items": [
			{"key":"a1","id":60,"name":"Hoodie","quantity":1,"prices":{"price":"4500","regular_price":"4500","sale_price":"4500"},"quantity_limits":{"minimum":1,"maximum":9999,"multiple_of":1,"editable":true}},
			{"key":"","id":61,"quantity":1},
			{"key":"b2","id":62,"name":"Socks","quantity":3,"prices":{"price":"800","regular_price":"1000","sale_price":"800"}}
		],
		"items_count": 4,
		"totals": {"currency_code":"USD","currency_minor_unit":2,"total_items":"6900","total_price":"6900"}
	}`

	var cart WooCartResponse
	if err := json.Unmarshal([]byte(raw), &cart); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	items := CartToItems(&cart)
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2 (keyless row dropped)", len(items))
	}
	if items[0].ID != "a1" || items[0].Stock != 9999 {
		t.Errorf("first = %+v", items[0])
	}
	if items[1].EffectivePrice() != 800 || items[1].UnitPrice != 1000 {
		t.Errorf("second prices = %d/%d, want 1000/800", items[1].UnitPrice, items[1].DiscountPrice)
	}

	if got := CartToItems(nil); got == nil || len(got) != 0 {
		t.Errorf("CartToItems(nil) = %v, want empty", got)
	}
}

func TestFirstImageURL(t *testing.T) {
	if got := firstImageURL(nil); got != "" {
		t.Errorf("firstImageURL(nil) = %q", got)
	}
	if got := firstImageURL([]WooImage{{Src: "a"}, {Src: "b"}}); got != "a" {
		t.Errorf("firstImageURL = %q, want a", got)
	}
}
