// Package normalize maps the loosely shaped records backends return into
// canonical model.Item values. Nothing here fails: unknown shapes degrade to
// empty strings and zero amounts.
package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"storesync/internal/model"
)

// Raw is one decoded JSON object as returned by a backend.
type Raw = map[string]any

// Field aliases, in lookup order.
var (
	rowIDKeys     = []string{"id", "_id"}
	productIDKeys = []string{"productId", "product_id"}
	nameKeys      = []string{"name", "title"}
	priceKeys     = []string{"price", "unitPrice", "unit_price"}
	discountKeys  = []string{"discountPrice", "discountedPrice", "discount_price", "discounted_price", "salePrice"}
	quantityKeys  = []string{"quantity", "qty"}
	stockKeys     = []string{"stock", "countInStock"}
)

// Item normalizes a single raw record.
//
// A nested "product" object wins over row fields for name, prices, image,
// category, condition and stock. Quantity defaults to 1 when absent or not
// numeric; an explicit quantity is kept (negative becomes 0) so batch
// normalization can drop it.
func Item(raw Raw) model.Item {
	product, productID := nestedProduct(raw)

	if productID == "" {
		productID = firstString(raw, productIDKeys)
	}
	id := firstString(raw, rowIDKeys)
	if id == "" {
		id = productID
	}

	item := model.Item{
		ID:        id,
		ProductID: productID,
		Name:      firstString(product, nameKeys),
		Image:     image(product),
		Category:  category(product),
		Condition: firstString(product, []string{"condition"}),
		UnitPrice: amount(product, priceKeys),
		Stock:     count(product, stockKeys),
	}
	discount := amount(product, discountKeys)

	if item.Name == "" {
		item.Name = firstString(raw, nameKeys)
	}
	if item.Image == "" {
		item.Image = image(raw)
	}
	if item.Category == "" {
		item.Category = category(raw)
	}
	if item.Condition == "" {
		item.Condition = firstString(raw, []string{"condition"})
	}
	if item.UnitPrice == 0 {
		item.UnitPrice = amount(raw, priceKeys)
	}
	if discount == 0 {
		discount = amount(raw, discountKeys)
	}
	if item.Stock == 0 {
		item.Stock = count(raw, stockKeys)
	}

	if item.UnitPrice < 0 {
		item.UnitPrice = 0
	}
	if discount > 0 && discount < item.UnitPrice {
		item.DiscountPrice = discount
	}
	if item.Stock < 0 {
		item.Stock = 0
	}

	item.Quantity = 1
	if q, ok := number(lookup(raw, quantityKeys)); ok {
		item.Quantity = boundedCount(q)
	}
	return item
}

// Items normalizes a batch into a collection that satisfies the store
// invariants: rows with a non-positive quantity or no identity are dropped,
// duplicate ids are merged into the first occurrence with quantities summed,
// and quantities are clamped to known stock.
func Items(rows []Raw) []model.Item {
	out := make([]model.Item, 0, len(rows))
	index := make(map[string]int, len(rows))

	for _, raw := range rows {
		item := Item(raw)
		if item.ID == "" || item.Quantity <= 0 {
			continue
		}
		if i, ok := index[item.ID]; ok {
			out[i].Quantity = min(out[i].Quantity+item.Quantity, model.MaxQuantity)
			continue
		}
		index[item.ID] = len(out)
		out = append(out, item)
	}

	for i := range out {
		if out[i].Stock > 0 && out[i].Quantity > out[i].Stock {
			out[i].Quantity = out[i].Stock
		}
	}
	return out
}

// Decode extracts the collection rows from a response body. It accepts a
// bare JSON array or an object carrying an "items" array, directly or under
// "data" or "cart". ok is false when the body holds no collection payload
// (empty, boolean, scalar, or an object without items).
func Decode(body []byte) (rows []Raw, ok bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, false
	}

	switch t := v.(type) {
	case []any:
		return objects(t), true
	case map[string]any:
		if arr, ok := t["items"].([]any); ok {
			return objects(arr), true
		}
		for _, wrapper := range []string{"data", "cart"} {
			if inner, ok := t[wrapper].(map[string]any); ok {
				if arr, ok := inner["items"].([]any); ok {
					return objects(arr), true
				}
			}
		}
	}
	return nil, false
}

func objects(arr []any) []Raw {
	rows := make([]Raw, 0, len(arr))
	for _, el := range arr {
		if obj, ok := el.(map[string]any); ok {
			rows = append(rows, obj)
		}
	}
	return rows
}

// nestedProduct returns the nested product object (if any) and its id.
// A product given as a bare id string yields only the id.
func nestedProduct(raw Raw) (Raw, string) {
	switch p := raw["product"].(type) {
	case map[string]any:
		id := firstString(p, rowIDKeys)
		if id == "" {
			id = firstString(p, productIDKeys)
		}
		return p, id
	case string:
		return nil, p
	case float64:
		return nil, strconv.FormatFloat(p, 'f', -1, 64)
	}
	return nil, ""
}

func lookup(raw Raw, keys []string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// firstString returns the first alias holding a string or number.
func firstString(raw Raw, keys []string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func image(raw Raw) string {
	if s := firstString(raw, []string{"image"}); s != "" {
		return s
	}
	if imgs, ok := raw["images"].([]any); ok && len(imgs) > 0 {
		switch first := imgs[0].(type) {
		case string:
			return first
		case map[string]any:
			return firstString(first, []string{"src", "url"})
		}
	}
	return ""
}

func category(raw Raw) string {
	switch c := raw["category"].(type) {
	case string:
		return c
	case map[string]any:
		return firstString(c, []string{"name"})
	}
	return ""
}

// amount reads a major-unit price and returns minor units.
func amount(raw Raw, keys []string) int64 {
	switch v := lookup(raw, keys).(type) {
	case float64:
		return model.CentsFromFloat(v)
	case string:
		return model.ParseCents(v)
	case json.Number:
		return model.ParseCents(v.String())
	}
	return 0
}

func count(raw Raw, keys []string) int {
	n, _ := number(lookup(raw, keys))
	return boundedCount(n)
}

// boundedCount truncates f into [0, model.MaxQuantity]. NaN counts as zero.
func boundedCount(f float64) int {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= model.MaxQuantity:
		return model.MaxQuantity
	}
	return int(f)
}

// number accepts JSON numbers and numeric strings.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
