package woocommerce

import (
	"strconv"

	"storesync/internal/model"
)

// CartToItems converts a Store API cart to canonical collection rows.
// Rows keep WooCommerce's own order.
func CartToItems(cart *WooCartResponse) []model.Item {
	if cart == nil {
		return []model.Item{}
	}
	items := make([]model.Item, 0, len(cart.Items))
	for i := range cart.Items {
		if cart.Items[i].Key == "" || cart.Items[i].Quantity <= 0 {
			continue
		}
		items = append(items, transformCartItem(&cart.Items[i]))
	}
	return items
}

// transformCartItem converts a single cart item.
// WooCommerce Store API returns prices in minor units (cents) as strings.
func transformCartItem(item *WooCartItem) model.Item {
	price := model.ParseMinorUnits(item.Prices.Price)
	regular := model.ParseMinorUnits(item.Prices.RegularPrice)
	sale := model.ParseMinorUnits(item.Prices.SalePrice)

	out := model.Item{
		ID:        item.Key,
		ProductID: strconv.Itoa(item.ID),
		Name:      item.Name,
		Image:     firstImageURL(item.Images),
		UnitPrice: price,
		Quantity:  item.Quantity,
	}

	// On sale: regular price is the unit price, sale price the discount.
	if regular > 0 && sale > 0 && sale < regular {
		out.UnitPrice = regular
		out.DiscountPrice = sale
	}

	if item.QuantityLimits.Editable && item.QuantityLimits.Maximum > 0 && !item.Backorders {
		out.Stock = item.QuantityLimits.Maximum
		if out.Quantity > out.Stock {
			out.Quantity = out.Stock
		}
	}
	return out
}

func firstImageURL(images []WooImage) string {
	if len(images) > 0 {
		return images[0].Src
	}
	return ""
}

// stockErrorCodes are Store API error codes meaning the requested quantity
// is not available.
var stockErrorCodes = map[string]bool{
	"woocommerce_rest_product_out_of_stock":           true,
	"woocommerce_rest_product_partially_out_of_stock": true,
	"woocommerce_rest_cart_insufficient_stock":        true,
	"woocommerce_rest_invalid_quantity":               true,
}

// missingItemCodes mean the referenced row or product no longer exists.
var missingItemCodes = map[string]bool{
	"woocommerce_rest_cart_invalid_key":       true,
	"woocommerce_rest_product_does_not_exist": true,
	"woocommerce_rest_invalid_product":        true,
}
