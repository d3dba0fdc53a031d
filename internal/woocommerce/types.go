package woocommerce

// WooCartResponse represents the WooCommerce Store API cart.
// Every cart mutation endpoint answers with this shape.
type WooCartResponse struct {
	Items      []WooCartItem  `json:"items"`
	ItemsCount int            `json:"items_count"`
	Totals     WooTotals      `json:"totals"`
	Errors     []WooCartError `json:"errors,omitempty"`
}

// WooCartError is a cart-level problem reported alongside the cart.
type WooCartError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WooCartItem represents an item in cart response.
type WooCartItem struct {
	Key            string            `json:"key"` // Cart item key (not numeric ID)
	ID             int               `json:"id"`  // Product ID
	Name           string            `json:"name"`
	Quantity       int               `json:"quantity"`
	QuantityLimits WooQuantityLimits `json:"quantity_limits"`
	Prices         WooCartItemPrices `json:"prices"`
	Totals         WooCartItemTotals `json:"totals"`
	Images         []WooImage        `json:"images,omitempty"`
	Backorders     bool              `json:"backorders_allowed"`
}

// WooQuantityLimits bounds the quantity a shopper may set for a row.
// Maximum reflects remaining stock for managed-stock products.
type WooQuantityLimits struct {
	Minimum    int  `json:"minimum"`
	Maximum    int  `json:"maximum"`
	MultipleOf int  `json:"multiple_of"`
	Editable   bool `json:"editable"`
}

// WooCartItemPrices contains price info for a cart item.
type WooCartItemPrices struct {
	Price             string `json:"price"`         // Current unit price in minor units
	RegularPrice      string `json:"regular_price"` // Regular price
	SalePrice         string `json:"sale_price"`    // Sale price if on sale
	CurrencyCode      string `json:"currency_code"`
	CurrencyMinorUnit int    `json:"currency_minor_unit"`
}

// WooCartItemTotals contains totals for a cart item.
type WooCartItemTotals struct {
	LineSubtotal string `json:"line_subtotal"` // price * quantity
	LineTotal    string `json:"line_total"`    // After coupons
}

// WooTotals contains cart totals in minor units.
type WooTotals struct {
	CurrencyCode      string `json:"currency_code"`
	CurrencyMinorUnit int    `json:"currency_minor_unit"`
	TotalItems        string `json:"total_items"`
	TotalDiscount     string `json:"total_discount"`
	TotalPrice        string `json:"total_price"`
}

// WooImage represents a WooCommerce product image.
type WooImage struct {
	ID   int    `json:"id"`
	Src  string `json:"src"`
	Name string `json:"name"`
	Alt  string `json:"alt"`
}

// WooCartAddRequest adds an item to cart.
type WooCartAddRequest struct {
	ID       int `json:"id"`
	Quantity int `json:"quantity"`
}

// WooCartRemoveRequest removes a cart row.
type WooCartRemoveRequest struct {
	Key string `json:"key"`
}

// WooCartUpdateRequest sets a cart row's quantity.
type WooCartUpdateRequest struct {
	Key      string `json:"key"`
	Quantity int    `json:"quantity"`
}

// WooErrorResponse represents a WooCommerce API error.
type WooErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}
