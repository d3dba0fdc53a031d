// Package woocommerce implements adapter.Backend for the WooCommerce Store
// API cart. The session credential is the Store API Cart-Token.
package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storesync/internal/adapter"
	"storesync/internal/model"
)

// =============================================================================
// NONCE AUTHENTICATION STRATEGY
// =============================================================================
//
// The Store API requires a "nonce" for every cart mutation. Before each
// mutation we GET /cart to obtain a fresh nonce and use it immediately:
//
//   add:      GET /cart → POST /cart/add-item      (2 calls)
//   remove:   GET /cart → POST /cart/remove-item   (2 calls)
//   inc/dec:  GET /cart → POST /cart/update-item   (2 calls)
//   fetch:    GET /cart                            (1 call, no mutation)
//
// The client stays stateless and the nonce is always valid, at the cost of
// one extra round trip per mutation.
// =============================================================================

const storeAPIPath = "/wp-json/wc/store/v1"

const serviceName = "WooCommerce"

const userAgent = "storesync/1.0"

// Config configures a Client.
type Config struct {
	StoreURL  string
	CartToken string // Session credential
	Transport http.RoundTripper
	Timeout   time.Duration
}

// Client is a Store API cart backend bound to one cart token.
type Client struct {
	httpClient *http.Client
	storeURL   string
	cartToken  string
}

// New creates a WooCommerce cart client.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		storeURL:  strings.TrimSuffix(cfg.StoreURL, "/"),
		cartToken: cfg.CartToken,
	}, nil
}

// Fetch implements adapter.Backend. Only the cart collection exists here.
func (c *Client) Fetch(ctx context.Context, req adapter.FetchRequest) (*adapter.FullCollection, error) {
	if req.Collection != model.KindCart {
		return nil, model.NewValidationError("collection", fmt.Sprintf("%s is not served by WooCommerce", req.Collection))
	}
	cart, err := c.getCart(ctx, req.Locale)
	if err != nil {
		return nil, err
	}
	return &adapter.FullCollection{Items: CartToItems(cart)}, nil
}

// Mutate implements adapter.Backend. Every Store API cart endpoint answers
// with the full cart, so a parseable body yields FullCollection.
func (c *Client) Mutate(ctx context.Context, m adapter.Mutation) (adapter.Response, error) {
	if m.Collection != model.KindCart {
		return nil, model.NewValidationError("collection", fmt.Sprintf("%s is not served by WooCommerce", m.Collection))
	}

	path, body, err := mutationRequest(m)
	if err != nil {
		return nil, err
	}

	nonce, err := c.fetchNonce(ctx)
	if err != nil {
		return nil, err
	}

	status, respBody, err := c.post(ctx, path, body, nonce, m.Locale)
	if err != nil {
		return nil, err
	}

	var cart WooCartResponse
	if err := json.Unmarshal(respBody, &cart); err != nil || cart.Items == nil {
		return &adapter.AckOnly{Status: status}, nil
	}
	return &adapter.FullCollection{Items: CartToItems(&cart)}, nil
}

// mutationRequest maps a mutation to its Store API endpoint and body.
// Increase and decrease set the row's new quantity; a decrease to zero
// removes the row.
func mutationRequest(m adapter.Mutation) (string, any, error) {
	switch m.Op {
	case adapter.OpAdd:
		idStr := m.ProductID
		if idStr == "" {
			idStr = m.ItemID
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return "", nil, model.NewValidationError("product id", fmt.Sprintf("%q is not a WooCommerce product id", idStr))
		}
		qty := m.Quantity
		if qty <= 0 {
			qty = 1
		}
		return "/cart/add-item", WooCartAddRequest{ID: id, Quantity: qty}, nil
	case adapter.OpRemove:
		return "/cart/remove-item", WooCartRemoveRequest{Key: m.ItemID}, nil
	case adapter.OpIncrease, adapter.OpDecrease:
		if m.Target <= 0 {
			return "/cart/remove-item", WooCartRemoveRequest{Key: m.ItemID}, nil
		}
		return "/cart/update-item", WooCartUpdateRequest{Key: m.ItemID, Quantity: m.Target}, nil
	}
	return "", nil, model.NewValidationError("op", fmt.Sprintf("unsupported operation %q", m.Op))
}

// fetchNonce obtains a fresh Store API nonce via GET /cart.
func (c *Client) fetchNonce(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.storeURL+storeAPIPath+"/cart", nil)
	if err != nil {
		return "", fmt.Errorf("creating nonce request: %w", err)
	}
	c.setStoreAPIHeaders(req, "", "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", model.NewNetworkError(serviceName, err)
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return "", c.parseErrorResponse(resp.StatusCode, body)
	}

	nonce := resp.Header.Get("Nonce")
	if nonce == "" {
		return "", model.NewUpstreamError(serviceName,
			fmt.Errorf("no nonce returned from Store API"))
	}
	return nonce, nil
}

// getCart fetches current cart state.
func (c *Client) getCart(ctx context.Context, locale string) (*WooCartResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.storeURL+storeAPIPath+"/cart", nil)
	if err != nil {
		return nil, fmt.Errorf("creating cart request: %w", err)
	}
	c.setStoreAPIHeaders(req, "", locale)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewNetworkError(serviceName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewNetworkError(serviceName, fmt.Errorf("reading cart response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, c.parseErrorResponse(resp.StatusCode, body)
	}

	var cart WooCartResponse
	if err := json.Unmarshal(body, &cart); err != nil || cart.Items == nil {
		return nil, model.NewMalformedError(serviceName)
	}
	return &cart, nil
}

// post sends a cart mutation and returns the 2xx status and body.
func (c *Client) post(ctx context.Context, path string, payload any, nonce, locale string) (int, []byte, error) {
	bodyJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshaling %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.storeURL+storeAPIPath+path, bytes.NewReader(bodyJSON))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	c.setStoreAPIHeaders(req, nonce, locale)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, model.NewNetworkError(serviceName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, model.NewNetworkError(serviceName, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return 0, nil, c.parseErrorResponse(resp.StatusCode, body)
	}
	return resp.StatusCode, body, nil
}

// setStoreAPIHeaders sets the standard Store API headers.
func (c *Client) setStoreAPIHeaders(req *http.Request, nonce, locale string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if c.cartToken != "" {
		req.Header.Set("Cart-Token", c.cartToken)
	}
	if nonce != "" {
		req.Header.Set("Nonce", nonce)
	}
	if locale != "" {
		req.Header.Set("Accept-Language", locale)
	}
}

// parseErrorResponse converts WooCommerce error to APIError.
func (c *Client) parseErrorResponse(statusCode int, body []byte) error {
	var wcErr WooErrorResponse
	json.Unmarshal(body, &wcErr) // Best effort parse

	if stockErrorCodes[wcErr.Code] {
		return &model.APIError{
			Code:       "STOCK_LIMIT",
			Message:    wcErr.Message,
			StatusCode: 409,
			Err:        model.ErrStockLimit,
		}
	}
	if missingItemCodes[wcErr.Code] {
		return model.NewNotFoundError("cart item")
	}

	switch statusCode {
	case 404:
		return model.NewNotFoundError("cart item")
	case 401, 403:
		return model.NewUnauthorizedError("WooCommerce rejected the cart token")
	case 400:
		msg := wcErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case 429:
		return model.NewRateLimitError(serviceName)
	default:
		return model.NewUpstreamError(serviceName,
			fmt.Errorf("status %d: %s - %s", statusCode, wcErr.Code, wcErr.Message))
	}
}

// Verify Client implements Backend interface at compile time.
var _ adapter.Backend = (*Client)(nil)
