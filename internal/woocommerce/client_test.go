package woocommerce

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"storesync/internal/adapter"
	"storesync/internal/model"
)

// fakeStore is a minimal Store API cart: GET /cart issues nonces, mutations
// require one and answer with the cart.
type fakeStore struct {
	mu       sync.Mutex
	items    []WooCartItem
	requests []string
	bodies   []string
	status   int
	errCode  string
	rawReply string
}

func (s *fakeStore) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if got := r.Header.Get("Cart-Token"); got != "cart-tok" {
			t.Errorf("Cart-Token = %q, want cart-tok", got)
		}
		body, _ := io.ReadAll(r.Body)
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.bodies = append(s.bodies, string(body))

		if r.Method == http.MethodPost && r.Header.Get("Nonce") != "n-1" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(WooErrorResponse{Code: "woocommerce_rest_missing_nonce"})
			return
		}

		w.Header().Set("Nonce", "n-1")
		if r.Method == http.MethodPost && s.status != 0 {
			w.WriteHeader(s.status)
			json.NewEncoder(w).Encode(WooErrorResponse{Code: s.errCode, Message: "rejected"})
			return
		}
		if r.Method == http.MethodPost && s.rawReply != "" {
			w.Write([]byte(s.rawReply))
			return
		}
		json.NewEncoder(w).Encode(WooCartResponse{Items: s.items})
	})
}

func newTestClient(t *testing.T, store *fakeStore) *Client {
	t.Helper()
	server := httptest.NewServer(store.handler(t))
	t.Cleanup(server.Close)

	c, err := New(Config{StoreURL: server.URL + "/", CartToken: "cart-tok"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_RequiresStoreURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty store URL")
	}
}

func TestFetch(t *testing.T) {
	store := &fakeStore{items: []WooCartItem{
		{Key: "k1", ID: 60, Quantity: 2, Prices: WooCartItemPrices{Price: "4500"}},
	}}
	c := newTestClient(t, store)

	got, err := c.Fetch(context.Background(), adapter.FetchRequest{Collection: model.KindCart})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].ID != "k1" || got.Items[0].ProductID != "60" {
		t.Errorf("items = %+v", got.Items)
	}
	if store.requests[0] != "GET /wp-json/wc/store/v1/cart" {
		t.Errorf("request = %s", store.requests[0])
	}
}

func TestFetch_OtherCollectionRejected(t *testing.T) {
	c := newTestClient(t, &fakeStore{})
	_, err := c.Fetch(context.Background(), adapter.FetchRequest{Collection: model.KindCompare})
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestMutate_RequestMapping(t *testing.T) {
	tests := []struct {
		name     string
		mutation adapter.Mutation
		wantPath string
		wantBody string
	}{
		{"add", adapter.Mutation{Op: adapter.OpAdd, ItemID: "60", ProductID: "60", Quantity: 2},
			"/wp-json/wc/store/v1/cart/add-item", `{"id":60,"quantity":2}`},
		{"remove", adapter.Mutation{Op: adapter.OpRemove, ItemID: "k1"},
			"/wp-json/wc/store/v1/cart/remove-item", `{"key":"k1"}`},
		{"increase", adapter.Mutation{Op: adapter.OpIncrease, ItemID: "k1", Target: 3},
			"/wp-json/wc/store/v1/cart/update-item", `{"key":"k1","quantity":3}`},
		{"decrease", adapter.Mutation{Op: adapter.OpDecrease, ItemID: "k1", Target: 1},
			"/wp-json/wc/store/v1/cart/update-item", `{"key":"k1","quantity":1}`},
		{"decrease to zero", adapter.Mutation{Op: adapter.OpDecrease, ItemID: "k1", Target: 0},
			"/wp-json/wc/store/v1/cart/remove-item", `{"key":"k1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{items: []WooCartItem{{Key: "k1", ID: 60, Quantity: 1}}}
			c := newTestClient(t, store)

			tt.mutation.Collection = model.KindCart
			resp, err := c.Mutate(context.Background(), tt.mutation)
			if err != nil {
				t.Fatalf("Mutate() error = %v", err)
			}
			if _, ok := resp.(*adapter.FullCollection); !ok {
				t.Errorf("response = %T, want *adapter.FullCollection", resp)
			}

			if len(store.requests) != 2 {
				t.Fatalf("requests = %v, want nonce preflight + mutation", store.requests)
			}
			if store.requests[0] != "GET /wp-json/wc/store/v1/cart" {
				t.Errorf("preflight = %s", store.requests[0])
			}
			if store.requests[1] != "POST "+tt.wantPath {
				t.Errorf("mutation = %s, want POST %s", store.requests[1], tt.wantPath)
			}
			if store.bodies[1] != tt.wantBody+"\n" && store.bodies[1] != tt.wantBody {
				t.Errorf("body = %s, want %s", store.bodies[1], tt.wantBody)
			}
		})
	}
}

func TestMutate_AddRequiresNumericProduct(t *testing.T) {
	c := newTestClient(t, &fakeStore{})
	_, err := c.Mutate(context.Background(), adapter.Mutation{
		Op: adapter.OpAdd, Collection: model.KindCart, ItemID: "sku-abc", Quantity: 1,
	})
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestMutate_UnparseableBodyIsAck(t *testing.T) {
	store := &fakeStore{rawReply: `true`}
	c := newTestClient(t, store)

	resp, err := c.Mutate(context.Background(), adapter.Mutation{
		Op: adapter.OpRemove, Collection: model.KindCart, ItemID: "k1",
	})
	if err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}
	if _, ok := resp.(*adapter.AckOnly); !ok {
		t.Errorf("response = %T, want *adapter.AckOnly", resp)
	}
}

func TestMutate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		sentinel error
	}{
		{"out of stock", 400, "woocommerce_rest_product_out_of_stock", model.ErrStockLimit},
		{"invalid key", 409, "woocommerce_rest_cart_invalid_key", model.ErrNotFound},
		{"forbidden", 403, "woocommerce_rest_cart_token_invalid", model.ErrUnauthorized},
		{"bad request", 400, "rest_invalid_param", model.ErrInvalidRequest},
		{"rate limited", 429, "", model.ErrRateLimited},
		{"server error", 500, "internal", model.ErrUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{status: tt.status, errCode: tt.code}
			c := newTestClient(t, store)

			_, err := c.Mutate(context.Background(), adapter.Mutation{
				Op: adapter.OpIncrease, Collection: model.KindCart, ItemID: "k1", Target: 2,
			})
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("err = %v, want %v", err, tt.sentinel)
			}
		})
	}
}

func TestMutate_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, _ := New(Config{StoreURL: url, CartToken: "cart-tok"})
	_, err := c.Mutate(context.Background(), adapter.Mutation{
		Op: adapter.OpRemove, Collection: model.KindCart, ItemID: "k1",
	})
	if !errors.Is(err, model.ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}
