package adapter

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"storesync/internal/model"
)

func TestSettle(t *testing.T) {
	if _, ok := Settle(nil, model.NewUnauthorizedError("expired")).(*Failure); !ok {
		t.Error("error should settle to Failure")
	}
	if _, ok := Settle(nil, nil).(*AckOnly); !ok {
		t.Error("nil response should settle to AckOnly")
	}
	full := &FullCollection{}
	if Settle(full, nil) != full {
		t.Error("FullCollection should pass through")
	}

	typedNil := []struct {
		name string
		resp Response
	}{
		{"full collection", (*FullCollection)(nil)},
		{"ack", (*AckOnly)(nil)},
	}
	for _, tt := range typedNil {
		if _, ok := Settle(tt.resp, nil).(*AckOnly); !ok {
			t.Errorf("typed nil %s should settle to AckOnly", tt.name)
		}
	}
	f, ok := Settle((*Failure)(nil), nil).(*Failure)
	if !ok || !errors.Is(f.Err, model.ErrMalformed) {
		t.Errorf("typed nil failure = %+v, want malformed Failure", f)
	}
}

func TestFailure_Unauthorized(t *testing.T) {
	f := &Failure{Err: model.NewUnauthorizedError("expired")}
	if !f.Unauthorized() {
		t.Error("401 failure should report Unauthorized")
	}
	f = &Failure{Err: model.NewNetworkError("backend", errors.New("timeout"))}
	if f.Unauthorized() {
		t.Error("network failure should not report Unauthorized")
	}
}

func TestIdempotencyKeyRoundTrip(t *testing.T) {
	key := NewIdempotencyKey()
	if len(key) != 36 {
		t.Fatalf("key = %q, want a UUID", key)
	}

	req := httptest.NewRequest("POST", "/cart/add", nil)
	if err := SetIdempotencyKey(req, key); err != nil {
		t.Fatalf("SetIdempotencyKey: %v", err)
	}

	header := req.Header.Get(IdempotencyHeader)
	if header != `"`+key+`"` {
		t.Errorf("header = %s, want quoted sf-string", header)
	}

	got, err := ParseIdempotencyKey(header)
	if err != nil {
		t.Fatalf("ParseIdempotencyKey: %v", err)
	}
	if got != key {
		t.Errorf("parsed = %q, want %q", got, key)
	}
}

func TestSetIdempotencyKey_EmptySkipped(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	if err := SetIdempotencyKey(req, ""); err != nil {
		t.Fatal(err)
	}
	if req.Header.Get(IdempotencyHeader) != "" {
		t.Error("empty key should not set a header")
	}
}

func TestParseIdempotencyKey(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"string item", `"abc"`, "abc", false},
		{"params ignored", `"abc";kind=retry`, "abc", false},
		{"empty", "", "", true},
		{"token not string", `abc`, "", true},
		{"integer", `42`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdempotencyKey(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMockRecordsCalls(t *testing.T) {
	m := &Mock{}
	ctx := context.Background()

	if _, err := m.Fetch(ctx, FetchRequest{Collection: model.KindCart}); err != nil {
		t.Fatal(err)
	}
	resp, err := m.Mutate(ctx, Mutation{Op: OpAdd, ItemID: "A"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resp.(*AckOnly); !ok {
		t.Errorf("default Mutate = %T, want *AckOnly", resp)
	}
	if len(m.Fetches()) != 1 || len(m.Mutations()) != 1 {
		t.Errorf("recorded %d fetches, %d mutations", len(m.Fetches()), len(m.Mutations()))
	}
	if got := m.Mutations()[0].String(); got != "add /A" {
		t.Errorf("String() = %q", got)
	}
}
