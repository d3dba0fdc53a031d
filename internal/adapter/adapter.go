// Package adapter defines the interface for remote collection backends.
// Adapters translate platform-specific APIs into canonical items and the
// three-way response variant the sync engine settles on.
package adapter

import (
	"context"
	"fmt"

	"storesync/internal/model"
)

// Op is a remote mutation operation.
type Op string

const (
	OpAdd      Op = "add"
	OpRemove   Op = "remove"
	OpIncrease Op = "increase"
	OpDecrease Op = "decrease"
)

// FeatureIdempotencyKey is the backend profile feature that enables the
// Idempotency-Key request header.
const FeatureIdempotencyKey = "idempotency-key"

// Backend abstracts one remote store holding a session's collections.
// Each platform (generic REST, WooCommerce) provides its own implementation,
// bound to a single session credential.
//
// Implementations never retry. A returned error is always an *model.APIError
// wrapping one of the model sentinels.
type Backend interface {
	// Fetch returns the authoritative collection. A 2xx response without a
	// recognizable collection payload is an ErrMalformed error.
	Fetch(ctx context.Context, req FetchRequest) (*FullCollection, error)

	// Mutate performs one mutation. A 2xx response yields FullCollection when
	// the body carries the collection and AckOnly otherwise.
	Mutate(ctx context.Context, m Mutation) (Response, error)
}

// Factory creates a Backend bound to a session's bearer credential.
type Factory func(credential string) (Backend, error)

// FetchRequest identifies the collection to load.
type FetchRequest struct {
	Collection model.Kind
	Locale     string
}

// Mutation is the request the engine dispatches after an optimistic apply.
type Mutation struct {
	Op         Op
	Collection model.Kind
	ItemID     string // Row id
	ProductID  string // Catalog id, when known
	Quantity   int    // Add amount
	Target     int    // Row quantity after the optimistic apply (0 = removed)
	Item       model.Item
	Locale     string

	// IdempotencyKey is sent only when the backend advertises support.
	IdempotencyKey string
}

func (m Mutation) String() string {
	return fmt.Sprintf("%s %s/%s", m.Op, m.Collection, m.ItemID)
}

// Capabilities reports optional backend features from its profile.
type Capabilities interface {
	Supports(ctx context.Context, feature string) bool
}

// NoCapabilities advertises nothing.
type NoCapabilities struct{}

func (NoCapabilities) Supports(context.Context, string) bool { return false }
