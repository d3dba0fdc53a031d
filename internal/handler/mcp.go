// MCP transport handler using the official MCP Go SDK.
// Exposes collection reads and intents as MCP tools bound to the caller's
// bearer credential.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storesync/internal/adapter"
	"storesync/internal/engine"
	"storesync/internal/middleware"
	"storesync/internal/model"
	"storesync/internal/normalize"
	"storesync/internal/notify"
	"storesync/internal/session"
	"storesync/internal/store"
)

// === MCP Tool Input/Output Types ===

// CollectionInput names the collection a tool acts on.
type CollectionInput struct {
	Collection string `json:"collection,omitempty" jsonschema:"collection kind (cart, compare or listing); defaults to cart"`
}

// ItemInput targets one row of a collection.
type ItemInput struct {
	Collection string `json:"collection,omitempty" jsonschema:"collection kind; defaults to cart"`
	ItemID     string `json:"item_id" jsonschema:"id of the row"`
}

// AddItemInput is the input schema for the add_item tool.
type AddItemInput struct {
	Collection string        `json:"collection,omitempty" jsonschema:"collection kind; defaults to cart"`
	ItemID     string        `json:"item_id,omitempty" jsonschema:"id of the item to add"`
	Item       normalize.Raw `json:"item,omitempty" jsonschema:"full item record as returned by the store"`
	Quantity   int           `json:"quantity,omitempty" jsonschema:"amount to add; defaults to 1"`
}

// SetLocaleInput is the input schema for the set_locale tool.
type SetLocaleInput struct {
	Locale string `json:"locale" jsonschema:"BCP 47 language tag such as en or fr-FR"`
}

// CollectionOutput is a collection snapshot.
type CollectionOutput struct {
	Kind         model.Kind   `json:"kind"`
	Items        []model.Item `json:"items"`
	ItemCount    int          `json:"item_count"`
	Total        int64        `json:"total"`
	TotalDisplay string       `json:"total_display"`
	Version      uint64       `json:"version"`
}

// IntentOutput reports how an intent settled.
type IntentOutput struct {
	Phase        string           `json:"phase"`
	Noop         bool             `json:"noop,omitempty"`
	LimitReached bool             `json:"limit_reached,omitempty"`
	Error        string           `json:"error,omitempty"`
	Collection   CollectionOutput `json:"collection"`
}

// LocaleOutput is the result of set_locale.
type LocaleOutput struct {
	Locale      string             `json:"locale"`
	Collections []CollectionOutput `json:"collections"`
}

// NotificationsOutput is the result of recent_notifications.
type NotificationsOutput struct {
	Notifications []notify.Notification `json:"notifications"`
}

// NewMCPServer creates an MCP server whose tools act on the session of
// credential. The session is opened on first use.
func (h *Handler) NewMCPServer(credential string) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storesyncd",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront collections (cart, compare list, listing). " +
				"Use these tools to read a collection and to add, remove, increase or decrease items. " +
				"Mutations report the phase they settled in: confirmed or rolled_back.",
		},
	)
	t := &mcpTools{h: h, credential: credential}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_collection",
		Description: "Get the current items and totals of a collection.",
	}, t.getCollection)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_item",
		Description: "Add an item to a collection. Adding an item already present increases its quantity.",
	}, t.addItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_item",
		Description: "Remove an item from a collection.",
	}, t.remove)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "increase_item",
		Description: "Increase an item's quantity by one, up to the available stock.",
	}, t.increase)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "decrease_item",
		Description: "Decrease an item's quantity by one. At zero the item is removed.",
	}, t.decrease)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reload_collection",
		Description: "Reload a collection from the store, discarding local state.",
	}, t.reload)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_locale",
		Description: "Switch the session language and reload every collection.",
	}, t.setLocale)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "recent_notifications",
		Description: "List recent notifications such as rollbacks and stock limits, oldest first.",
	}, t.notifications)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux. Each request gets a server bound to its
// Authorization bearer, so the transport runs stateless.
func (h *Handler) NewMCPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			token, _ := middleware.Bearer(r)
			return h.NewMCPServer(token)
		},
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
}

// mcpTools implements the tool handlers for one credential.
type mcpTools struct {
	h          *Handler
	credential string
}

func (t *mcpTools) session(ctx context.Context) (*session.Session, error) {
	if t.credential == "" {
		return nil, t.h.mcpError(model.NewUnauthorizedError("bearer token required"))
	}
	s, err := t.h.sessions.Open(ctx, t.credential)
	if err != nil {
		return nil, t.h.mcpError(err)
	}
	return s, nil
}

func (t *mcpTools) collection(ctx context.Context, kind string) (*session.Collection, error) {
	s, err := t.session(ctx)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		kind = string(model.KindCart)
	}
	c, err := s.Collection(model.Kind(kind))
	if err != nil {
		return nil, t.h.mcpError(err)
	}
	return c, nil
}

// === Tool Handlers ===

func (t *mcpTools) getCollection(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input CollectionInput,
) (*mcp.CallToolResult, CollectionOutput, error) {
	c, err := t.collection(ctx, input.Collection)
	if err != nil {
		return nil, CollectionOutput{}, err
	}
	return nil, collectionOutput(c.Store.Snapshot()), nil
}

func (t *mcpTools) addItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddItemInput,
) (*mcp.CallToolResult, IntentOutput, error) {
	c, err := t.collection(ctx, input.Collection)
	if err != nil {
		return nil, IntentOutput{}, err
	}
	if err := checkQuantity(input.Quantity); err != nil {
		return nil, IntentOutput{}, t.h.mcpError(err)
	}
	in := engine.Intent{Op: adapter.OpAdd, ItemID: input.ItemID, Quantity: input.Quantity}
	if input.Item != nil {
		item := normalize.Item(input.Item)
		if item.ID == "" {
			item.ID = input.ItemID
		}
		in.Item = &item
		in.ItemID = item.ID
	}
	if in.ItemID == "" {
		return nil, IntentOutput{}, fmt.Errorf("item_id is required")
	}
	return t.run(ctx, c, in)
}

func (t *mcpTools) remove(ctx context.Context, req *mcp.CallToolRequest, input ItemInput) (*mcp.CallToolResult, IntentOutput, error) {
	return t.itemIntent(ctx, input, adapter.OpRemove)
}

func (t *mcpTools) increase(ctx context.Context, req *mcp.CallToolRequest, input ItemInput) (*mcp.CallToolResult, IntentOutput, error) {
	return t.itemIntent(ctx, input, adapter.OpIncrease)
}

func (t *mcpTools) decrease(ctx context.Context, req *mcp.CallToolRequest, input ItemInput) (*mcp.CallToolResult, IntentOutput, error) {
	return t.itemIntent(ctx, input, adapter.OpDecrease)
}

func (t *mcpTools) itemIntent(ctx context.Context, input ItemInput, op adapter.Op) (*mcp.CallToolResult, IntentOutput, error) {
	if input.ItemID == "" {
		return nil, IntentOutput{}, fmt.Errorf("item_id is required")
	}
	c, err := t.collection(ctx, input.Collection)
	if err != nil {
		return nil, IntentOutput{}, err
	}
	return t.run(ctx, c, engine.Intent{Op: op, ItemID: input.ItemID})
}

// run submits the intent. A rolled back intent is a result, not a tool
// error: the restored collection is part of the answer.
func (t *mcpTools) run(ctx context.Context, c *session.Collection, in engine.Intent) (*mcp.CallToolResult, IntentOutput, error) {
	out := c.Engine.Do(ctx, in)
	if errors.Is(out.Err, engine.ErrClosed) {
		return nil, IntentOutput{}, t.h.mcpError(model.NewUnauthorizedError("session closed"))
	}
	res := IntentOutput{
		Phase:        out.Phase.String(),
		Noop:         out.Noop,
		LimitReached: out.LimitReached,
		Collection:   collectionOutput(out.Snapshot),
	}
	if out.Err != nil && out.Phase != engine.PhaseOptimistic {
		res.Error = t.h.mcpError(out.Err).Error()
	}
	return nil, res, nil
}

func (t *mcpTools) reload(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input CollectionInput,
) (*mcp.CallToolResult, CollectionOutput, error) {
	c, err := t.collection(ctx, input.Collection)
	if err != nil {
		return nil, CollectionOutput{}, err
	}
	snap, err := c.Loader.Load(ctx)
	if err != nil {
		return nil, CollectionOutput{}, t.h.mcpError(err)
	}
	return nil, collectionOutput(snap), nil
}

func (t *mcpTools) setLocale(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetLocaleInput,
) (*mcp.CallToolResult, LocaleOutput, error) {
	s, err := t.session(ctx)
	if err != nil {
		return nil, LocaleOutput{}, err
	}
	if err := s.SetLocale(ctx, input.Locale); errors.Is(err, model.ErrInvalidRequest) {
		return nil, LocaleOutput{}, t.h.mcpError(err)
	}
	out := LocaleOutput{Locale: s.Locale()}
	snaps := s.Snapshots()
	for _, kind := range s.Kinds() {
		out.Collections = append(out.Collections, collectionOutput(snaps[kind]))
	}
	return nil, out, nil
}

func (t *mcpTools) notifications(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input struct{},
) (*mcp.CallToolResult, NotificationsOutput, error) {
	s, err := t.session(ctx)
	if err != nil {
		return nil, NotificationsOutput{}, err
	}
	return nil, NotificationsOutput{Notifications: s.Notifications().Recent()}, nil
}

func collectionOutput(snap store.Snapshot) CollectionOutput {
	return CollectionOutput{
		Kind:         snap.Kind,
		Items:        snap.Items,
		ItemCount:    snap.Totals.ItemCount,
		Total:        snap.Totals.Total,
		TotalDisplay: model.FormatCents(snap.Totals.Total),
		Version:      snap.Version,
	}
}

// mcpError converts errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
