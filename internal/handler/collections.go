package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"storesync/internal/adapter"
	"storesync/internal/engine"
	"storesync/internal/model"
	"storesync/internal/normalize"
	"storesync/internal/session"
	"storesync/internal/store"
)

// collectionResponse is a snapshot plus display-ready money.
type collectionResponse struct {
	store.Snapshot
	TotalDisplay string `json:"total_display"`
}

func newCollectionResponse(snap store.Snapshot) collectionResponse {
	return collectionResponse{Snapshot: snap, TotalDisplay: model.FormatCents(snap.Totals.Total)}
}

// sessionResponse describes an open session.
type sessionResponse struct {
	ID          string                              `json:"id"`
	Locale      string                              `json:"locale,omitempty"`
	Collections map[model.Kind]collectionResponse `json:"collections"`
}

func newSessionResponse(s *session.Session) sessionResponse {
	resp := sessionResponse{
		ID:          s.ID,
		Locale:      s.Locale(),
		Collections: make(map[model.Kind]collectionResponse),
	}
	for kind, snap := range s.Snapshots() {
		resp.Collections[kind] = newCollectionResponse(snap)
	}
	return resp
}

// outcomeResponse reports how an intent settled.
type outcomeResponse struct {
	Phase        engine.Phase       `json:"phase"`
	Noop         bool               `json:"noop,omitempty"`
	LimitReached bool               `json:"limit_reached,omitempty"`
	Error        *errorBody         `json:"error,omitempty"`
	Collection   collectionResponse `json:"collection"`
}

// addItemRequest is the body of POST /collections/{kind}/items. Item is a
// backend-shaped record; ItemID alone adds a bare row.
type addItemRequest struct {
	Item     normalize.Raw `json:"item,omitempty"`
	ItemID   string        `json:"item_id,omitempty"`
	Quantity int           `json:"quantity,omitempty"`
}

// handleOpenSession opens (or resumes) the caller's session.
// POST /session
func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, err := credential(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	s, err := h.sessions.Open(ctx, token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "session ready", slog.String("session_id", s.ID))
	h.writeJSON(w, http.StatusOK, newSessionResponse(s))
}

// handleCloseSession logs the caller out.
// DELETE /session
func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	token, err := credential(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	err = h.sessions.Close(r.Context(), token)
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetLocale switches the session locale and reloads every collection.
// PUT /session/locale
func (h *Handler) handleSetLocale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.currentSession(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req struct {
		Locale string `json:"locale"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Locale == "" {
		h.writeError(w, model.NewValidationError("locale", "required"))
		return
	}
	if err := s.SetLocale(ctx, req.Locale); err != nil {
		// The reload failure was already reported to the session; the
		// locale change itself stuck unless the tag was invalid.
		if errors.Is(err, model.ErrInvalidRequest) {
			h.writeError(w, err)
			return
		}
		h.logger.WarnContext(ctx, "locale reload failed", slog.String("error", err.Error()))
	}
	h.writeJSON(w, http.StatusOK, newSessionResponse(s))
}

// collection resolves the session and the {kind} path value.
func (h *Handler) collection(r *http.Request) (*session.Collection, error) {
	s, err := h.currentSession(r)
	if err != nil {
		return nil, err
	}
	return s.Collection(model.Kind(r.PathValue("kind")))
}

// handleGetCollection returns the current local state.
// GET /collections/{kind}
func (h *Handler) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	c, err := h.collection(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCollectionResponse(c.Store.Snapshot()))
}

// handleAddItem adds an item or raises the quantity of a matching row.
// POST /collections/{kind}/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.collection(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := checkQuantity(req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}

	in := engine.Intent{Op: adapter.OpAdd, ItemID: req.ItemID, Quantity: req.Quantity}
	if req.Item != nil {
		item := normalize.Item(req.Item)
		if item.ID == "" {
			item.ID = req.ItemID
		}
		in.Item = &item
		in.ItemID = item.ID
	}
	if in.ItemID == "" {
		h.writeError(w, model.NewValidationError("item_id", "required"))
		return
	}
	h.submit(w, r, c, in)
}

// handleRemoveItem removes a row.
// DELETE /collections/{kind}/items/{id}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	h.itemIntent(w, r, adapter.OpRemove)
}

// handleIncreaseItem raises a row's quantity by one.
// POST /collections/{kind}/items/{id}/increase
func (h *Handler) handleIncreaseItem(w http.ResponseWriter, r *http.Request) {
	h.itemIntent(w, r, adapter.OpIncrease)
}

// handleDecreaseItem lowers a row's quantity by one, removing it at zero.
// POST /collections/{kind}/items/{id}/decrease
func (h *Handler) handleDecreaseItem(w http.ResponseWriter, r *http.Request) {
	h.itemIntent(w, r, adapter.OpDecrease)
}

func (h *Handler) itemIntent(w http.ResponseWriter, r *http.Request, op adapter.Op) {
	c, err := h.collection(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.submit(w, r, c, engine.Intent{Op: op, ItemID: r.PathValue("id")})
}

// submit runs the intent and writes its outcome. A confirmed intent is
// 200; a request that ended before the backend answered is 202 with the
// optimistic state; rejections and rollbacks carry the error's status.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request, c *session.Collection, in engine.Intent) {
	if header := r.Header.Get(adapter.IdempotencyHeader); header != "" {
		key, err := adapter.ParseIdempotencyKey(header)
		if err != nil {
			h.writeError(w, model.NewValidationError("Idempotency-Key", err.Error()))
			return
		}
		in.IdempotencyKey = key
	}
	ctx := r.Context()
	out := c.Engine.Do(ctx, in)
	if errors.Is(out.Err, engine.ErrClosed) {
		h.writeError(w, model.NewUnauthorizedError("session closed"))
		return
	}

	h.logger.InfoContext(ctx, "intent settled",
		slog.String("collection", string(c.Kind)),
		slog.String("op", string(in.Op)),
		slog.String("item_id", in.ItemID),
		slog.String("phase", out.Phase.String()),
	)

	resp := outcomeResponse{
		Phase:        out.Phase,
		Noop:         out.Noop,
		LimitReached: out.LimitReached,
		Collection:   newCollectionResponse(out.Snapshot),
	}
	status := http.StatusOK
	switch {
	case out.Phase == engine.PhaseOptimistic:
		// The mutation keeps running; its settlement arrives on /events.
		status = http.StatusAccepted
	case out.Err != nil:
		apiErr := h.apiError(out.Err)
		resp.Error = &errorBody{Code: apiErr.Code, Message: apiErr.Message}
		status = apiErr.StatusCode
	}
	h.writeJSON(w, status, resp)
}

// handleReload re-fetches one collection from the backend.
// POST /collections/{kind}/reload
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	c, err := h.collection(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	snap, err := c.Loader.Load(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCollectionResponse(snap))
}

// handleNotifications returns the session's recent notifications, oldest first.
// GET /notifications
func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s, err := h.currentSession(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"notifications": s.Notifications().Recent(),
	})
}

// checkQuantity bounds an add amount; zero means one.
func checkQuantity(q int) error {
	switch {
	case q < 0:
		return model.NewValidationError("quantity", "must not be negative")
	case q > model.MaxQuantity:
		return model.NewValidationError("quantity", fmt.Sprintf("must be at most %d", model.MaxQuantity))
	}
	return nil
}
