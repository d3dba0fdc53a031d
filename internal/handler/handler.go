// Package handler provides the storesyncd HTTP API: session lifecycle,
// collection reads and mutations, an event stream and MCP tools.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"storesync/internal/middleware"
	"storesync/internal/model"
	"storesync/internal/session"
)

// DefaultHeartbeat is the idle interval between event stream keep-alives.
const DefaultHeartbeat = 15 * time.Second

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sessions  *session.Manager
	logger    *slog.Logger
	heartbeat time.Duration
}

// New creates a new Handler serving sessions from the given manager.
func New(sessions *session.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		logger:    logger,
		heartbeat: DefaultHeartbeat,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Session lifecycle
	mux.HandleFunc("POST /session", h.handleOpenSession)
	mux.HandleFunc("DELETE /session", h.handleCloseSession)
	mux.HandleFunc("PUT /session/locale", h.handleSetLocale)

	// Collections
	mux.HandleFunc("GET /collections/{kind}", h.handleGetCollection)
	mux.HandleFunc("POST /collections/{kind}/items", h.handleAddItem)
	mux.HandleFunc("DELETE /collections/{kind}/items/{id}", h.handleRemoveItem)
	mux.HandleFunc("POST /collections/{kind}/items/{id}/increase", h.handleIncreaseItem)
	mux.HandleFunc("POST /collections/{kind}/items/{id}/decrease", h.handleDecreaseItem)
	mux.HandleFunc("POST /collections/{kind}/reload", h.handleReload)

	// Push and history
	mux.HandleFunc("GET /events", h.handleEvents)
	mux.HandleFunc("GET /notifications", h.handleNotifications)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleHealth reports liveness.
// GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.sessions.Len(),
	})
}

// credential returns the request's bearer token or an unauthorized error.
func credential(r *http.Request) (string, error) {
	token, ok := middleware.Bearer(r)
	if !ok {
		return "", model.NewUnauthorizedError("bearer token required")
	}
	return token, nil
}

// currentSession resolves the open session for the request's bearer.
func (h *Handler) currentSession(r *http.Request) (*session.Session, error) {
	token, err := credential(r)
	if err != nil {
		return nil, err
	}
	s, err := h.sessions.Get(token)
	if errors.Is(err, session.ErrNoSession) {
		return nil, model.NewUnauthorizedError("no open session, POST /session first")
	}
	return s, err
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.apiError(err)
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// apiError finds the APIError in err's chain, or wraps err as internal.
func (h *Handler) apiError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	// Don't leak internal error details
	h.logger.Error("internal error", slog.String("error", err.Error()))
	return model.NewInternalError(err)
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// An empty body leaves v untouched. Returns an APIError if decoding fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
