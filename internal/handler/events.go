package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"storesync/internal/model"
	"storesync/internal/notify"
	"storesync/internal/store"
)

// event is one server-sent event before framing.
type event struct {
	name string
	data any
}

// handleEvents streams collection snapshots and notifications as
// server-sent events until the client leaves or the session ends. Every
// collection's current snapshot is sent first.
// GET /events
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.currentSession(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	events := make(chan event)
	stop := make(chan struct{})
	defer close(stop)

	forward := func(e event) bool {
		select {
		case events <- e:
			return true
		case <-stop:
			return false
		}
	}

	for _, kind := range s.Kinds() {
		c, err := s.Collection(kind)
		if err != nil {
			continue
		}
		snaps, cancel := c.Store.Subscribe()
		defer cancel()
		go func(snaps <-chan store.Snapshot) {
			for snap := range snaps {
				if !forward(event{name: "snapshot", data: newCollectionResponse(snap)}) {
					return
				}
			}
		}(snaps)
	}
	notes, cancelNotes := s.Notifications().Subscribe()
	defer cancelNotes()
	go func(notes <-chan notify.Notification) {
		for n := range notes {
			if !forward(event{name: "notification", data: n}) {
				return
			}
		}
	}(notes)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.WarnContext(ctx, "event stream unsupported", slog.String("error", err.Error()))
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			writeEvent(w, event{name: "closed", data: map[string]string{"session_id": s.ID}})
			rc.Flush()
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case e := <-events:
			if err := writeEvent(w, e); err != nil {
				h.logger.DebugContext(ctx, "event stream closed", slog.String("error", err.Error()))
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeEvent frames e as "event: <name>\ndata: <json>\n\n".
func writeEvent(w http.ResponseWriter, e event) error {
	data, err := json.Marshal(e.data)
	if err != nil {
		return model.NewInternalError(err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.name, data)
	return err
}
