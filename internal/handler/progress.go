package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tranche/internal/propagation"
)

const streamHeartbeat = 15 * time.Second

// ProgressHandler exposes the progress display surface: the pull-based
// snapshot and the push-based event stream.
type ProgressHandler struct {
	broker *propagation.Broker
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(broker *propagation.Broker) *ProgressHandler {
	return &ProgressHandler{broker: broker}
}

// Snapshot returns the latest progress state for a transfer.
// GET /api/v1/transfers/{id}/progress
func (h *ProgressHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	snap, err := h.broker.Snapshot(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	JSON(w, http.StatusOK, snap)
}

// Stream pushes transfer events over server-sent events until the client
// disconnects. Events carry the kind as the SSE event name and the JSON
// payload as data; duplicates and gaps are the subscriber's problem by
// contract, so the stream carries no resume cursor.
// GET /api/v1/transfers/{id}/stream
func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		InternalError(w, "streaming unsupported")
		return
	}

	events, cancel := h.broker.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload)
			flusher.Flush()
		}
	}
}
