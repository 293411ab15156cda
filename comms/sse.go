package comms

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// SSEHandler streams bus events to HTTP clients as server-sent events.
//
// Query parameters:
//
//	run_id  only events of this run; the stream ends after its evaluation_completed
//	replay  first send up to this many past events from the bus history
type SSEHandler struct {
	bus    Bus
	logger *slog.Logger
}

// NewSSEHandler returns a handler over bus.
func NewSSEHandler(bus Bus, logger *slog.Logger) *SSEHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHandler{bus: bus, logger: logger}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	runID := r.URL.Query().Get("run_id")
	replay := 0
	if s := r.URL.Query().Get("replay"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "replay must be a non-negative integer", http.StatusBadRequest)
			return
		}
		replay = n
	}

	// Subscribe before reading history so nothing falls in between.
	events, unsubscribe := h.bus.Subscribe(DefaultBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n") //nolint:errcheck
	flusher.Flush()

	sent := make(map[string]bool)
	if replay > 0 {
		for _, ev := range h.bus.History(runID, replay) {
			if !h.write(w, ev) {
				return
			}
			sent[ev.ID] = true
		}
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if sent[ev.ID] || (runID != "" && ev.RunID != runID) {
				continue
			}
			if !h.write(w, ev) {
				return
			}
			flusher.Flush()
			if runID != "" && ev.Type == EvaluationCompleted {
				return
			}
		}
	}
}

func (h *SSEHandler) write(w http.ResponseWriter, ev Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode progress event", "event", ev.ID, "error", err)
		return true
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
		return false
	}
	return true
}
