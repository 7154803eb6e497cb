package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/veil-waf/veil-netflow/internal/db"
	"github.com/veil-waf/veil-netflow/internal/sse"
)

// StreamHandler serves the live verdict feed over SSE.
type StreamHandler struct {
	hub       *sse.Hub
	store     VerdictStore
	keepalive time.Duration
}

// NewStreamHandler creates a new StreamHandler. store may be nil, in which
// case no history is replayed.
func NewStreamHandler(hub *sse.Hub, store VerdictStore) *StreamHandler {
	return &StreamHandler{hub: hub, store: store, keepalive: 30 * time.Second}
}

// HandleSSE handles GET /api/stream?operation=binary|multiclass
// It replays recent verdicts and stats, then streams live verdicts with
// periodic keepalives.
func (sh *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	topic := sse.AllTopics
	switch op := r.URL.Query().Get("operation"); op {
	case "":
	case db.OpBinary, db.OpMulticlass:
		topic = op
	default:
		jsonError(w, "operation must be binary or multiclass", http.StatusBadRequest)
		return
	}

	// Subscribe before replaying so nothing falls in between.
	ch, cancel := sh.hub.Subscribe(topic)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if sh.store != nil {
		recent, _ := sh.store.RecentVerdicts(r.Context(), 20)
		for i := len(recent) - 1; i >= 0; i-- {
			if topic != sse.AllTopics && recent[i].Operation != topic {
				continue
			}
			data, _ := json.Marshal(recent[i])
			fmt.Fprintf(w, "event: verdict\ndata: %s\n\n", data)
		}
		if stats, _ := sh.store.Stats(r.Context()); stats != nil {
			data, _ := json.Marshal(stats)
			fmt.Fprintf(w, "event: stats\ndata: %s\n\n", data)
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sh.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
