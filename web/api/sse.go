package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// sseHandler streams one entity's ordered events as server-sent events.
// The client first receives a `snapshot` event carrying the full state,
// then `update` events in emission order. The stream ends when the entity
// is evicted or the client disconnects.
func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/events/")

		sub, err := s.hub.Subscribe(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			s.hub.Unsubscribe(sub)
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		// Cleanup on disconnect
		notify := r.Context().Done()
		go func() {
			<-notify
			s.hub.Unsubscribe(sub)
		}()

		// Snapshot first, so late subscribers never see a partial view
		snap, _ := json.Marshal(sub.Snapshot())
		fmt.Fprintf(w, "event: snapshot\n")
		fmt.Fprintf(w, "data: %s\n\n", snap)
		flusher.Flush()

		for ev := range sub.Events() {
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: update\n")
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
