package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/run-orchestrator/internal/domain"
)

// writeWait is time allowed to write a message to the peer
const writeWait = 10 * time.Second

// WSMessage is the frame format on the WebSocket subscription transport
type WSMessage struct {
	Type     string           `json:"type"` // "snapshot" or "update"
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
	Event    *domain.Event    `json:"event,omitempty"`
}

// wsHandler streams one entity's ordered events over a WebSocket with the
// same snapshot-first contract as the SSE stream
func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/ws/")

		sub, err := s.hub.Subscribe(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.hub.Unsubscribe(sub)
			log.Printf("[api] upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Reader loop only detects disconnect; observers never send.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					s.hub.Unsubscribe(sub)
					return
				}
			}
		}()

		snap := sub.Snapshot()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(WSMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
			s.hub.Unsubscribe(sub)
			return
		}

		for ev := range sub.Events() {
			ev := ev
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(WSMessage{Type: "update", Event: &ev}); err != nil {
				s.hub.Unsubscribe(sub)
				return
			}
		}

		// Entity evicted or unsubscribed; tell the peer we are done.
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
	}
}
