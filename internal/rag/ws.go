package rag

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ziadkadry99/biblioteca/internal/auth"
)

// socketMessage is the outgoing websocket frame.
type socketMessage struct {
	Type     string    `json:"type"` // "answer" or "error"
	ID       string    `json:"id,omitempty"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
	Status   int       `json:"status,omitempty"`
}

// socketRequest is the incoming websocket frame: an ask request plus an
// optional client correlation id.
type socketRequest struct {
	Request
	ID string `json:"id"`
}

func handleAskSocket(d *Dispatcher, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.logger.Warn("websocket upgrade", zap.Error(err))
			return
		}
		defer conn.Close()

		principal := auth.FromContext(r.Context())
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					d.logger.Warn("websocket read", zap.Error(err))
				}
				return
			}

			var req socketRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				d.send(conn, socketMessage{Type: "error", Error: "invalid message format", Status: http.StatusBadRequest})
				continue
			}

			resp, err := d.Answer(r.Context(), principal, req.Request)
			if err != nil {
				status, text := HTTPError(err)
				d.send(conn, socketMessage{Type: "error", ID: req.ID, Error: text, Status: status})
				continue
			}
			d.send(conn, socketMessage{Type: "answer", ID: req.ID, Response: resp})
		}
	}
}

func (d *Dispatcher) send(conn *websocket.Conn, m socketMessage) {
	if err := conn.WriteJSON(m); err != nil {
		d.logger.Warn("websocket write", zap.Error(err))
	}
}
