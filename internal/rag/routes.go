package rag

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ziadkadry99/biblioteca/internal/auth"
)

// maxAskBytes caps the JSON body of an ask request.
const maxAskBytes = 1 << 20

// RegisterRoutes mounts the ask endpoint.
func RegisterRoutes(r chi.Router, d *Dispatcher) {
	r.Post("/api/ask", handleAsk(d))
}

// RegisterSocket mounts the websocket variant of the ask endpoint. It must
// not sit behind a request timeout.
func RegisterSocket(r chi.Router, d *Dispatcher, upgrader websocket.Upgrader) {
	r.Get("/ws/ask", handleAskSocket(d, upgrader))
}

func handleAsk(d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAskBytes)
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return
		}

		resp, err := d.Answer(r.Context(), auth.FromContext(r.Context()), req)
		if err != nil {
			status, msg := HTTPError(err)
			if status >= http.StatusInternalServerError {
				d.logger.Error("answer failed", zap.String("mode", string(req.Mode)), zap.Error(err))
			}
			writeJSON(w, status, errorBody{Error: msg})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
