package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scorefactor/scorefactor-backend/internal/hub"
	"github.com/scorefactor/scorefactor-backend/internal/room"
)

// CreateRoom reserves a room code without joining it. Clients that prefer
// the websocket-first flow can send create_room over /ws instead.
func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, _, err := h.Create(r.Context())
		if err != nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}
		if log != nil {
			log.Info("room created", zap.String("code", code))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

// GetRoom returns a point-in-time snapshot of a room. Handy for debugging
// and for lobby screens polling player counts.
func GetRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		rm := h.Get(r.Context(), code)
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		reply := make(chan room.View, 1)
		if !rm.Send(room.GetView{Reply: reply}) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		var v room.View
		select {
		case v = <-reply:
		case <-rm.Done():
			http.Error(w, "room not found", http.StatusNotFound)
			return
		case <-r.Context().Done():
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Code       string        `json:"code"`
			Phase      string        `json:"phase"`
			Players    []room.Player `json:"players"`
			ElapsedSec int           `json:"elapsedSeconds"`
			NumMembers int           `json:"numMembers"`
		}{
			Code:       room.NormalizeCode(code),
			Phase:      string(v.State.Phase),
			Players:    v.State.Players,
			ElapsedSec: v.State.ElapsedSeconds,
			NumMembers: v.NumMembers,
		})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
