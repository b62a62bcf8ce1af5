package realtime

import (
	"encoding/json"
	"net/http"
)

// HandleHistory serves GET /chat/{peer}/history: the caller's conversation with
// peer as a JSON array of delivery events, oldest first.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	self, err := h.auth.Authenticate(r.Context(), r)
	if err != nil {
		status, reason := http.StatusServiceUnavailable, rejectResolver
		if isUnauthenticated(err) {
			status, reason = http.StatusUnauthorized, rejectUnauthorized
		}
		h.log.Info("chat.history.reject", "reason", reason, "err", err)
		writeJSONError(w, status, reason)
		return
	}

	peer, status, reason, err := h.resolvePeer(r, self)
	if err != nil {
		h.log.Info("chat.history.reject", "reason", reason, "err", err)
		writeJSONError(w, status, reason)
		return
	}

	msgs, err := h.store.ListByRoom(r.Context(), self.ID, peer.ID)
	if err != nil {
		h.log.Error("chat.history.fail", "room_key", RoomKey(self.ID, peer.ID), "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, Deliveries(msgs))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
