package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/chainbrawl/battle-backend/internal/hub"
	"github.com/chainbrawl/battle-backend/internal/session"
)

// CreateSession makes a fresh session and returns its id; clients then
// attach over /ws?session=<id>.
func CreateSession(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.CreateSession{Reply: reply}
		s := <-reply
		if s == nil {
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}
		log.Debug("created session over http", zap.String("session", s.ID()))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			ID string `json:"id"`
		}{ID: s.ID()})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
