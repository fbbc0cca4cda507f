package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chainbrawl/battle-backend/internal/hub"
	"github.com/chainbrawl/battle-backend/internal/waitroom"
	"github.com/chainbrawl/battle-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, room *waitroom.Room, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/sessions", CreateSession(h, log))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, room, log))
	return r
}
