package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/chainbrawl/battle-backend/internal/config"
	"github.com/chainbrawl/battle-backend/internal/httpapi"
	"github.com/chainbrawl/battle-backend/internal/hub"
	"github.com/chainbrawl/battle-backend/internal/records"
	"github.com/chainbrawl/battle-backend/internal/waitroom"
)

func main() {
	cfg := config.Load()

	var log *zap.Logger
	var err error
	if cfg.LogLevel == "debug" {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	var sink records.Sink = records.Discard{}
	if cfg.DatabaseDSN != "" {
		pg, err := records.OpenPostgres(cfg.DatabaseDSN)
		if err != nil {
			// Persistence is a collaborator, not a dependency of live play.
			log.Error("battle records disabled", zap.Error(err))
		} else {
			sink = pg
		}
	}

	ctx := context.Background()
	h := hub.NewHub(ctx, hub.Config{Log: log, Sink: sink})
	room := waitroom.New(ctx, waitroom.Config{Log: log})

	handler := httpapi.SetupRoutes(h, room, log)

	log.Info("listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
