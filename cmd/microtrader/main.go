package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	trader "github.com/0x5487/microtrader"
	"github.com/0x5487/microtrader/comm"
	"github.com/0x5487/microtrader/store"
)

func main() {
	_ = godotenv.Load()

	level, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	trader.SetLogger(log)
	comm.SetLogger(log.With().Str("component", "comm").Logger())

	auditLog, err := store.Open(envOr("MT_STORE_PATH", "data/orders"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audit store")
	}

	ws := comm.NewWSServer(envOr("MT_ADDR", ":8000"))
	srv := trader.NewServer(ws, auditLog)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("server loop stopped")
		}
	}()

	go func() {
		if err := ws.Serve(srv); err != nil {
			log.Fatal().Err(err).Msg("transport failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ws.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("transport shutdown failed")
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := auditLog.Close(); err != nil {
		log.Error().Err(err).Msg("audit store close failed")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
