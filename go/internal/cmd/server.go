package main

import (
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/cuesync/cuesync/go/internal/gateway"
	"github.com/cuesync/cuesync/go/internal/timer"
)

func setupServer(cfg *Config, service *timer.Service, hub *gateway.Hub) *http.Server {
	mux := http.NewServeMux()

	timerHandler := gateway.NewTimerHandler(service)
	timerHandler.RegisterRoutes(mux)

	streamHandler := gateway.NewStreamHandler(hub)
	mux.HandleFunc("/api/timer/stream", streamHandler.HandleStream)

	wsHandler := gateway.NewWebSocketHandler(hub, gateway.DefaultConnectionConfig())
	mux.HandleFunc("/ws/timer", wsHandler.HandleTimerConnection)

	setupHealthCheck(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: c.Handler(mux),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"success":true,"message":"Timer API Server is running"}`)); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
