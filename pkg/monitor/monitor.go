package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fystack/keyspace/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Source is the observable surface of a keyspace client.
type Source interface {
	Counts() map[string]int64
	ResetCounters()
	IsConnected() bool
	Channels() []string
}

type channelsResponse struct {
	Channels []string `json:"channels"`
}

type countsResponse struct {
	Connected bool             `json:"connected"`
	Counts    map[string]int64 `json:"counts"`
}

// NewHandler exposes src over HTTP:
//
//	GET  /healthz       200 when connected, 503 otherwise
//	GET  /counts        operation counts as JSON
//	POST /counts/reset  zero every count
//	GET  /channels      subscribed channels as JSON
func NewHandler(src Source) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !src.IsConnected() {
			http.Error(w, "disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/counts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(countsResponse{
			Connected: src.IsConnected(),
			Counts:    src.Counts(),
		})
		if err != nil {
			logger.Error("Failed to write counts", err)
		}
	})

	router.Post("/counts/reset", func(w http.ResponseWriter, r *http.Request) {
		src.ResetCounters()
		w.WriteHeader(http.StatusNoContent)
	})

	router.Get("/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(channelsResponse{Channels: src.Channels()}); err != nil {
			logger.Error("Failed to write channels", err)
		}
	})

	return router
}

// NewServer returns an http.Server serving NewHandler(src) on addr.
func NewServer(addr string, src Source) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(src),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
