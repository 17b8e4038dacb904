package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/version"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type activeSource interface {
	ActiveDescriptor() (nas.Descriptor, bool)
}

// newMux routes the Socket.IO endpoint and the small JSON API.
func newMux(socketServer http.Handler, db pinger, active activeSource) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/socket.io/", socketServer)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","store":"unavailable"}`))
			return
		}

		connection := "none"
		if _, ok := active.ActiveDescriptor(); ok {
			connection = "configured"
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "store": "ok", "connection": connection})
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	mux.HandleFunc("/api/v1/connection", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		d, ok := active.ActiveDescriptor()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"no active connection"}`))
			return
		}
		json.NewEncoder(w).Encode(d)
	})

	return mux
}
