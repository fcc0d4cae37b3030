package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter serves the agent UI: current state, commands over HTTP and a
// websocket that streams state and accepts the same commands.
func NewRouter(phone Phone, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "ui").Logger()

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, phone.Snapshot())
	})
	r.Post("/commands", commandHandler(phone))
	r.Get("/ws", NewWebsocketHandler(phone, logger).ServeHTTP)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "agent-phone"})
}

func commandHandler(phone Phone) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			writeJSON(w, http.StatusBadRequest, Result{Type: "result", Error: "invalid command: " + err.Error()})
			return
		}
		call, err := execute(r.Context(), phone, cmd)
		result := Result{Type: "result", ID: cmd.ID, Call: call, OK: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		writeJSON(w, statusCode(err), result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Logger logs one line per request.
func Logger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			event := logger.Info()
			if ww.Status() >= http.StatusInternalServerError {
				event = logger.Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("request completed")
		})
	}
}
