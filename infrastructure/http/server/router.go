// Package server exposes the chat over HTTP and websocket.
package server

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
	"trade-chat/auth"
	"trade-chat/contract"
	"trade-chat/services"

	"github.com/gorilla/mux"
)

type Config struct {
	SessionBufferSize int
	InflightTimeout   time.Duration
	ReadTimeout       time.Duration
}

// NewRouter wires every route behind the bearer token middleware.
func NewRouter(log *slog.Logger, chatService services.IChatService, registry contract.IRegistry,
	tokens *auth.TokenManager, cfg Config) *mux.Router {
	conversations := NewConversationHandler(log, chatService)
	sessions := NewSessionHandler(log, chatService, registry, cfg)

	router := mux.NewRouter()
	router.Use(logging(log))
	router.Use(auth.Middleware(tokens, func(w http.ResponseWriter, r *http.Request, err error) {
		writeError(log, w, r, err)
	}))

	router.HandleFunc("/healthz", health).Methods(http.MethodGet)
	router.HandleFunc("/ws", sessions.ServeWS).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/conversations", conversations.GetOrCreate).Methods(http.MethodPost)
	api.HandleFunc("/conversations", conversations.List).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", conversations.Messages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/read", conversations.MarkRead).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/typing", conversations.Typing).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/clear", conversations.Clear).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/restore", conversations.Restore).Methods(http.MethodPost)
	api.HandleFunc("/messages", conversations.Send).Methods(http.MethodPost)
	return router
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack not supported")
	}
	return hijacker.Hijack()
}

func logging(log *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path,
				"status", recorder.status, "duration", time.Since(start))
		})
	}
}
