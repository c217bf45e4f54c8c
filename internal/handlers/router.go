package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flowrooms/server/internal/auth"
	"github.com/flowrooms/server/internal/engine"
	"github.com/flowrooms/server/internal/middleware"
	"github.com/flowrooms/server/internal/presence"
	"github.com/flowrooms/server/internal/relay"
)

type Deps struct {
	Engine     *engine.Engine
	Relay      *relay.Relay
	Presence   *presence.Tracker
	Limiter    *middleware.Limiter
	JWTSecret  string
	CORSOrigin string
	// WebSocket is mounted at /ws when set.
	WebSocket http.Handler
	Health    map[string]Pinger
}

func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(d.CORSOrigin))

	router.HandleFunc("/health", Health(d.Health)).Methods("GET", "OPTIONS")
	if d.WebSocket != nil {
		router.Handle("/ws", d.WebSocket).Methods("GET")
	}

	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(auth.JWTMiddleware(d.JWTSecret))
	if d.Limiter != nil {
		protected.Use(middleware.RateLimit(d.Limiter))
	}

	protected.HandleFunc("/rooms/next", NextRoom(d.Engine)).Methods("POST")
	protected.HandleFunc("/rooms/current", CurrentRoom(d.Engine)).Methods("GET")
	protected.HandleFunc("/rooms/{id}", GetRoom(d.Engine)).Methods("GET")
	protected.HandleFunc("/rooms/{id}/join", JoinRoom(d.Engine)).Methods("POST")
	protected.HandleFunc("/rooms/{id}/leave", LeaveRoom(d.Engine)).Methods("DELETE")
	protected.HandleFunc("/rooms/{id}/messages", GetMessages(d.Relay)).Methods("GET")
	protected.HandleFunc("/rooms/{id}/messages", PostMessage(d.Engine, d.Relay)).Methods("POST")
	protected.HandleFunc("/rooms/{id}/heartbeat", Heartbeat(d.Engine, d.Presence)).Methods("POST")
	protected.HandleFunc("/rooms/{id}/occupants", Occupants(d.Engine, d.Presence)).Methods("GET")

	return router
}
