// Package server wires HTTP handlers into a router for the relay via
// routing helpers.
package server

import (
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// SetupRoutes configures and returns the relay's HTTP handler: health check,
// test page, connection endpoint, presence query and, when accounts is not
// nil, the register and login endpoints. Responses carry CORS headers for
// allowed origins.
func SetupRoutes(hub *Hub, accounts Accounts, log *slog.Logger) http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/", HealthHandler(log))
	router.HandlerFunc(http.MethodGet, "/test", TestPageHandler)
	router.GET("/ws/:username", hub.WebSocketHandler)
	router.GET("/online/:username", hub.PresenceHandler)

	if accounts != nil {
		handlers := &accountHandlers{accounts: accounts, log: log}
		router.POST("/register", handlers.register)
		router.POST("/login", handlers.login)
	}

	return withCORS(hub.Origins(), router)
}

// withCORS adds CORS headers for allowed origins and answers preflight
// requests directly.
func withCORS(origins *OriginPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && origins.Allowed(origin)

		if allowed {
			header := w.Header()
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			header := w.Header()
			header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
				header.Set("Access-Control-Allow-Headers", requested)
			}
			header.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
