// Package server coordinates connection admission, registration, event
// routing, and cleanup for the relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/directchat/internal/delivery"
	"github.com/Tyrowin/directchat/internal/protocol"
	"github.com/Tyrowin/directchat/internal/registry"
	"github.com/gorilla/websocket"
)

// TokenVerifier resolves a bearer token to the username it was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Hub admits relay connections, registers them under their username, runs
// one read loop per connection and tears each one down through a single path.
type Hub struct {
	cfg      *Config
	registry *registry.Registry
	engine   *delivery.Engine
	origins  *OriginPolicy
	verifier TokenVerifier
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHub creates a Hub routing through reg. verifier may be nil when
// cfg.RequireToken is false.
func NewHub(cfg *Config, reg *registry.Registry, verifier TokenVerifier, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg,
		registry: reg,
		engine:   delivery.NewEngine(reg, log),
		origins:  NewOriginPolicy(cfg.Origins(), log),
		verifier: verifier,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are checked after the upgrade so that a rejected
			// client receives a policy-violation close frame.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Registry returns the registry the hub registers connections in.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Engine returns the hub's delivery engine.
func (h *Hub) Engine() *delivery.Engine {
	return h.engine
}

// Origins returns the origin policy applied to new connections.
func (h *Hub) Origins() *OriginPolicy {
	return h.origins
}

// admit validates the origin and identity of a connection request and
// returns a non-empty reason when it must be rejected.
func (h *Hub) admit(r *http.Request, username string) string {
	if !h.origins.Allowed(r.Header.Get("Origin")) {
		return "origin not allowed"
	}
	if username == "" {
		return "missing username"
	}
	if !h.cfg.RequireToken {
		return ""
	}

	token := bearerToken(r)
	if token == "" {
		return "missing token"
	}
	if h.verifier == nil {
		return "token verification unavailable"
	}
	subject, err := h.verifier.Verify(token)
	if err != nil {
		h.log.Debug("Token verification failed", "username", username, "error", err)
		return "invalid token"
	}
	if subject != username {
		return "token does not match username"
	}
	return ""
}

// bearerToken extracts a token from the Authorization header or, for browser
// clients that cannot set headers on a WebSocket request, the token query
// parameter.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// reject closes a connection that never became active.
func (h *Hub) reject(conn *websocket.Conn, addr string, code int, reason string) {
	h.log.Warn("Rejected connection", "addr", addr, "code", code, "reason", reason)

	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			h.log.Debug("Error writing rejection close frame", "addr", addr, "error", err)
		}
	}
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		h.log.Debug("Error closing rejected connection", "addr", addr, "error", err)
	}
}

// track reserves a slot in the shutdown wait group unless shutdown has begun.
func (h *Hub) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

// serve runs an admitted session until it terminates. It blocks for the
// lifetime of the connection.
func (h *Hub) serve(sess *Session) {
	defer h.wg.Done()

	if previous := h.registry.Register(sess.username, sess); previous != nil {
		sess.log.Info("Superseding previous connection for user")
		if err := previous.Close(protocol.CloseSuperseded, "superseded by a newer connection"); err != nil {
			sess.log.Debug("Error closing superseded connection", "error", err)
		}
	}
	sess.log.Info("Client registered", "online", h.registry.Len())

	defer h.terminate(sess)

	go sess.keepalive(h.ctx)

	sess.readLoop(func(ev protocol.Inbound) error {
		return h.engine.Handle(sess.username, sess, ev)
	})
}

// terminate is the only teardown path for an active session, whatever ended
// it. Removing the registry entry is always the last step.
func (h *Hub) terminate(sess *Session) {
	if err := sess.Close(websocket.CloseNormalClosure, ""); err != nil {
		sess.log.Debug("Error closing connection", "error", err)
	}
	released := h.registry.Release(sess.username, sess)
	sess.log.Info("Client unregistered", "released", released, "online", h.registry.Len())
}

// Shutdown closes every active connection with a going-away code and waits
// for their handlers to finish, or until timeout. New connections are
// refused once Shutdown has been called.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...", "online", h.registry.Len())

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some connections may still be open",
			"remaining", h.registry.Usernames())
		return context.DeadlineExceeded
	}
}
