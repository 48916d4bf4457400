// Package server manages individual relay connections, handling the read
// loop, keepalive pings, rate limiting, and lifecycle control for each one.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/directchat/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// ErrSessionClosed is returned by Send after the session has been closed.
var ErrSessionClosed = errors.New("session closed")

// Session is one live relay connection bound to a username. Its read side is
// driven by a single goroutine; its write side may be used by any goroutine
// routing an event to this user.
type Session struct {
	id             string
	username       string
	conn           *websocket.Conn
	addr           string
	log            *slog.Logger
	limiter        *tokenBucket
	rateLimit      RateLimitConfig
	maxMessageSize int64

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

func newSession(conn *websocket.Conn, username, addr string, cfg *Config, log *slog.Logger) *Session {
	id := uuid.NewString()
	conn.SetReadLimit(cfg.MaxMessageSize)
	return &Session{
		id:             id,
		username:       username,
		conn:           conn,
		addr:           addr,
		log:            log.With("username", username, "addr", addr, "session", id),
		limiter:        newTokenBucket(cfg.RateLimit()),
		rateLimit:      cfg.RateLimit(),
		maxMessageSize: cfg.MaxMessageSize,
		done:           make(chan struct{}),
	}
}

// Username returns the identity the session was admitted under.
func (s *Session) Username() string {
	return s.username
}

// Send writes ev to the client. Writes are serialized and bounded by a write
// deadline.
func (s *Session) Send(ev protocol.Outbound) error {
	payload, err := protocol.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %T: %w", ev, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame with code and reason and closes the underlying
// connection, which unblocks the read loop. Only the first call has any
// effect.
func (s *Session) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		msg := websocket.FormatCloseMessage(code, reason)
		if werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil {
			if !isExpectedCloseError(werr) {
				s.log.Debug("Error writing close message", "error", werr)
			}
		}
		err = s.conn.Close()
	})
	if err != nil && isExpectedCloseError(err) {
		return nil
	}
	return err
}

// setupReadConnection configures read deadlines and pong handler for the connection
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Warn("Error setting initial read deadline", "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.log.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError records why the read loop stopped.
func (s *Session) logReadError(err error) {
	if s.closed.Load() {
		s.log.Debug("Connection closed by relay", "error", err)
		return
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn("Frame exceeded maximum size", "limit", s.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		s.log.Info("Client disconnected", "error", err)
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err):
		s.log.Info("Client connection closed", "error", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		s.log.Warn("Unexpected close from client", "error", err)
	default:
		s.log.Warn("Read error", "error", err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the event should be processed
func (s *Session) checkRateLimit() bool {
	if s.limiter != nil && !s.limiter.allow() {
		s.log.Warn("Rate limit exceeded; not routing event",
			"burst", s.rateLimit.Burst, "interval", s.rateLimit.RefillInterval)
		return false
	}
	return true
}

// throttle answers an event that was not routed because of the rate limit.
// A message still gets its status, reported as sent; anything else is
// dropped.
func (s *Session) throttle(ev protocol.Inbound) error {
	msg, ok := ev.(protocol.Message)
	if !ok {
		return nil
	}
	return s.Send(protocol.StatusUpdate{ID: msg.ID, Status: protocol.StatusSent})
}

// readLoop reads frames until the connection fails or closes, passing each
// decoded event to handle before reading the next one. An error from handle
// ends the loop.
func (s *Session) readLoop(handle func(protocol.Inbound) error) {
	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		route := handle
		if !s.checkRateLimit() {
			route = s.throttle
		}

		if err := route(protocol.Decode(raw)); err != nil {
			s.log.Warn("Write to client failed; terminating connection", "error", err)
			return
		}
	}
}

// keepalive pings the client until the session closes. Cancelling ctx closes
// the session with a going-away code.
func (s *Session) keepalive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			if err := s.Close(protocol.CloseGoingAway, "server shutting down"); err != nil {
				s.log.Debug("Error closing connection on shutdown", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Info("Ping failed; closing connection", "error", err)
				_ = s.Close(protocol.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}
