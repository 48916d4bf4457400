// Package server exposes HTTP handlers, including connection upgrades,
// presence checks, account endpoints, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Tyrowin/directchat/internal/auth"
	"github.com/Tyrowin/directchat/internal/protocol"
	"github.com/Tyrowin/directchat/internal/store"
	"github.com/julienschmidt/httprouter"
)

// WebSocketHandler upgrades /ws/:username requests. The connection is
// admitted only if its origin is allowed and, when tokens are required, it
// presents a token issued for the same username; otherwise it is closed with
// a policy-violation code before it is ever registered. The handshake itself
// always succeeds (101) so that a rejected client sees the 1008 close frame
// rather than a bare HTTP error. Admitted connections are served on the
// calling goroutine until they terminate.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	username := ps.ByName("username")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	if reason := h.admit(r, username); reason != "" {
		h.reject(conn, r.RemoteAddr, protocol.ClosePolicyViolation, reason)
		return
	}

	if !h.track() {
		h.reject(conn, r.RemoteAddr, protocol.CloseGoingAway, "server shutting down")
		return
	}

	h.serve(newSession(conn, username, r.RemoteAddr, h.cfg, h.log))
}

type presenceResponse struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// PresenceHandler answers GET /online/:username.
func (h *Hub) PresenceHandler(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	username := ps.ByName("username")
	writeJSON(w, h.log, http.StatusOK, presenceResponse{
		Username: username,
		Online:   h.registry.IsOnline(username),
	})
}

// Accounts is the identity gate used by the register and login endpoints.
type Accounts interface {
	Register(username, password string) error
	Login(username, password string) (string, error)
}

type accountHandlers struct {
	accounts Accounts
	log      *slog.Logger
}

type messageResponse struct {
	Message string `json:"message"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (auth.Credentials, error) {
	var creds auth.Credentials
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := decoder.Decode(&creds); err != nil {
		return auth.Credentials{}, err
	}
	return creds, nil
}

func (a *accountHandlers) register(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	creds, err := decodeCredentials(w, r)
	if err != nil {
		writeError(w, a.log, http.StatusBadRequest, "Invalid request body")
		return
	}

	err = a.accounts.Register(creds.Username, creds.Password)
	switch {
	case err == nil:
		writeJSON(w, a.log, http.StatusOK, messageResponse{Message: "User registered successfully!"})
	case errors.Is(err, store.ErrUserExists):
		writeError(w, a.log, http.StatusBadRequest, "Username already exists")
	case errors.Is(err, auth.ErrInvalidRegistration):
		writeError(w, a.log, http.StatusUnprocessableEntity, err.Error())
	default:
		a.log.Error("Registration failed", "username", creds.Username, "error", err)
		writeError(w, a.log, http.StatusInternalServerError, "Registration failed")
	}
}

func (a *accountHandlers) login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	creds, err := decodeCredentials(w, r)
	if err != nil {
		writeError(w, a.log, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := a.accounts.Login(creds.Username, creds.Password)
	switch {
	case err == nil:
		writeJSON(w, a.log, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, a.log, http.StatusBadRequest, "Invalid username or password")
	default:
		a.log.Error("Login failed", "username", creds.Username, "error", err)
		writeError(w, a.log, http.StatusInternalServerError, "Login failed")
	}
}

// HealthHandler provides a simple health check endpoint that reports the
// relay is running.
func HealthHandler(log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, log, http.StatusOK, messageResponse{Message: "directchat relay is running"})
	}
}

// TestPageHandler serves an HTML page for trying the relay from a browser:
// log in, connect as that user, send direct messages and mark them seen.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>directchat relay test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="password"] { width: 160px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>directchat relay test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="username" placeholder="username">
        <input type="password" id="password" placeholder="password">
        <button onclick="connect()">Log in &amp; connect</button>
        <button onclick="disconnect()">Disconnect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="receiver" placeholder="to">
        <input type="text" id="text" placeholder="message">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        let nextId = 1;
        const messagesDiv = document.getElementById('messages');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected, who) {
            statusDiv.textContent = connected ? 'Connected as ' + who : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
        }

        async function connect() {
            const username = document.getElementById('username').value.trim();
            const password = document.getElementById('password').value;
            const resp = await fetch('/login', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({username, password})
            });
            const body = await resp.json();
            if (!resp.ok) {
                addLine('Login failed: ' + body.detail, 'red');
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/' + encodeURIComponent(username) +
                '?token=' + encodeURIComponent(body.access_token));
            ws.onopen = () => { addLine('Connected'); updateStatus(true, username); };
            ws.onclose = (e) => { addLine('Connection closed (' + e.code + ' ' + e.reason + ')'); updateStatus(false); ws = null; };
            ws.onmessage = (event) => {
                const ev = JSON.parse(event.data);
                if (ev.type === 'message') {
                    addLine(ev.sender + ': ' + ev.text, 'green');
                    ws.send(JSON.stringify({type: 'seen', id: ev.id, sender: ev.sender}));
                } else if (ev.type === 'status') {
                    addLine('message ' + ev.id + ' ' + ev.status);
                } else if (ev.type === 'seen') {
                    addLine('message ' + ev.id + ' seen');
                }
            };
        }

        function disconnect() {
            if (ws) {
                ws.close();
            }
        }

        function sendMessage() {
            const receiver = document.getElementById('receiver').value.trim();
            const input = document.getElementById('text');
            if (!ws || ws.readyState !== WebSocket.OPEN || !receiver || !input.value) {
                return;
            }
            const id = nextId++;
            ws.send(JSON.stringify({type: 'message', id, text: input.value, receiver}));
            addLine('you -> ' + receiver + ': ' + input.value, 'blue');
            input.value = '';
        }
    </script>
</body>
</html>`
