// Package server exposes HTTP handlers, including credential issuance,
// WebSocket upgrades, health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler handles WebSocket upgrade requests. The credential is
// verified before the upgrade: connections without a valid token are refused
// with 401 and no session state is ever created for them. Verified
// connections are handed to the hub, which decides between active and
// waiting.
func WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if limiter := currentConnLimiter(); limiter != nil && !limiter.Allow() {
		http.Error(w, "Too many connection attempts, try again later.", http.StatusTooManyRequests)
		return
	}

	identity, err := VerifyToken(credentialFromRequest(r))
	if err != nil {
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, ErrMissingToken):
			http.Error(w, "Missing credential.", status)
		case errors.Is(err, ErrTokenExpired):
			http.Error(w, "Credential expired.", status)
		default:
			http.Error(w, "Invalid credential.", status)
		}
		log.Printf("Refused WebSocket connection from %s: %v", r.RemoteAddr, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, hub, r.RemoteAddr, identity)

	// Register the client with the hub; the hub will launch the pump goroutines.
	client.hub.register <- client
}

type tokenRequest struct {
	Name string `json:"name"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// TokenHandler exchanges a display name for a signed, time-limited
// credential. Names must be non-empty and at most 20 characters.
func TokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed. Token endpoint only accepts POST requests.", http.StatusMethodNotAllowed)
		return
	}

	if limiter := currentConnLimiter(); limiter != nil && !limiter.Allow() {
		http.Error(w, "Too many requests, try again later.", http.StatusTooManyRequests)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body.", http.StatusBadRequest)
		return
	}

	token, expiry, err := IssueToken(req.Name)
	if err != nil {
		http.Error(w, "Display name must be non-empty and at most 20 characters.", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tokenResponse{Token: token, ExpiresAt: expiry.Unix()}); err != nil {
		log.Printf("Error writing token response: %v", err)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "RelayRoom server is running!")
}

// TestPageHandler serves an HTML test page for exercising the relay by hand.
// It requests a credential for a chosen name, connects to the WebSocket
// endpoint, and renders the event stream, including waiting and rate-limit
// notices.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>RelayRoom Test</title>
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
        input[type="text"] {
            width: 300px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status {
            margin: 10px 0;
            padding: 5px;
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .waiting { background-color: #fff3cd; color: #856404; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>RelayRoom Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="nameInput" placeholder="Display name...">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px;">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const nameInput = document.getElementById('nameInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addMessage(message, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = message;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function setStatus(text, cls) {
            statusDiv.textContent = text;
            statusDiv.className = 'status ' + cls;
            const connected = cls === 'connected';
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = ws ? 'Disconnect' : 'Connect';
        }

        async function connect() {
            const name = nameInput.value.trim();
            if (!name) {
                addMessage('Enter a display name first');
                return;
            }
            const resp = await fetch('/token', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ name: name })
            });
            if (!resp.ok) {
                addMessage('Token request failed: ' + resp.status, 'red');
                return;
            }
            const body = await resp.json();

            const proto = location.protocol === 'https:' ? 'wss' : 'ws';
            ws = new WebSocket(proto + '://' + location.host + '/ws?token=' + encodeURIComponent(body.token));

            ws.onmessage = function(event) {
                for (const line of event.data.split('\n')) {
                    if (!line) continue;
                    const ev = JSON.parse(line);
                    if (ev.type === 'accepted') {
                        setStatus('Connected as ' + ev.identity, 'connected');
                    } else if (ev.type === 'waiting') {
                        setStatus('Waiting in queue, position ' + ev.position, 'waiting');
                    } else if (ev.type === 'chat') {
                        addMessage(ev.sender + ': ' + ev.content, ev.sender === 'bot' ? 'purple' : 'green');
                    } else if (ev.type === 'rate_limited') {
                        addMessage(ev.message, 'red');
                    }
                }
            };

            ws.onclose = function() {
                ws = null;
                setStatus('Disconnected', 'disconnected');
            };
        }

        function disconnect() {
            if (ws) {
                ws.close();
            }
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                disconnect();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ content: message }));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}
