package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/logging"
)

// WebSocketHandler upgrades GET /ws requests and registers the resulting
// client with the hub.
type WebSocketHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	opts     ClientOptions
}

// NewWebSocketHandler builds the /ws handler. origins decides which browser
// origins may connect.
func NewWebSocketHandler(hub *Hub, origins *OriginPolicy, opts ClientOptions) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		opts: opts,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.opts)
	if err := h.hub.Register(r.Context(), client); err != nil {
		logging.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("websocket client refused")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"))
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "RoomChat server is running!")
}

// TestPageHandler serves a small browser client for manual testing: log in,
// authenticate the socket, chat and try /join and /leave.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		logging.Debug().Err(err).Msg("error writing test page")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>RoomChat WebSocket Test</title>
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
        #users { color: #555; margin: 5px 0; }
        input[type="text"], input[type="password"] {
            width: 200px;
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
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>RoomChat WebSocket Test</h1>

    <div>
        <input type="text" id="username" placeholder="username">
        <input type="password" id="password" placeholder="password">
        <button onclick="login()">Log in</button>
    </div>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="room" value="lobby" placeholder="room">
        <input type="text" id="messageInput" placeholder="message, /join room, /leave room" disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button onclick="userList()">Who is here?</button>
    </div>

    <div id="users"></div>
    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const statusDiv = document.getElementById('status');
        const usersDiv = document.getElementById('users');
        const roomInput = document.getElementById('room');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }

        function handle(env) {
            const d = env.data;
            switch (env.event) {
            case 'user authorized':
                addLine('signed in as ' + d.username, d.color);
                break;
            case 'you joined a room':
                addLine('joined #' + d.room);
                usersDiv.textContent = '#' + d.room + ': ' + d.userlist.map(u => u.username).join(', ');
                break;
            case 'you left a room':
                addLine('left #' + d.room);
                break;
            case 'a different user joined a room':
                addLine(d.user.username + ' joined #' + d.room);
                break;
            case 'a different user is disconnecting':
                addLine(d.user.username + ' left #' + d.room);
                break;
            case 'new message':
                addLine('[' + d.room + '] ' + d.user.username + ': ' + d.message, d.user.color);
                break;
            case 'get user list':
                usersDiv.textContent = '#' + d.room + ': ' + d.userlist.map(u => u.username).join(', ');
                break;
            default:
                addLine(JSON.stringify(env));
            }
        }

        async function login() {
            const resp = await fetch('/api/login', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({
                    username: document.getElementById('username').value,
                    password: document.getElementById('password').value
                })
            });
            const body = await resp.json();
            if (!resp.ok) {
                addLine('login failed: ' + body.error, 'red');
                return;
            }
            connect(body.token);
        }

        function connect(token) {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                updateStatus(true);
                emit('authenticate', token);
            };
            ws.onmessage = function(event) {
                event.data.split('\n').forEach(function(line) {
                    if (line) {
                        handle(JSON.parse(line));
                    }
                });
            };
            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message) {
                emit('new message', {room: roomInput.value, message: message});
                messageInput.value = '';
            }
        }

        function userList() {
            emit('get user list', roomInput.value);
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
