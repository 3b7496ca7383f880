package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Tyrowin/gochat-gateway/internal/identity"
)

// WebSocketHandler upgrades the request and registers a new client with the
// hub. Authentication happens on the upgraded connection so that failures
// are reported as an error signal before the socket closes.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	creds := identity.CredentialsFromRequest(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(conn, s.hub, s.gateway, creds, r.RemoteAddr, s.cfg, newRateLimiter(s.cfg.RateLimit(), s.clock))
	if !s.hub.registerClient(client) {
		_ = conn.Close()
	}
}

// HealthHandler answers liveness probes with plain text.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat gateway is running!")
}

type healthReport struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Sessions    int    `json:"sessions"`
}

// HealthzHandler reports the number of open and authenticated connections.
func (s *Server) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	report := healthReport{Status: "ok", Connections: s.hub.Len(), Sessions: s.gateway.Sessions()}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.log.Warn("Error writing health report", "error", err)
	}
}

// TestPageHandler serves a small page for exercising the gateway by hand.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Warn("Error writing HTML response", "error", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Gateway Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 320px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; font-family: monospace; white-space: pre-wrap; }
        input, select, textarea { padding: 5px; margin: 4px 0; }
        textarea { width: 480px; height: 80px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat Gateway Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="token" placeholder="Bearer token" size="60">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <select id="event">
            <option>sendMessage</option>
            <option>createGroup</option>
            <option>joinGroup</option>
            <option>addMembers</option>
            <option>leaveGroup</option>
            <option>deleteGroup</option>
            <option>getMessages</option>
            <option>markAsRead</option>
            <option>typing</option>
            <option>getUsersOnline</option>
        </select>
    </div>
    <div><textarea id="data">{"content": "hello", "groupId": ""}</textarea></div>
    <button id="sendButton" onclick="sendAction()" disabled>Send</button>
    <div id="log"></div>

    <script>
        let ws = null;
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');

        function addLine(text) {
            const line = document.createElement('div');
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws', ['bearer', document.getElementById('token').value]);
            ws.onopen = () => { addLine('-- connected'); updateStatus(true); };
            ws.onmessage = (event) => addLine('<- ' + event.data);
            ws.onclose = (event) => { addLine('-- closed ' + event.code + ' ' + event.reason); updateStatus(false); ws = null; };
            ws.onerror = () => addLine('-- connection error');
        }

        function sendAction() {
            let data;
            try {
                data = JSON.parse(document.getElementById('data').value || '{}');
            } catch (e) {
                addLine('!! invalid JSON: ' + e.message);
                return;
            }
            const frame = JSON.stringify({event: document.getElementById('event').value, data: data});
            ws.send(frame);
            addLine('-> ' + frame);
        }
    </script>
</body>
</html>`
