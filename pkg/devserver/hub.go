package devserver

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/shonalidesh/agrilink/pkg/logging"
)

// hub fans snapshots out to connected websocket clients. Each client gets
// the current snapshot on connect and every snapshot published afterwards.
type hub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	// snapshot builds the current full collection. Used for the connect-time
	// send so clients of a freshly restarted server see persisted state
	// without waiting for the next mutation.
	snapshot func() ([]byte, error)

	mu      sync.Mutex
	clients map[*wsClient]bool
	last    []byte
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(logger *logging.Logger, snapshot func() ([]byte, error)) *hub {
	return &hub{
		logger:   logger,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // dev server, no origin policy
			},
		},
		clients: make(map[*wsClient]bool),
	}
}

// handleWS upgrades the request and streams snapshots until the client
// disconnects.
func (h *hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(logging.CategoryServer, "ws_upgrade_failed", err.Error(), nil)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 16),
	}

	initial, err := h.snapshot()
	if err != nil {
		h.logger.Warn(logging.CategoryServer, "ws_snapshot_failed", err.Error(), nil)
	}

	h.mu.Lock()
	h.clients[client] = true
	if initial == nil {
		initial = h.last
	}
	if initial != nil {
		client.send <- initial
	}
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

func (h *hub) writePump(client *wsClient) {
	for data := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(client)
			return
		}
	}
}

// readPump discards client messages; the stream is one-way. Its real job is
// noticing the disconnect.
func (h *hub) readPump(client *wsClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *hub) remove(client *wsClient) {
	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}

// broadcast stores the snapshot as the connect-time payload and sends it to
// every client. Slow clients with a full buffer are dropped.
func (h *hub) broadcast(snapshot []byte) {
	h.mu.Lock()
	h.last = snapshot

	var stale []*wsClient
	for client := range h.clients {
		select {
		case client.send <- snapshot:
		default:
			stale = append(stale, client)
		}
	}
	h.mu.Unlock()

	for _, client := range stale {
		h.remove(client)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.remove(client)
	}
}
