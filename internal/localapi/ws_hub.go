package localapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"echodesk/cli/internal/logging"
	"echodesk/cli/internal/protocol"
)

const (
	wsWriteTimeout = 500 * time.Millisecond
	wsSendQueue    = 64
)

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// WSHub fans task events out to every connected UI client. Clients only
// listen; anything they send is read and dropped. Each client has its own
// queue and writer, so Publish never waits on the network.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	seq     atomic.Uint64
	logger  *slog.Logger
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{clients: map[*wsClient]struct{}{}, logger: logging.OrDiscard(logger)}
}

func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
	client := &wsClient{conn: conn, send: make(chan []byte, wsSendQueue), cancel: cancel}
	h.add(client)
	defer func() {
		h.remove(client)
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-client.send:
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancelWrite()
			if err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *WSHub) remove(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	return true
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues the event for every client. A client whose queue is full is
// disconnected.
func (h *WSHub) Publish(op string, payload any) {
	evt := protocol.NewEvent(fmt.Sprintf("evt_%d", h.seq.Add(1)), op, payload)
	msg, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("encode websocket event failed", "op", op, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			if h.remove(c) {
				h.logger.Warn("websocket client too slow, disconnecting", "op", op)
				c.cancel()
			}
		}
	}
}

// CloseAll disconnects every client, used on shutdown.
func (h *WSHub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = map[*wsClient]struct{}{}
	h.mu.Unlock()
	for c := range clients {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}
