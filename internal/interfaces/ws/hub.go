package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fumbled/jeetboard/internal/auth"
	"github.com/fumbled/jeetboard/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

// Message is the wire envelope in both directions.
type Message struct {
	Type    string          `json:"type"`
	Address string          `json:"address,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub fans wallet analysis updates out to subscribed clients. Clients
// subscribe to lowercase wallet addresses; each refreshed FumbleResult is
// pushed to every subscriber of that wallet.
type Hub struct {
	jwt      auth.JWT
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu        sync.RWMutex
	subs      map[string]struct{}
	closeOnce sync.Once
}

// NewHub creates a hub whose connections are authenticated with jwt.
func NewHub(jwt auth.JWT) *Hub {
	return &Hub{
		jwt: jwt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades an authenticated request to a websocket connection.
// The token comes from the Authorization header or a token query parameter,
// browsers cannot set headers on websocket upgrades.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if _, err := h.jwt.Verify(token); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

// BroadcastWalletUpdate pushes a refreshed result to every subscriber of
// its wallet. Slow clients are dropped rather than blocking the broadcast.
func (h *Hub) BroadcastWalletUpdate(address string, result models.FumbleResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal wallet update")
		return
	}
	msg, _ := json.Marshal(Message{
		Type:    "wallet_update",
		Address: address,
		Payload: payload,
	})

	address = strings.ToLower(address)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(address) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			go c.close()
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (c *client) subscribed(address string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[address]
	return ok
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.hub.remove(c)
		close(c.send)
	})
}

func (c *client) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Websocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		address := strings.ToLower(msg.Address)

		switch msg.Type {
		case "subscribe":
			if address == "" {
				continue
			}
			c.mu.Lock()
			c.subs[address] = struct{}{}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			delete(c.subs, address)
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
