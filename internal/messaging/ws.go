// Package messaging pushes live notifications to connected browsers.
package messaging

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	mware "github.com/sudo-init-do/tradiehub/internal/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// client serialises writes; gorilla connections allow one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msgType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(msgType, payload)
}

// Hub tracks open connections per user. A user may have several tabs open.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHub(log *slog.Logger, allowedOrigins ...string) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		clients: make(map[string]map[*client]struct{}),
		log:     log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker admits requests without an Origin header (non-browser
// clients) and browsers from an allowed origin. With no allow list only
// same-origin browsers are admitted.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(set) > 0 {
			return set[origin]
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

func (h *Hub) register(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[userID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) connections(userID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		out = append(out, c)
	}
	return out
}

// Connected reports how many live connections userID has.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Publish pushes an event to every connection of userID. Users who are not
// connected simply miss it; the inbox keeps the durable copy.
func (h *Hub) Publish(userID, eventType string, data any) {
	conns := h.connections(userID)
	if len(conns) == 0 {
		return
	}
	payload, err := json.Marshal(wsEvent{Type: eventType, Data: data})
	if err != nil {
		h.log.Error("ws encode failed", "event", eventType, "err", err)
		return
	}
	for _, c := range conns {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			h.log.Debug("ws write failed, dropping connection", "user_id", userID, "err", err)
			h.unregister(userID, c)
			_ = c.conn.Close()
		}
	}
}

// ===== NotificationsWS - live feed of the caller's notifications =====
func (h *Hub) NotificationsWS(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	cl := &client{conn: ws}
	h.register(who.UserID, cl)
	defer func() {
		h.unregister(who.UserID, cl)
		_ = ws.Close()
	}()

	_ = cl.write(websocket.TextMessage, mustJSON(wsEvent{Type: "hello", Data: echo.Map{"user_id": who.UserID}}))

	done := make(chan struct{})
	defer close(done)
	go h.pinger(cl, done)

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	// Server push only; client frames are read and discarded.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return nil
		}
	}
}

func (h *Hub) pinger(c *client, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) Register(g *echo.Group) {
	g.GET("/ws/notifications", h.NotificationsWS)
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
