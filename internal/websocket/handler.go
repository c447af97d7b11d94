package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"skillzio/internal/order"

	"github.com/google/uuid"
	gw "github.com/gorilla/websocket"
)

type Conn = gw.Conn

const writeWait = 10 * time.Second

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Orders interface {
	Get(ctx context.Context, id uuid.UUID) (order.Order, error)
}

type Handler struct {
	hub    *Hub
	orders Orders
	logger *slog.Logger
}

func NewHandler(hub *Hub, orders Orders, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, orders: orders, logger: logger}
}

// ServeWS upgrades the request and streams updates for the order in the
// path. The current status is sent first.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		http.Error(w, "missing or invalid X-User-ID", http.StatusUnauthorized)
		return
	}

	o, err := h.orders.Get(r.Context(), orderID)
	if err != nil || o.BuyerID != userID {
		if err != nil && !errors.Is(err, order.ErrOrderNotFound) {
			h.logger.Error("load order for websocket", "order_id", orderID, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "order_id", orderID, "err", err)
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		send:    make(chan []byte, 16),
		orderID: orderID,
	}

	// The snapshot is queued before registering so it always precedes
	// broadcast updates.
	if b, err := json.Marshal(OrderUpdate{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt}); err == nil {
		client.send <- b
	}

	h.hub.register <- client
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(gw.CloseMessage, gw.FormatCloseMessage(gw.CloseNormalClosure, ""))
}
