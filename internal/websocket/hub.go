// Package websocket streams order status changes to connected buyers.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"skillzio/internal/order"

	"github.com/google/uuid"
)

type OrderUpdate struct {
	OrderID   uuid.UUID    `json:"order_id"`
	Status    order.Status `json:"status"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type Client struct {
	hub     *Hub
	conn    *Conn
	send    chan []byte
	orderID uuid.UUID
}

// Hub fans order updates out to the clients watching each order. All client
// bookkeeping happens on the Run goroutine.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan OrderUpdate
	clients    map[uuid.UUID]map[*Client]struct{}
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan OrderUpdate, 64),
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.orderID] = set
			}
			set[c] = struct{}{}
		case c := <-h.unregister:
			h.drop(c)
		case upd := <-h.broadcast:
			msg, err := json.Marshal(upd)
			if err != nil {
				h.logger.Error("marshal order update", "order_id", upd.OrderID, "err", err)
				continue
			}
			for c := range h.clients[upd.OrderID] {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("slow websocket client dropped", "order_id", upd.OrderID)
					h.drop(c)
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[uuid.UUID]map[*Client]struct{})
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	set, ok := h.clients[c.orderID]
	if !ok {
		return
	}
	if _, exists := set[c]; exists {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.orderID)
	}
}

// BroadcastOrderUpdate queues an update without blocking the caller. Updates
// are dropped when the hub is saturated.
func (h *Hub) BroadcastOrderUpdate(orderID uuid.UUID, status order.Status) {
	upd := OrderUpdate{OrderID: orderID, Status: status, UpdatedAt: time.Now().UTC()}
	select {
	case h.broadcast <- upd:
	default:
		h.logger.Warn("order update dropped", "order_id", orderID, "status", status)
	}
}
