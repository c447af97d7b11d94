package order

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type Channel string

const (
	ChannelWallet  Channel = "wallet"
	ChannelGateway Channel = "gateway"
)

func (c Channel) Valid() bool {
	return c == ChannelWallet || c == ChannelGateway
}

// Item is one course of an order at the price the buyer was charged.
type Item struct {
	CourseID uuid.UUID `json:"course_id"`
	Price    int64     `json:"price"`
}

type Order struct {
	ID             uuid.UUID   `json:"id"`
	BuyerID        uuid.UUID   `json:"buyer_id"`
	CourseIDs      []uuid.UUID `json:"course_ids"`
	Items          []Item      `json:"items"`
	Amount         int64       `json:"amount"`
	Status         Status      `json:"status"`
	Channel        Channel     `json:"channel"`
	GatewayOrderID string      `json:"gateway_order_id"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Price returns the price course was sold at in o.
func (o Order) Price(course uuid.UUID) (int64, bool) {
	for _, it := range o.Items {
		if it.CourseID == course {
			return it.Price, true
		}
	}
	return 0, false
}
