// Package contracts holds the message bodies exchanged with other services.
package contracts

import "time"

const (
	EventCheckoutSettled = "checkout.settled"
	EventGatewayPayment  = "gateway.payment"
)

type SettledCourse struct {
	CourseID        string `json:"course_id"`
	InstructorID    string `json:"instructor_id,omitempty"`
	Price           int64  `json:"price"`
	InstructorShare int64  `json:"instructor_share"`
	PlatformShare   int64  `json:"platform_share"`
	Distributed     bool   `json:"distributed"`
}

type CheckoutSettledEvent struct {
	EventID    string          `json:"event_id"`
	OrderID    string          `json:"order_id"`
	BuyerID    string          `json:"buyer_id"`
	Channel    string          `json:"channel"`
	Amount     int64           `json:"amount"`
	PaymentRef string          `json:"payment_ref"`
	Courses    []SettledCourse `json:"courses"`
	SettledAt  time.Time       `json:"settled_at"`
}

type GatewayPaymentStatus string

const (
	GatewayPaymentCaptured GatewayPaymentStatus = "captured"
	GatewayPaymentFailed   GatewayPaymentStatus = "failed"
)

// GatewayPaymentEvent is the confirmation the payment gateway relays for an
// order created through it.
type GatewayPaymentEvent struct {
	EventID        string               `json:"event_id"`
	GatewayOrderID string               `json:"gateway_order_id"`
	PaymentRef     string               `json:"payment_ref"`
	Method         string               `json:"method"`
	Amount         int64                `json:"amount"`
	Status         GatewayPaymentStatus `json:"status"`
	Signature      string               `json:"signature,omitempty"`
	ReceiptURL     string               `json:"receipt_url,omitempty"`
	Reason         string               `json:"reason,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}
