package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

type Payment struct {
	ID         uuid.UUID `json:"id"`
	OrderID    uuid.UUID `json:"order_id"`
	BuyerID    uuid.UUID `json:"buyer_id"`
	PaymentRef string    `json:"payment_ref"`
	Status     Status    `json:"status"`
	Method     string    `json:"method"`
	Amount     int64     `json:"amount"`
	ReceiptURL string    `json:"receipt_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Attempt is the outcome of a single payment try against an order.
type Attempt struct {
	OrderID    uuid.UUID
	BuyerID    uuid.UUID
	PaymentRef string
	Method     string
	Amount     int64
	Outcome    Status
	ReceiptURL string
}

var (
	ErrDuplicatePayment = errors.New("order already has a successful payment")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrInvalidPayment   = errors.New("invalid payment")
)

type Store interface {
	// Insert fails with ErrDuplicatePayment when p is SUCCESS and the order
	// already has a SUCCESS payment.
	Insert(ctx context.Context, p Payment) error
	Successful(ctx context.Context, orderID uuid.UUID) (Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error)
}

type Recorder struct {
	store  Store
	logger *slog.Logger
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, a Attempt) (Payment, error) {
	switch {
	case a.OrderID == uuid.Nil:
		return Payment{}, fmt.Errorf("%w: order id is required", ErrInvalidPayment)
	case a.PaymentRef == "":
		return Payment{}, fmt.Errorf("%w: payment reference is required", ErrInvalidPayment)
	case a.Method == "":
		return Payment{}, fmt.Errorf("%w: method is required", ErrInvalidPayment)
	case a.Amount <= 0:
		return Payment{}, fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	case a.Outcome != StatusSuccess && a.Outcome != StatusFailed:
		return Payment{}, fmt.Errorf("%w: unknown outcome %q", ErrInvalidPayment, a.Outcome)
	}

	p := Payment{
		ID:         uuid.New(),
		OrderID:    a.OrderID,
		BuyerID:    a.BuyerID,
		PaymentRef: a.PaymentRef,
		Status:     a.Outcome,
		Method:     a.Method,
		Amount:     a.Amount,
		ReceiptURL: a.ReceiptURL,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.Insert(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			r.logger.Warn("duplicate payment rejected", "order_id", a.OrderID, "payment_ref", a.PaymentRef)
			return Payment{}, err
		}
		return Payment{}, fmt.Errorf("insert payment: %w", err)
	}

	r.logger.Info("payment recorded", "order_id", p.OrderID, "payment_id", p.ID, "status", p.Status, "method", p.Method)
	return p, nil
}

func (r *Recorder) Successful(ctx context.Context, orderID uuid.UUID) (Payment, error) {
	return r.store.Successful(ctx, orderID)
}

func (r *Recorder) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	return r.store.ListByOrder(ctx, orderID)
}
