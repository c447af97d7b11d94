package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid order")
)

type Store interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	// Transition moves a PENDING order to status. An order that is already
	// terminal is returned as stored with changed set to false.
	Transition(ctx context.Context, id uuid.UUID, status Status) (o Order, changed bool, err error)
	ListByBuyer(ctx context.Context, buyer uuid.UUID) ([]Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Order, error)
}

type Ledger struct {
	store  Store
	logger *slog.Logger
}

func NewLedger(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Create records a PENDING order for items. The item prices are frozen on
// the order and must add up to amount.
func (l *Ledger) Create(ctx context.Context, buyer uuid.UUID, items []Item, amount int64, channel Channel, gatewayOrderID string) (Order, error) {
	items = dedupe(items)
	if len(items) == 0 {
		return Order{}, fmt.Errorf("%w: course set is empty", ErrInvalidOrder)
	}
	if amount <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	var total int64
	courses := make([]uuid.UUID, len(items))
	for i, it := range items {
		if it.Price < 0 {
			return Order{}, fmt.Errorf("%w: course %s has a negative price", ErrInvalidOrder, it.CourseID)
		}
		total += it.Price
		courses[i] = it.CourseID
	}
	if total != amount {
		return Order{}, fmt.Errorf("%w: items total %d, amount %d", ErrInvalidOrder, total, amount)
	}
	if !channel.Valid() {
		return Order{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidOrder, channel)
	}
	if gatewayOrderID == "" {
		gatewayOrderID = string(channel) + "_" + uuid.NewString()
	}

	now := time.Now().UTC()
	o := Order{
		ID:             uuid.New(),
		BuyerID:        buyer,
		CourseIDs:      courses,
		Items:          items,
		Amount:         amount,
		Status:         StatusPending,
		Channel:        channel,
		GatewayOrderID: gatewayOrderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.store.Insert(ctx, o); err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	l.logger.Info("order created", "order_id", o.ID, "buyer_id", buyer, "amount", amount, "channel", channel, "courses", len(courses))
	return o, nil
}

// Settle moves a pending order to outcome. Settling a terminal order is a
// no-op that returns the stored state.
func (l *Ledger) Settle(ctx context.Context, id uuid.UUID, outcome Status) (Order, error) {
	if !outcome.Terminal() {
		return Order{}, fmt.Errorf("%w: cannot settle to %q", ErrInvalidOrder, outcome)
	}

	o, changed, err := l.store.Transition(ctx, id, outcome)
	if err != nil {
		return Order{}, err
	}
	if changed {
		l.logger.Info("order settled", "order_id", id, "status", o.Status)
	} else if o.Status != outcome {
		l.logger.Warn("order already settled", "order_id", id, "status", o.Status, "requested", outcome)
	}
	return o, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	return l.store.Get(ctx, id)
}

func (l *Ledger) ListByBuyer(ctx context.Context, buyer uuid.UUID) ([]Order, error) {
	return l.store.ListByBuyer(ctx, buyer)
}

func (l *Ledger) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Order, error) {
	return l.store.FindByGatewayOrderID(ctx, gatewayOrderID)
}

func dedupe(items []Item) []Item {
	seen := make(map[uuid.UUID]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.CourseID]; ok {
			continue
		}
		seen[it.CourseID] = struct{}{}
		out = append(out, it)
	}
	return out
}
