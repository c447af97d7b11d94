package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"skillzio/internal/checkout"
	"skillzio/internal/contracts"
	"skillzio/internal/messaging"
	"skillzio/internal/order"
	"skillzio/internal/payment"

	"github.com/rabbitmq/amqp091-go"
)

// gatewayEvents applies payment confirmations relayed by the gateway.
type gatewayEvents struct {
	checkout *checkout.Orchestrator
	orders   *order.Ledger
	inbox    messaging.Inbox
	logger   *slog.Logger
}

func (g *gatewayEvents) handle(ctx context.Context, msg amqp091.Delivery) error {
	var evt contracts.GatewayPaymentEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("decode gateway event: %w", err))
	}
	if evt.EventID == "" {
		evt.EventID = msg.MessageId
	}
	if evt.EventID == "" || evt.GatewayOrderID == "" {
		return messaging.Permanent(errors.New("gateway event without id or order"))
	}

	seen, err := g.inbox.Processed(ctx, evt.EventID)
	if err != nil {
		return err
	}
	if seen {
		g.logger.Info("gateway event already handled", "event_id", evt.EventID)
		return nil
	}

	// Settlement is idempotent, so the event is marked only once it took
	// effect. A crash before the mark replays it on redelivery.
	if err := g.apply(ctx, evt); err != nil {
		return err
	}
	return g.inbox.MarkProcessed(ctx, evt.EventID, contracts.EventGatewayPayment)
}

func (g *gatewayEvents) apply(ctx context.Context, evt contracts.GatewayPaymentEvent) error {
	o, err := g.orders.FindByGatewayOrderID(ctx, evt.GatewayOrderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return messaging.Permanent(fmt.Errorf("gateway order %s: %w", evt.GatewayOrderID, err))
		}
		return err
	}

	switch evt.Status {
	case contracts.GatewayPaymentCaptured:
		_, err = g.checkout.VerifyAndComplete(ctx, o.ID, checkout.Confirmation{
			PaymentRef: evt.PaymentRef,
			Method:     evt.Method,
			Amount:     evt.Amount,
			Signature:  evt.Signature,
			ReceiptURL: evt.ReceiptURL,
		})
	case contracts.GatewayPaymentFailed:
		_, err = g.checkout.FailGatewayCheckout(ctx, o.ID, evt.PaymentRef, evt.Method, evt.Reason)
	default:
		return messaging.Permanent(fmt.Errorf("unknown gateway status %q", evt.Status))
	}

	switch {
	case err == nil:
		g.logger.Info("gateway event applied", "event_id", evt.EventID, "order_id", o.ID, "status", evt.Status)
		return nil
	case errors.Is(err, checkout.ErrPartialSettlement):
		// The order is paid; the tail failures are already logged and are
		// fixed by reconciliation, not by redelivery.
		return nil
	case errors.Is(err, checkout.ErrInvalidRequest),
		errors.Is(err, checkout.ErrInvalidSignature),
		errors.Is(err, checkout.ErrOrderClosed),
		errors.Is(err, payment.ErrDuplicatePayment):
		return messaging.Permanent(err)
	default:
		return err
	}
}
