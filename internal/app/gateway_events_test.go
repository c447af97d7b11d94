package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"skillzio/internal/catalog"
	"skillzio/internal/certificate"
	"skillzio/internal/checkout"
	"skillzio/internal/contracts"
	"skillzio/internal/enrollment"
	"skillzio/internal/gateway"
	"skillzio/internal/messaging"
	"skillzio/internal/order"
	"skillzio/internal/payment"
	"skillzio/internal/revenue"
	"skillzio/internal/wallet"

	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

// flakyOrders fails gateway lookups while down is set.
type flakyOrders struct {
	order.Store
	down atomic.Bool
}

func (s *flakyOrders) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (order.Order, error) {
	if s.down.Load() {
		return order.Order{}, errors.New("connection reset")
	}
	return s.Store.FindByGatewayOrderID(ctx, gatewayOrderID)
}

type gatewayFixture struct {
	events  *gatewayEvents
	inbox   *messaging.MemoryInbox
	store   *flakyOrders
	orch    *checkout.Orchestrator
	orders  *order.Ledger
	wallets *wallet.Ledger
	buyer   uuid.UUID
	course  catalog.Course
}

func newGatewayFixture(t *testing.T) gatewayFixture {
	logger := slogt.New(t)
	cat := catalog.NewMemory()
	f := gatewayFixture{buyer: uuid.New(), inbox: messaging.NewMemoryInbox(), store: &flakyOrders{Store: order.NewMemoryStore()}}
	f.course = catalog.Course{ID: uuid.New(), InstructorID: uuid.New(), Name: "Kafka 101", Price: 800}
	cat.AddCourse(f.course, uuid.New())
	cat.AddUser(catalog.User{ID: uuid.New(), Name: "Admin", Role: "admin"})

	enrollStore := enrollment.NewMemoryStore()
	issuer := certificate.NewIssuer(enrollStore, cat, cat, certificate.URLRenderer{BaseURL: "https://certs.example.com"}, logger)
	f.orders = order.NewLedger(f.store, logger)
	f.wallets = wallet.NewLedger(wallet.NewMemoryStore(), logger)
	distributor, err := revenue.NewDistributor(f.wallets, cat, revenue.Config{}, logger)
	require.NoError(t, err)

	f.orch = checkout.New(checkout.Deps{
		Orders:      f.orders,
		Wallets:     f.wallets,
		Payments:    payment.NewRecorder(payment.NewMemoryStore(), logger),
		Enrollments: enrollment.NewManager(enrollStore, cat, issuer, logger),
		Revenue:     distributor,
		Catalog:     cat,
		Cart:        cat,
		Gateway:     gateway.Sandbox{Secret: "k"},
		Outbox:      messaging.NewMemoryOutbox(),
	}, checkout.Options{VerifySignatures: true}, logger)

	f.events = &gatewayEvents{checkout: f.orch, orders: f.orders, inbox: f.inbox, logger: logger}
	return f
}

func (f gatewayFixture) start(t *testing.T) order.Order {
	o, err := f.orch.StartGatewayCheckout(t.Context(), checkout.Request{BuyerID: f.buyer, CourseIDs: []uuid.UUID{f.course.ID}, Amount: f.course.Price, Channel: order.ChannelGateway})
	require.NoError(t, err)
	return o
}

func delivery(t *testing.T, evt contracts.GatewayPaymentEvent) amqp091.Delivery {
	body, err := json.Marshal(evt)
	require.NoError(t, err)
	return amqp091.Delivery{Body: body, MessageId: evt.EventID}
}

func (f gatewayFixture) captured(o order.Order, ref string) contracts.GatewayPaymentEvent {
	return contracts.GatewayPaymentEvent{
		EventID:        uuid.NewString(),
		GatewayOrderID: o.GatewayOrderID,
		PaymentRef:     ref,
		Method:         "upi",
		Amount:         o.Amount,
		Status:         contracts.GatewayPaymentCaptured,
		Signature:      gateway.Sign("k", o.GatewayOrderID, ref),
	}
}

func TestGatewayEvents(t *testing.T) {
	t.Run("ok, captured event settles once", func(t *testing.T) {
		f := newGatewayFixture(t)
		o := f.start(t)

		evt := contracts.GatewayPaymentEvent{
			EventID:        uuid.NewString(),
			GatewayOrderID: o.GatewayOrderID,
			PaymentRef:     "pay_1",
			Method:         "upi",
			Amount:         o.Amount,
			Status:         contracts.GatewayPaymentCaptured,
			Signature:      gateway.Sign("k", o.GatewayOrderID, "pay_1"),
		}
		require.NoError(t, f.events.handle(t.Context(), delivery(t, evt)))
		require.NoError(t, f.events.handle(t.Context(), delivery(t, evt)))

		settled, err := f.orders.Get(t.Context(), o.ID)
		require.NoError(t, err)
		require.Equal(t, order.StatusSuccess, settled.Status)

		balance, err := f.wallets.Balance(t.Context(), f.course.InstructorID)
		require.NoError(t, err)
		require.Equal(t, int64(720), balance)
	})

	t.Run("ok, transient failure leaves the event for redelivery", func(t *testing.T) {
		f := newGatewayFixture(t)
		o := f.start(t)
		evt := f.captured(o, "pay_1")

		f.store.down.Store(true)
		err := f.events.handle(t.Context(), delivery(t, evt))
		require.Error(t, err)
		require.False(t, messaging.IsPermanent(err))

		seen, err := f.inbox.Processed(t.Context(), evt.EventID)
		require.NoError(t, err)
		require.False(t, seen)

		f.store.down.Store(false)
		require.NoError(t, f.events.handle(t.Context(), delivery(t, evt)))

		settled, err := f.orders.Get(t.Context(), o.ID)
		require.NoError(t, err)
		require.Equal(t, order.StatusSuccess, settled.Status)

		seen, err = f.inbox.Processed(t.Context(), evt.EventID)
		require.NoError(t, err)
		require.True(t, seen)
	})

	t.Run("ok, event applied but not marked settles once on redelivery", func(t *testing.T) {
		f := newGatewayFixture(t)
		o := f.start(t)
		evt := f.captured(o, "pay_1")

		// The process stopped after settling and before the inbox write.
		require.NoError(t, f.events.apply(t.Context(), evt))
		require.NoError(t, f.events.handle(t.Context(), delivery(t, evt)))

		balance, err := f.wallets.Balance(t.Context(), f.course.InstructorID)
		require.NoError(t, err)
		require.Equal(t, int64(720), balance)

		seen, err := f.inbox.Processed(t.Context(), evt.EventID)
		require.NoError(t, err)
		require.True(t, seen)
	})

	t.Run("ok, failed event closes the order", func(t *testing.T) {
		f := newGatewayFixture(t)
		o := f.start(t)

		err := f.events.handle(t.Context(), delivery(t, contracts.GatewayPaymentEvent{
			EventID:        uuid.NewString(),
			GatewayOrderID: o.GatewayOrderID,
			PaymentRef:     "pay_1",
			Method:         "card",
			Amount:         o.Amount,
			Status:         contracts.GatewayPaymentFailed,
			Reason:         "declined",
		}))
		require.NoError(t, err)

		failed, err := f.orders.Get(t.Context(), o.ID)
		require.NoError(t, err)
		require.Equal(t, order.StatusFailed, failed.Status)
	})

	t.Run("fail, bad events are dropped", func(t *testing.T) {
		f := newGatewayFixture(t)
		o := f.start(t)

		err := f.events.handle(t.Context(), amqp091.Delivery{Body: []byte("{")})
		require.True(t, messaging.IsPermanent(err))

		err = f.events.handle(t.Context(), delivery(t, contracts.GatewayPaymentEvent{EventID: uuid.NewString(), GatewayOrderID: "unknown", Status: contracts.GatewayPaymentCaptured}))
		require.True(t, messaging.IsPermanent(err))

		err = f.events.handle(t.Context(), delivery(t, contracts.GatewayPaymentEvent{
			EventID:        uuid.NewString(),
			GatewayOrderID: o.GatewayOrderID,
			PaymentRef:     "pay_1",
			Method:         "card",
			Amount:         o.Amount,
			Status:         contracts.GatewayPaymentCaptured,
			Signature:      "forged",
		}))
		require.True(t, messaging.IsPermanent(err))
		require.ErrorIs(t, err, checkout.ErrInvalidSignature)

		err = f.events.handle(t.Context(), delivery(t, contracts.GatewayPaymentEvent{EventID: uuid.NewString(), GatewayOrderID: o.GatewayOrderID, Status: "refunded"}))
		require.True(t, messaging.IsPermanent(err))
	})
}
