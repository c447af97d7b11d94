package payment_test

import (
	"testing"

	"skillzio/internal/order"
	"skillzio/internal/payment"
	"skillzio/internal/storage/storagetest"

	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

type setupFunc func(t *testing.T) (*payment.Recorder, func(t *testing.T) uuid.UUID)

func TestRecorder(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		runRecorderTests(t, func(t *testing.T) (*payment.Recorder, func(t *testing.T) uuid.UUID) {
			return payment.NewRecorder(payment.NewMemoryStore(), slogt.New(t)), func(*testing.T) uuid.UUID {
				return uuid.New()
			}
		})
	})

	t.Run("postgres", func(t *testing.T) {
		runRecorderTests(t, func(t *testing.T) (*payment.Recorder, func(t *testing.T) uuid.UUID) {
			pool := storagetest.DB(t)
			orders := order.NewLedger(order.NewPostgresStore(pool), slogt.New(t))
			newOrder := func(t *testing.T) uuid.UUID {
				o, err := orders.Create(t.Context(), uuid.New(), []order.Item{{CourseID: uuid.New(), Price: 500}}, 500, order.ChannelGateway, "")
				require.NoError(t, err)
				return o.ID
			}
			return payment.NewRecorder(payment.NewPostgresStore(pool), slogt.New(t)), newOrder
		})
	})
}

func runRecorderTests(t *testing.T, setup setupFunc) {
	attempt := func(orderID uuid.UUID, ref string, outcome payment.Status) payment.Attempt {
		return payment.Attempt{
			OrderID:    orderID,
			BuyerID:    uuid.New(),
			PaymentRef: ref,
			Method:     "card",
			Amount:     500,
			Outcome:    outcome,
		}
	}

	t.Run("ok, failed attempts then one success", func(t *testing.T) {
		recorder, newOrder := setup(t)
		orderID := newOrder(t)

		_, err := recorder.Record(t.Context(), attempt(orderID, "pay_1", payment.StatusFailed))
		require.NoError(t, err)
		_, err = recorder.Record(t.Context(), attempt(orderID, "pay_2", payment.StatusFailed))
		require.NoError(t, err)

		p, err := recorder.Record(t.Context(), attempt(orderID, "pay_3", payment.StatusSuccess))
		require.NoError(t, err)
		require.Equal(t, payment.StatusSuccess, p.Status)

		got, err := recorder.Successful(t.Context(), orderID)
		require.NoError(t, err)
		require.Equal(t, "pay_3", got.PaymentRef)

		all, err := recorder.ListByOrder(t.Context(), orderID)
		require.NoError(t, err)
		require.Len(t, all, 3)
	})

	t.Run("fail, second success for the same order", func(t *testing.T) {
		recorder, newOrder := setup(t)
		orderID := newOrder(t)

		_, err := recorder.Record(t.Context(), attempt(orderID, "pay_1", payment.StatusSuccess))
		require.NoError(t, err)

		_, err = recorder.Record(t.Context(), attempt(orderID, "pay_1", payment.StatusSuccess))
		require.ErrorIs(t, err, payment.ErrDuplicatePayment)

		_, err = recorder.Record(t.Context(), attempt(orderID, "pay_9", payment.StatusSuccess))
		require.ErrorIs(t, err, payment.ErrDuplicatePayment)

		all, err := recorder.ListByOrder(t.Context(), orderID)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("fail, no successful payment", func(t *testing.T) {
		recorder, newOrder := setup(t)

		_, err := recorder.Successful(t.Context(), newOrder(t))
		require.ErrorIs(t, err, payment.ErrPaymentNotFound)
	})

	t.Run("fail, invalid attempts", func(t *testing.T) {
		recorder, newOrder := setup(t)
		orderID := newOrder(t)

		bad := []payment.Attempt{
			attempt(uuid.Nil, "pay_1", payment.StatusSuccess),
			attempt(orderID, "", payment.StatusSuccess),
			attempt(orderID, "pay_1", payment.Status("PENDING")),
		}
		noMethod := attempt(orderID, "pay_1", payment.StatusSuccess)
		noMethod.Method = ""
		zero := attempt(orderID, "pay_1", payment.StatusSuccess)
		zero.Amount = 0
		bad = append(bad, noMethod, zero)

		for _, a := range bad {
			_, err := recorder.Record(t.Context(), a)
			require.ErrorIs(t, err, payment.ErrInvalidPayment)
		}
	})
}
