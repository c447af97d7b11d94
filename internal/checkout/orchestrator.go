// Package checkout turns a cart into a paid order, enrollments and instructor
// payouts, over either the buyer's wallet or the external payment gateway.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"skillzio/internal/catalog"
	"skillzio/internal/contracts"
	"skillzio/internal/enrollment"
	"skillzio/internal/messaging"
	"skillzio/internal/order"
	"skillzio/internal/payment"
	"skillzio/internal/revenue"
	"skillzio/internal/wallet"

	"github.com/google/uuid"
)

const methodWallet = "wallet"

type Catalog interface {
	FindCourses(ctx context.Context, ids []uuid.UUID) ([]catalog.Course, error)
}

type Cart interface {
	Clear(ctx context.Context, buyer uuid.UUID) error
}

type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error)
	VerifySignature(gatewayOrderID, paymentRef, signature string) bool
}

type Notifier interface {
	BroadcastOrderUpdate(orderID uuid.UUID, status order.Status)
}

type Deps struct {
	Orders      *order.Ledger
	Wallets     *wallet.Ledger
	Payments    *payment.Recorder
	Enrollments *enrollment.Manager
	Revenue     *revenue.Distributor
	Catalog     Catalog
	Cart        Cart
	Gateway     Gateway
	Outbox      messaging.Outbox
	Notifier    Notifier
}

type Options struct {
	Currency string
	// VerifySignatures rejects gateway confirmations whose signature does
	// not match.
	VerifySignatures bool
}

type Request struct {
	BuyerID   uuid.UUID     `json:"buyer_id"`
	CourseIDs []uuid.UUID   `json:"course_ids"`
	Amount    int64         `json:"amount"`
	Channel   order.Channel `json:"channel"`
}

// Confirmation is the gateway's report that an order was paid.
type Confirmation struct {
	PaymentRef string `json:"payment_ref"`
	Method     string `json:"method"`
	Amount     int64  `json:"amount"`
	Signature  string `json:"signature,omitempty"`
	ReceiptURL string `json:"receipt_url,omitempty"`
}

type Settlement struct {
	Order        order.Order             `json:"order"`
	Payment      *payment.Payment        `json:"payment,omitempty"`
	Enrollments  []enrollment.Enrollment `json:"enrollments,omitempty"`
	Distribution *revenue.Report         `json:"distribution,omitempty"`
	Warnings     []string                `json:"warnings,omitempty"`
}

type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

func New(deps Deps, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &Orchestrator{deps: deps, opts: opts, logger: logger}
}

// Checkout starts a checkout on the channel named by req. Wallet checkouts
// settle immediately; gateway checkouts return the pending order.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (Settlement, error) {
	switch req.Channel {
	case order.ChannelWallet:
		return o.CheckoutWithWallet(ctx, req)
	case order.ChannelGateway:
		pending, err := o.StartGatewayCheckout(ctx, req)
		if err != nil {
			return Settlement{}, err
		}
		return Settlement{Order: pending}, nil
	default:
		return Settlement{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, req.Channel)
	}
}

func (o *Orchestrator) CheckoutWithWallet(ctx context.Context, req Request) (Settlement, error) {
	courses, err := o.validate(ctx, req)
	if err != nil {
		return Settlement{}, err
	}

	balance, err := o.deps.Wallets.Balance(ctx, req.BuyerID)
	if err != nil {
		return Settlement{}, fmt.Errorf("read balance: %w", err)
	}
	if balance < req.Amount {
		o.logger.Info("wallet checkout rejected", "buyer_id", req.BuyerID, "amount", req.Amount, "balance", balance)
		return Settlement{}, fmt.Errorf("%w: balance %d, required %d", wallet.ErrInsufficientFunds, balance, req.Amount)
	}

	pending, err := o.deps.Orders.Create(ctx, req.BuyerID, orderItems(courses), req.Amount, order.ChannelWallet, "")
	if err != nil {
		return Settlement{}, err
	}

	debitKey := fmt.Sprintf("order:%s:debit", pending.ID)
	_, err = o.deps.Wallets.Debit(ctx, req.BuyerID, req.Amount, "course purchase "+pending.GatewayOrderID, debitKey)
	if err != nil {
		o.abandonWalletOrder(ctx, pending, err)
		return Settlement{}, err
	}

	settled, err := o.deps.Orders.Settle(ctx, pending.ID, order.StatusSuccess)
	if err != nil {
		o.logger.Error("wallet debited but order not settled", "order_id", pending.ID, "buyer_id", req.BuyerID, "err", err)
		return Settlement{}, fmt.Errorf("settle order %s: %w", pending.ID, err)
	}

	paid, err := o.deps.Payments.Record(ctx, payment.Attempt{
		OrderID:    settled.ID,
		BuyerID:    settled.BuyerID,
		PaymentRef: settled.GatewayOrderID,
		Method:     methodWallet,
		Amount:     settled.Amount,
		Outcome:    payment.StatusSuccess,
	})
	if err != nil {
		return o.settleTail(ctx, settled, courses, nil, fmt.Errorf("record payment: %w", err))
	}
	return o.settleTail(ctx, settled, courses, &paid, nil)
}

// abandonWalletOrder closes an order whose debit did not go through.
func (o *Orchestrator) abandonWalletOrder(ctx context.Context, pending order.Order, cause error) {
	o.logger.Warn("wallet debit failed", "order_id", pending.ID, "buyer_id", pending.BuyerID, "err", cause)

	failed, err := o.deps.Orders.Settle(ctx, pending.ID, order.StatusFailed)
	if err != nil {
		o.logger.Error("cannot fail order after debit error", "order_id", pending.ID, "err", err)
		return
	}
	_, err = o.deps.Payments.Record(ctx, payment.Attempt{
		OrderID:    failed.ID,
		BuyerID:    failed.BuyerID,
		PaymentRef: failed.GatewayOrderID,
		Method:     methodWallet,
		Amount:     failed.Amount,
		Outcome:    payment.StatusFailed,
	})
	if err != nil {
		o.logger.Error("cannot record failed wallet payment", "order_id", failed.ID, "err", err)
	}
	o.notify(failed)
}

func (o *Orchestrator) StartGatewayCheckout(ctx context.Context, req Request) (order.Order, error) {
	courses, err := o.validate(ctx, req)
	if err != nil {
		return order.Order{}, err
	}

	receipt := "rcpt_" + uuid.NewString()
	gatewayOrderID, err := o.deps.Gateway.CreateOrder(ctx, req.Amount, o.opts.Currency, receipt)
	if err != nil {
		return order.Order{}, fmt.Errorf("create gateway order: %w", err)
	}

	pending, err := o.deps.Orders.Create(ctx, req.BuyerID, orderItems(courses), req.Amount, order.ChannelGateway, gatewayOrderID)
	if err != nil {
		return order.Order{}, err
	}
	o.notify(pending)
	return pending, nil
}

// VerifyAndComplete settles a gateway order once the gateway confirmed the
// payment. Calling it again for a settled order replays the same settlement
// without moving money twice.
func (o *Orchestrator) VerifyAndComplete(ctx context.Context, orderID uuid.UUID, conf Confirmation) (Settlement, error) {
	current, err := o.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return Settlement{}, err
	}

	switch {
	case current.Channel != order.ChannelGateway:
		return Settlement{}, fmt.Errorf("%w: order %s was not placed through the gateway", ErrInvalidRequest, orderID)
	case current.Status == order.StatusFailed:
		return Settlement{}, fmt.Errorf("%w: order %s failed", ErrOrderClosed, orderID)
	case conf.PaymentRef == "" || conf.Method == "":
		return Settlement{}, fmt.Errorf("%w: payment reference and method are required", ErrInvalidRequest)
	case conf.Amount != current.Amount:
		return Settlement{}, fmt.Errorf("%w: paid %d, order amount %d", ErrInvalidRequest, conf.Amount, current.Amount)
	}
	if o.opts.VerifySignatures && !o.deps.Gateway.VerifySignature(current.GatewayOrderID, conf.PaymentRef, conf.Signature) {
		o.logger.Warn("gateway signature mismatch", "order_id", orderID, "payment_ref", conf.PaymentRef)
		return Settlement{}, ErrInvalidSignature
	}

	settled, err := o.deps.Orders.Settle(ctx, orderID, order.StatusSuccess)
	if err != nil {
		return Settlement{}, fmt.Errorf("settle order %s: %w", orderID, err)
	}
	if settled.Status != order.StatusSuccess {
		return Settlement{}, fmt.Errorf("%w: order %s is %s", ErrOrderClosed, orderID, settled.Status)
	}

	paid, err := o.recordGatewayPayment(ctx, settled, conf)
	if err != nil {
		return Settlement{Order: settled}, err
	}

	// The catalog only resolves instructors here. Prices come from the order
	// so a price change after checkout started does not move the split.
	courses, err := o.deps.Catalog.FindCourses(ctx, settled.CourseIDs)
	if err != nil {
		return o.settleTail(ctx, settled, nil, &paid, fmt.Errorf("load courses: %w", err))
	}
	return o.settleTail(ctx, settled, courses, &paid, nil)
}

func (o *Orchestrator) recordGatewayPayment(ctx context.Context, settled order.Order, conf Confirmation) (payment.Payment, error) {
	paid, err := o.deps.Payments.Record(ctx, payment.Attempt{
		OrderID:    settled.ID,
		BuyerID:    settled.BuyerID,
		PaymentRef: conf.PaymentRef,
		Method:     conf.Method,
		Amount:     conf.Amount,
		Outcome:    payment.StatusSuccess,
		ReceiptURL: conf.ReceiptURL,
	})
	if err == nil {
		return paid, nil
	}
	if !errors.Is(err, payment.ErrDuplicatePayment) {
		return payment.Payment{}, err
	}

	existing, lookupErr := o.deps.Payments.Successful(ctx, settled.ID)
	if lookupErr != nil {
		return payment.Payment{}, fmt.Errorf("load settled payment: %w", lookupErr)
	}
	if existing.PaymentRef != conf.PaymentRef {
		return payment.Payment{}, fmt.Errorf("%w: order %s was paid by %s", payment.ErrDuplicatePayment, settled.ID, existing.PaymentRef)
	}
	return existing, nil
}

// FailGatewayCheckout closes a pending gateway order whose payment failed.
// Orders that are already terminal are returned unchanged.
func (o *Orchestrator) FailGatewayCheckout(ctx context.Context, orderID uuid.UUID, paymentRef, method, reason string) (order.Order, error) {
	current, err := o.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if current.Channel != order.ChannelGateway {
		return order.Order{}, fmt.Errorf("%w: order %s was not placed through the gateway", ErrInvalidRequest, orderID)
	}
	if current.Status.Terminal() {
		return current, nil
	}

	failed, err := o.deps.Orders.Settle(ctx, orderID, order.StatusFailed)
	if err != nil {
		return order.Order{}, fmt.Errorf("fail order %s: %w", orderID, err)
	}
	if failed.Status != order.StatusFailed {
		return failed, nil
	}

	if paymentRef == "" {
		paymentRef = failed.GatewayOrderID
	}
	if method == "" {
		method = string(order.ChannelGateway)
	}
	_, err = o.deps.Payments.Record(ctx, payment.Attempt{
		OrderID:    failed.ID,
		BuyerID:    failed.BuyerID,
		PaymentRef: paymentRef,
		Method:     method,
		Amount:     failed.Amount,
		Outcome:    payment.StatusFailed,
	})
	if err != nil {
		o.logger.Error("cannot record failed gateway payment", "order_id", failed.ID, "err", err)
	}

	o.logger.Info("gateway checkout failed", "order_id", failed.ID, "payment_ref", paymentRef, "reason", reason)
	o.notify(failed)
	return failed, nil
}

// settleTail runs everything that follows a SUCCESS order. Each step is
// attempted even when an earlier one failed. Failures come back joined under
// ErrPartialSettlement next to the settlement; the order stays SUCCESS.
func (o *Orchestrator) settleTail(ctx context.Context, settled order.Order, courses []catalog.Course, paid *payment.Payment, prior error) (Settlement, error) {
	s := Settlement{Order: settled, Payment: paid}
	var errs []error
	if prior != nil {
		errs = append(errs, prior)
	}

	enrollments, err := o.deps.Enrollments.Grant(ctx, settled.BuyerID, settled.ID, settled.CourseIDs)
	s.Enrollments = enrollments
	if err != nil {
		errs = append(errs, fmt.Errorf("grant enrollments: %w", err))
	}

	instructors := make(map[uuid.UUID]uuid.UUID, len(courses))
	for _, c := range courses {
		instructors[c.ID] = c.InstructorID
	}
	// Distribution runs inline with the request so the buyer sees payout
	// failures in the response. It is keyed per course and safe to re-run.
	report := o.deps.Revenue.Distribute(ctx, settled, instructors, settled.GatewayOrderID)
	s.Distribution = &report
	for _, res := range report.Failed() {
		errs = append(errs, fmt.Errorf("distribute course %s: %w", res.CourseID, res.Err))
	}

	if err := o.deps.Cart.Clear(ctx, settled.BuyerID); err != nil {
		errs = append(errs, fmt.Errorf("clear cart: %w", err))
	}

	if err := o.enqueueSettled(ctx, settled, paid, report); err != nil {
		errs = append(errs, err)
	}

	o.notify(settled)

	if len(errs) > 0 {
		for _, e := range errs {
			s.Warnings = append(s.Warnings, e.Error())
		}
		o.logger.Error("settlement incomplete, reconciliation needed", "order_id", settled.ID, "failures", len(errs), "err", errors.Join(errs...))
		return s, fmt.Errorf("%w: %w", ErrPartialSettlement, errors.Join(errs...))
	}

	o.logger.Info("checkout settled", "order_id", settled.ID, "buyer_id", settled.BuyerID, "channel", settled.Channel, "amount", settled.Amount)
	return s, nil
}

func (o *Orchestrator) enqueueSettled(ctx context.Context, settled order.Order, paid *payment.Payment, report revenue.Report) error {
	if o.deps.Outbox == nil {
		return nil
	}

	evt := contracts.CheckoutSettledEvent{
		EventID:   SettledEventID(settled.ID),
		OrderID:   settled.ID.String(),
		BuyerID:   settled.BuyerID.String(),
		Channel:   string(settled.Channel),
		Amount:    settled.Amount,
		SettledAt: settled.UpdatedAt,
	}
	if evt.SettledAt.IsZero() {
		evt.SettledAt = time.Now().UTC()
	}
	if paid != nil {
		evt.PaymentRef = paid.PaymentRef
	}
	for _, res := range report.Results {
		c := contracts.SettledCourse{
			CourseID:        res.CourseID.String(),
			Price:           res.Price,
			InstructorShare: res.InstructorShare,
			PlatformShare:   res.PlatformShare,
			Distributed:     res.Err == nil,
		}
		if res.InstructorID != uuid.Nil {
			c.InstructorID = res.InstructorID.String()
		}
		evt.Courses = append(evt.Courses, c)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal settled event: %w", err)
	}
	if _, err := o.deps.Outbox.Enqueue(ctx, evt.EventID, contracts.EventCheckoutSettled, payload); err != nil {
		return fmt.Errorf("enqueue settled event: %w", err)
	}
	return nil
}

func (o *Orchestrator) notify(ord order.Order) {
	if o.deps.Notifier != nil {
		o.deps.Notifier.BroadcastOrderUpdate(ord.ID, ord.Status)
	}
}

// validate checks req against the catalog and the buyer's enrollments
// before anything is written. It returns the requested courses in order.
func (o *Orchestrator) validate(ctx context.Context, req Request) ([]catalog.Course, error) {
	switch {
	case req.BuyerID == uuid.Nil:
		return nil, fmt.Errorf("%w: buyer is required", ErrInvalidRequest)
	case len(req.CourseIDs) == 0:
		return nil, fmt.Errorf("%w: no courses requested", ErrInvalidRequest)
	case req.Amount <= 0:
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	ids := uniqueIDs(req.CourseIDs)
	courses, err := o.deps.Catalog.FindCourses(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load courses: %w", err)
	}
	if len(courses) != len(ids) {
		return nil, fmt.Errorf("%w: %d of %d courses not found", ErrInvalidRequest, len(ids)-len(courses), len(ids))
	}

	var total int64
	for _, c := range courses {
		total += c.Price
	}
	if total != req.Amount {
		return nil, fmt.Errorf("%w: amount %d does not match course total %d", ErrInvalidRequest, req.Amount, total)
	}

	enrolled, err := o.deps.Enrollments.EnrolledCourses(ctx, req.BuyerID, ids)
	if err != nil {
		return nil, fmt.Errorf("check enrollments: %w", err)
	}
	if len(enrolled) > 0 {
		names := make([]string, 0, len(enrolled))
		for _, c := range courses {
			for _, id := range enrolled {
				if c.ID == id {
					names = append(names, c.Name)
				}
			}
		}
		return nil, &AlreadyEnrolledError{Courses: names}
	}
	return courses, nil
}

var settledNamespace = uuid.MustParse("5f0c7c8e-3f52-4f1b-9a8e-6b2d0f6c4a11")

// SettledEventID is stable per order, so a replayed settlement enqueues the
// event once.
func SettledEventID(orderID uuid.UUID) string {
	return uuid.NewSHA1(settledNamespace, orderID[:]).String()
}

func orderItems(courses []catalog.Course) []order.Item {
	items := make([]order.Item, len(courses))
	for i, c := range courses {
		items[i] = order.Item{CourseID: c.ID, Price: c.Price}
	}
	return items
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
