package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, p Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (id, order_id, buyer_id, payment_ref, status, method, amount, receipt_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OrderID, p.BuyerID, p.PaymentRef, p.Status, p.Method, p.Amount, p.ReceiptURL, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePayment
		}
		return err
	}
	return nil
}

const selectPayment = `
	SELECT id, order_id, buyer_id, payment_ref, status, method, amount, receipt_url, created_at
	FROM payments`

func (s *PostgresStore) Successful(ctx context.Context, orderID uuid.UUID) (Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx, selectPayment+`
		WHERE order_id = $1 AND status = $2`,
		orderID, StatusSuccess,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	rows, err := s.pool.Query(ctx, selectPayment+`
		WHERE order_id = $1
		ORDER BY created_at`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.BuyerID, &p.PaymentRef, &p.Status, &p.Method, &p.Amount, &p.ReceiptURL, &p.CreatedAt)
	return p, err
}
