package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectOrder = `
	SELECT id, buyer_id, amount, status, channel, gateway_order_id, created_at, updated_at
	FROM orders`

func (s *PostgresStore) Insert(ctx context.Context, o Order) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, amount, status, channel, gateway_order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.BuyerID, o.Amount, o.Status, o.Channel, o.GatewayOrderID, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order row: %w", err)
	}

	for i, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, position, course_id, price)
			VALUES ($1, $2, $3, $4)`,
			o.ID, i, it.CourseID, it.Price,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	return s.withCourses(ctx, o)
}

func (s *PostgresStore) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, selectOrder+` WHERE gateway_order_id = $1`, gatewayOrderID))
	if err != nil {
		return Order{}, err
	}
	return s.withCourses(ctx, o)
}

func (s *PostgresStore) Transition(ctx context.Context, id uuid.UUID, status Status) (Order, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, status, StatusPending,
	)
	if err != nil {
		return Order{}, false, fmt.Errorf("update order status: %w", err)
	}

	o, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, false, err
	}
	return o, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListByBuyer(ctx context.Context, buyer uuid.UUID) ([]Order, error) {
	rows, err := s.pool.Query(ctx, selectOrder+`
		WHERE buyer_id = $1
		ORDER BY created_at DESC`, buyer,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if result[i], err = s.withCourses(ctx, result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *PostgresStore) withCourses(ctx context.Context, o Order) (Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT course_id, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position`, o.ID,
	)
	if err != nil {
		return Order{}, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	o.CourseIDs, o.Items = nil, nil
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.CourseID, &it.Price); err != nil {
			return Order{}, err
		}
		o.CourseIDs = append(o.CourseIDs, it.CourseID)
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.Amount, &o.Status, &o.Channel, &o.GatewayOrderID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}
