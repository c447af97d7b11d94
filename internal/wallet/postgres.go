package wallet

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

func (s *PostgresStore) GetOrCreate(ctx context.Context, owner uuid.UUID, role Role) (Wallet, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (owner_id, role, balance, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		ON CONFLICT (owner_id) DO NOTHING`,
		owner, role,
	)
	if err != nil {
		return Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	return s.Get(ctx, owner)
}

func (s *PostgresStore) Get(ctx context.Context, owner uuid.UUID) (Wallet, error) {
	return scanWallet(s.pool.QueryRow(ctx, `
		SELECT owner_id, role, balance, created_at, updated_at
		FROM wallets
		WHERE owner_id = $1`,
		owner,
	))
}

func (s *PostgresStore) Apply(ctx context.Context, role Role, txn Transaction) (Wallet, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Wallet{}, false, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO wallets (owner_id, role, balance, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		ON CONFLICT (owner_id) DO NOTHING`,
		txn.OwnerID, role,
	)
	if err != nil {
		return Wallet{}, false, fmt.Errorf("insert wallet: %w", err)
	}

	w, err := scanWallet(tx.QueryRow(ctx, `
		SELECT owner_id, role, balance, created_at, updated_at
		FROM wallets
		WHERE owner_id = $1
		FOR UPDATE`,
		txn.OwnerID,
	))
	if err != nil {
		return Wallet{}, false, err
	}

	var seen bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallet_transactions
			WHERE owner_id = $1 AND external_txn_id = $2
		)`,
		txn.OwnerID, txn.ExternalTxnID,
	).Scan(&seen)
	if err != nil {
		return Wallet{}, false, fmt.Errorf("check transaction key: %w", err)
	}
	if seen {
		return w, false, nil
	}

	next := w.Balance + txn.signed()
	if next < 0 {
		return Wallet{}, false, ErrInsufficientFunds
	}

	err = tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = $2, updated_at = NOW()
		WHERE owner_id = $1
		RETURNING balance, updated_at`,
		txn.OwnerID, next,
	).Scan(&w.Balance, &w.UpdatedAt)
	if err != nil {
		return Wallet{}, false, fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, owner_id, amount, direction, description, external_txn_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID, txn.OwnerID, txn.Amount, txn.Direction, txn.Description, txn.ExternalTxnID, txn.CreatedAt,
	)
	if err != nil {
		return Wallet{}, false, fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, false, err
	}
	return w, true, nil
}

func (s *PostgresStore) Transactions(ctx context.Context, owner uuid.UUID) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, amount, direction, description, external_txn_id, created_at
		FROM wallet_transactions
		WHERE owner_id = $1
		ORDER BY created_at, id`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var result []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Amount, &t.Direction, &t.Description, &t.ExternalTxnID, &t.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	err := row.Scan(&w.OwnerID, &w.Role, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, fmt.Errorf("select wallet: %w", err)
	}
	return w, nil
}
