package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMissingTxnID      = errors.New("external transaction id is required")
)

// Store persists wallets and their transaction log.
type Store interface {
	GetOrCreate(ctx context.Context, owner uuid.UUID, role Role) (Wallet, error)
	Get(ctx context.Context, owner uuid.UUID) (Wallet, error)
	// Apply appends txn and moves the balance in one atomic step, creating the
	// wallet with role if it does not exist. When a transaction with the same
	// ExternalTxnID is already logged for the owner, the wallet is returned
	// unchanged and applied is false. A debit that would take the balance below
	// zero fails with ErrInsufficientFunds.
	Apply(ctx context.Context, role Role, txn Transaction) (w Wallet, applied bool, err error)
	Transactions(ctx context.Context, owner uuid.UUID) ([]Transaction, error)
}

type Ledger struct {
	store  Store
	logger *slog.Logger
}

func NewLedger(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

func (l *Ledger) GetOrCreateWallet(ctx context.Context, owner uuid.UUID, role Role) (Wallet, error) {
	return l.store.GetOrCreate(ctx, owner, role)
}

// Balance reports zero for owners that never had a wallet.
func (l *Ledger) Balance(ctx context.Context, owner uuid.UUID) (int64, error) {
	w, err := l.store.Get(ctx, owner)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return w.Balance, nil
}

func (l *Ledger) Transactions(ctx context.Context, owner uuid.UUID) ([]Transaction, error) {
	return l.store.Transactions(ctx, owner)
}

func (l *Ledger) Credit(ctx context.Context, owner uuid.UUID, role Role, amount int64, description, externalTxnID string) (Wallet, error) {
	return l.apply(ctx, role, owner, amount, DirectionCredit, description, externalTxnID)
}

func (l *Ledger) Debit(ctx context.Context, owner uuid.UUID, amount int64, description, externalTxnID string) (Wallet, error) {
	return l.apply(ctx, RoleStudent, owner, amount, DirectionDebit, description, externalTxnID)
}

// Deposit tops up a student wallet.
func (l *Ledger) Deposit(ctx context.Context, owner uuid.UUID, amount int64, externalTxnID string) (Wallet, error) {
	return l.Credit(ctx, owner, RoleStudent, amount, "wallet deposit", externalTxnID)
}

func (l *Ledger) apply(ctx context.Context, role Role, owner uuid.UUID, amount int64, dir Direction, description, externalTxnID string) (Wallet, error) {
	if amount <= 0 {
		return Wallet{}, ErrInvalidAmount
	}
	if externalTxnID == "" {
		return Wallet{}, ErrMissingTxnID
	}

	txn := Transaction{
		ID:            uuid.New(),
		OwnerID:       owner,
		Amount:        amount,
		Direction:     dir,
		Description:   description,
		ExternalTxnID: externalTxnID,
		CreatedAt:     time.Now().UTC(),
	}

	w, applied, err := l.store.Apply(ctx, role, txn)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return Wallet{}, err
		}
		return Wallet{}, fmt.Errorf("%s wallet %s: %w", dir, owner, err)
	}
	if !applied {
		l.logger.Info("wallet transaction replayed", "owner_id", owner, "external_txn_id", externalTxnID, "direction", dir)
		return w, nil
	}

	l.logger.Debug("wallet transaction applied", "owner_id", owner, "external_txn_id", externalTxnID, "direction", dir, "amount", amount, "balance", w.Balance)
	return w, nil
}
