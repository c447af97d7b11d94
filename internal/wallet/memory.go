package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]Wallet
	txns    map[uuid.UUID][]Transaction
	keys    map[uuid.UUID]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[uuid.UUID]Wallet),
		txns:    make(map[uuid.UUID][]Transaction),
		keys:    make(map[uuid.UUID]map[string]struct{}),
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, owner uuid.UUID, role Role) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(owner, role), nil
}

func (s *MemoryStore) getOrCreateLocked(owner uuid.UUID, role Role) Wallet {
	if w, ok := s.wallets[owner]; ok {
		return w
	}
	now := time.Now().UTC()
	w := Wallet{OwnerID: owner, Role: role, CreatedAt: now, UpdatedAt: now}
	s.wallets[owner] = w
	return w
}

func (s *MemoryStore) Get(_ context.Context, owner uuid.UUID) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[owner]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *MemoryStore) Apply(_ context.Context, role Role, txn Transaction) (Wallet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.keys[txn.OwnerID][txn.ExternalTxnID]; seen {
		return s.wallets[txn.OwnerID], false, nil
	}

	w, ok := s.wallets[txn.OwnerID]
	if !ok {
		now := time.Now().UTC()
		w = Wallet{OwnerID: txn.OwnerID, Role: role, CreatedAt: now}
	}
	next := w.Balance + txn.signed()
	if next < 0 {
		return Wallet{}, false, ErrInsufficientFunds
	}
	w.Balance = next
	w.UpdatedAt = txn.CreatedAt
	s.wallets[txn.OwnerID] = w

	s.txns[txn.OwnerID] = append(s.txns[txn.OwnerID], txn)
	if s.keys[txn.OwnerID] == nil {
		s.keys[txn.OwnerID] = make(map[string]struct{})
	}
	s.keys[txn.OwnerID][txn.ExternalTxnID] = struct{}{}
	return w, true, nil
}

func (s *MemoryStore) Transactions(_ context.Context, owner uuid.UUID) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, len(s.txns[owner]))
	copy(out, s.txns[owner])
	return out, nil
}
