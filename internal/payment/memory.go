package payment

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID][]Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[uuid.UUID][]Payment)}
}

func (s *MemoryStore) Insert(_ context.Context, p Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == StatusSuccess {
		for _, existing := range s.payments[p.OrderID] {
			if existing.Status == StatusSuccess {
				return ErrDuplicatePayment
			}
		}
	}
	s.payments[p.OrderID] = append(s.payments[p.OrderID], p)
	return nil
}

func (s *MemoryStore) Successful(_ context.Context, orderID uuid.UUID) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments[orderID] {
		if p.Status == StatusSuccess {
			return p, nil
		}
	}
	return Payment{}, ErrPaymentNotFound
}

func (s *MemoryStore) ListByOrder(_ context.Context, orderID uuid.UUID) ([]Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.payments[orderID]), nil
}
