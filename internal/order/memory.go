package order

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[uuid.UUID]Order)}
}

func (s *MemoryStore) Insert(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = clone(o)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return clone(o), nil
}

func (s *MemoryStore) Transition(_ context.Context, id uuid.UUID, status Status) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, false, ErrOrderNotFound
	}
	if o.Status != StatusPending {
		return clone(o), false, nil
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return clone(o), true, nil
}

func (s *MemoryStore) ListByBuyer(_ context.Context, buyer uuid.UUID) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Order
	for _, o := range s.orders {
		if o.BuyerID == buyer {
			result = append(result, clone(o))
		}
	}
	slices.SortFunc(result, func(a, b Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) FindByGatewayOrderID(_ context.Context, gatewayOrderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.GatewayOrderID == gatewayOrderID {
			return clone(o), nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func clone(o Order) Order {
	o.CourseIDs = slices.Clone(o.CourseIDs)
	o.Items = slices.Clone(o.Items)
	return o
}
