package messaging

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Outbox stores events for later publication. Enqueue is keyed by eventID and
// reports false when the event was already stored.
type Outbox interface {
	Enqueue(ctx context.Context, eventID, eventType string, payload []byte) (bool, error)
}

type PostgresOutbox struct {
	pool *pgxpool.Pool
}

func NewPostgresOutbox(pool *pgxpool.Pool) *PostgresOutbox {
	return &PostgresOutbox{pool: pool}
}

func (o *PostgresOutbox) Enqueue(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	tag, err := o.pool.Exec(ctx, `
		INSERT INTO checkout_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, payload,
	)
	if err != nil {
		return false, fmt.Errorf("insert outbox: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type Event struct {
	ID      string
	Type    string
	Payload []byte
}

// MemoryOutbox keeps events in process. It is used by tests and by runs
// without a broker.
type MemoryOutbox struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

func (o *MemoryOutbox) Enqueue(_ context.Context, eventID, eventType string, payload []byte) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if slices.ContainsFunc(o.events, func(e Event) bool { return e.ID == eventID }) {
		return false, nil
	}
	o.events = append(o.events, Event{ID: eventID, Type: eventType, Payload: slices.Clone(payload)})
	return true, nil
}

func (o *MemoryOutbox) Events() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.events)
}
