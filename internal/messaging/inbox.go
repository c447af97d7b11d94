package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Inbox remembers which incoming events were fully handled. An event is
// marked only after its effects are stored, so a crash in between leads to a
// redelivery that is handled again. Handlers must therefore be idempotent.
type Inbox interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

type PostgresInbox struct {
	pool *pgxpool.Pool
}

func NewPostgresInbox(pool *pgxpool.Pool) *PostgresInbox {
	return &PostgresInbox{pool: pool}
}

func (i *PostgresInbox) Processed(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := i.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM checkout_inbox WHERE event_id = $1)`,
		eventID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("query inbox: %w", err)
	}
	return seen, nil
}

func (i *PostgresInbox) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := i.pool.Exec(ctx, `
		INSERT INTO checkout_inbox (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType,
	)
	if err != nil {
		return fmt.Errorf("insert inbox: %w", err)
	}
	return nil
}

type MemoryInbox struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{seen: make(map[string]struct{})}
}

func (i *MemoryInbox) Processed(_ context.Context, eventID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.seen[eventID]
	return ok, nil
}

func (i *MemoryInbox) MarkProcessed(_ context.Context, eventID, _ string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen[eventID] = struct{}{}
	return nil
}
