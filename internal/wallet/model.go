package wallet

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type Wallet struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	Role      Role      `json:"role"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Transaction struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	Amount        int64     `json:"amount"`
	Direction     Direction `json:"direction"`
	Description   string    `json:"description"`
	ExternalTxnID string    `json:"external_txn_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// signed returns the balance delta the transaction applies.
func (t Transaction) signed() int64 {
	if t.Direction == DirectionDebit {
		return -t.Amount
	}
	return t.Amount
}
