// Package catalog reads the course, user and cart data owned by neighbouring
// services. Checkout only ever needs narrow lookups into them.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrCourseNotFound = errors.New("course not found")
	ErrUserNotFound   = errors.New("user not found")
)

type Course struct {
	ID           uuid.UUID `json:"id"`
	InstructorID uuid.UUID `json:"instructor_id"`
	Name         string    `json:"name"`
	Price        int64     `json:"price"`
}

type User struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
}

// StaticAdmin resolves the platform account to a configured id.
type StaticAdmin uuid.UUID

func (a StaticAdmin) PlatformAccount(context.Context) (uuid.UUID, error) {
	if uuid.UUID(a) == uuid.Nil {
		return uuid.Nil, ErrUserNotFound
	}
	return uuid.UUID(a), nil
}
