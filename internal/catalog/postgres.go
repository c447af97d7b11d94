package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool       *pgxpool.Pool
	adminEmail string
}

func NewPostgres(pool *pgxpool.Pool, adminEmail string) *Postgres {
	return &Postgres{pool: pool, adminEmail: adminEmail}
}

func (p *Postgres) FindCourse(ctx context.Context, id uuid.UUID) (Course, error) {
	var c Course
	err := p.pool.QueryRow(ctx, `
		SELECT id, instructor_id, name, price
		FROM courses
		WHERE id = $1`, id,
	).Scan(&c.ID, &c.InstructorID, &c.Name, &c.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Course{}, ErrCourseNotFound
		}
		return Course{}, fmt.Errorf("select course: %w", err)
	}
	return c, nil
}

func (p *Postgres) FindCourses(ctx context.Context, ids []uuid.UUID) ([]Course, error) {
	// One lookup per id keeps request order and skips unknown courses.
	out := make([]Course, 0, len(ids))
	for _, id := range ids {
		c, err := p.FindCourse(ctx, id)
		if err != nil {
			if errors.Is(err, ErrCourseNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *Postgres) CourseChapters(ctx context.Context, course uuid.UUID) ([]uuid.UUID, error) {
	if _, err := p.FindCourse(ctx, course); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id
		FROM chapters
		WHERE course_id = $1
		ORDER BY position, id`, course,
	)
	if err != nil {
		return nil, fmt.Errorf("query chapters: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) FindUser(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, email, role
		FROM users
		WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (p *Postgres) Clear(ctx context.Context, buyer uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM cart_items WHERE buyer_id = $1`, buyer)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// PlatformAccount looks the settlement account up by the configured admin email.
func (p *Postgres) PlatformAccount(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := p.pool.QueryRow(ctx, `
		SELECT id
		FROM users
		WHERE email = $1 AND role = 'admin'`, p.adminEmail,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("admin %q: %w", p.adminEmail, ErrUserNotFound)
		}
		return uuid.Nil, fmt.Errorf("select admin: %w", err)
	}
	return id, nil
}
