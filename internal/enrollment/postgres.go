package enrollment

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

func (s *PostgresStore) Insert(ctx context.Context, e Enrollment) (Enrollment, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO enrollments (id, buyer_id, course_id, order_id, status, enrolled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (buyer_id, course_id) DO NOTHING`,
		e.ID, e.BuyerID, e.CourseID, e.OrderID, e.Status, e.EnrolledAt,
	)
	if err != nil {
		return Enrollment{}, false, fmt.Errorf("insert enrollment: %w", err)
	}

	stored, err := s.Get(ctx, e.BuyerID, e.CourseID)
	if err != nil {
		return Enrollment{}, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

const selectEnrollment = `
	SELECT id, buyer_id, course_id, COALESCE(order_id, '00000000-0000-0000-0000-000000000000'::uuid),
	       status, certificate_generated, certificate_url, enrolled_at
	FROM enrollments`

func (s *PostgresStore) Get(ctx context.Context, buyer, course uuid.UUID) (Enrollment, error) {
	e, err := scanEnrollment(s.pool.QueryRow(ctx, selectEnrollment+`
		WHERE buyer_id = $1 AND course_id = $2`,
		buyer, course,
	))
	if err != nil {
		return Enrollment{}, err
	}
	return s.withProgress(ctx, e)
}

func (s *PostgresStore) ListByBuyer(ctx context.Context, buyer uuid.UUID) ([]Enrollment, error) {
	rows, err := s.pool.Query(ctx, selectEnrollment+`
		WHERE buyer_id = $1
		ORDER BY enrolled_at`, buyer,
	)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var out []Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i], err = s.withProgress(ctx, out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) CompleteChapter(ctx context.Context, buyer, course uuid.UUID, ch ChapterProgress) (Enrollment, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Enrollment{}, false, err
	}
	defer tx.Rollback(ctx)

	id, err := lockEnrollment(ctx, tx, buyer, course)
	if err != nil {
		return Enrollment{}, false, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO enrollment_chapters (enrollment_id, chapter_id, completed, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (enrollment_id, chapter_id) DO NOTHING`,
		id, ch.ChapterID, ch.Completed, ch.CompletedAt,
	)
	if err != nil {
		return Enrollment{}, false, fmt.Errorf("insert chapter progress: %w", err)
	}
	added := tag.RowsAffected() == 1

	if added {
		_, err = tx.Exec(ctx, `
			UPDATE enrollments
			SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3`,
			id, StatusInProgress, StatusNotStarted,
		)
		if err != nil {
			return Enrollment{}, false, fmt.Errorf("advance enrollment status: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Enrollment{}, false, err
	}

	e, err := s.Get(ctx, buyer, course)
	return e, added, err
}

func (s *PostgresStore) UpsertQuiz(ctx context.Context, buyer, course uuid.UUID, q QuizAttempt) (Enrollment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Enrollment{}, err
	}
	defer tx.Rollback(ctx)

	id, err := lockEnrollment(ctx, tx, buyer, course)
	if err != nil {
		return Enrollment{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO enrollment_quizzes (enrollment_id, quiz_id, correct, total, score_percentage, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (enrollment_id, quiz_id) DO UPDATE
		SET correct = EXCLUDED.correct,
		    total = EXCLUDED.total,
		    score_percentage = EXCLUDED.score_percentage,
		    attempted_at = EXCLUDED.attempted_at`,
		id, q.QuizID, q.Correct, q.Total, q.ScorePercentage, q.AttemptedAt,
	)
	if err != nil {
		return Enrollment{}, fmt.Errorf("upsert quiz attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Enrollment{}, err
	}
	return s.Get(ctx, buyer, course)
}

func (s *PostgresStore) MarkCertified(ctx context.Context, buyer, course uuid.UUID, url string) (Enrollment, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrollments
		SET certificate_generated = TRUE, certificate_url = $3, status = $4, updated_at = NOW()
		WHERE buyer_id = $1 AND course_id = $2 AND NOT certificate_generated`,
		buyer, course, url, StatusCompleted,
	)
	if err != nil {
		return Enrollment{}, false, fmt.Errorf("mark certified: %w", err)
	}

	e, err := s.Get(ctx, buyer, course)
	if err != nil {
		return Enrollment{}, false, err
	}
	return e, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) withProgress(ctx context.Context, e Enrollment) (Enrollment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chapter_id, completed, completed_at
		FROM enrollment_chapters
		WHERE enrollment_id = $1
		ORDER BY completed_at, chapter_id`, e.ID,
	)
	if err != nil {
		return Enrollment{}, fmt.Errorf("query chapter progress: %w", err)
	}
	e.Chapters, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChapterProgress, error) {
		var c ChapterProgress
		err := row.Scan(&c.ChapterID, &c.Completed, &c.CompletedAt)
		return c, err
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("scan chapter progress: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT quiz_id, correct, total, score_percentage, attempted_at
		FROM enrollment_quizzes
		WHERE enrollment_id = $1
		ORDER BY quiz_id`, e.ID,
	)
	if err != nil {
		return Enrollment{}, fmt.Errorf("query quiz attempts: %w", err)
	}
	e.Quizzes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (QuizAttempt, error) {
		var q QuizAttempt
		err := row.Scan(&q.QuizID, &q.Correct, &q.Total, &q.ScorePercentage, &q.AttemptedAt)
		return q, err
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("scan quiz attempts: %w", err)
	}
	return e, nil
}

func lockEnrollment(ctx context.Context, tx pgx.Tx, buyer, course uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id
		FROM enrollments
		WHERE buyer_id = $1 AND course_id = $2
		FOR UPDATE`,
		buyer, course,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrEnrollmentNotFound
		}
		return uuid.Nil, fmt.Errorf("lock enrollment: %w", err)
	}
	return id, nil
}

func scanEnrollment(row pgx.Row) (Enrollment, error) {
	var e Enrollment
	err := row.Scan(&e.ID, &e.BuyerID, &e.CourseID, &e.OrderID, &e.Status, &e.CertificateGenerated, &e.CertificateURL, &e.EnrolledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Enrollment{}, ErrEnrollmentNotFound
		}
		return Enrollment{}, fmt.Errorf("select enrollment: %w", err)
	}
	return e, nil
}
