package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrUnknownChapter     = errors.New("chapter does not belong to course")
	ErrInvalidQuizResult  = errors.New("invalid quiz result")
)

type Store interface {
	// Insert creates e unless the buyer is already enrolled in the course, in
	// which case the stored enrollment is returned with created set to false.
	Insert(ctx context.Context, e Enrollment) (stored Enrollment, created bool, err error)
	Get(ctx context.Context, buyer, course uuid.UUID) (Enrollment, error)
	ListByBuyer(ctx context.Context, buyer uuid.UUID) ([]Enrollment, error)
	// CompleteChapter appends the chapter record if absent and moves
	// NOT_STARTED to IN_PROGRESS.
	CompleteChapter(ctx context.Context, buyer, course uuid.UUID, ch ChapterProgress) (Enrollment, bool, error)
	// UpsertQuiz replaces any attempt with the same QuizID.
	UpsertQuiz(ctx context.Context, buyer, course uuid.UUID, q QuizAttempt) (Enrollment, error)
	// MarkCertified flips CertificateGenerated, stores url and sets COMPLETED,
	// only if no certificate was generated yet.
	MarkCertified(ctx context.Context, buyer, course uuid.UUID, url string) (Enrollment, bool, error)
}

type ChapterLister interface {
	CourseChapters(ctx context.Context, course uuid.UUID) ([]uuid.UUID, error)
}

type Certifier interface {
	TryIssue(ctx context.Context, buyer, course uuid.UUID) (Enrollment, error)
}

type QuizResult struct {
	QuizID  uuid.UUID `json:"quiz_id"`
	Correct int       `json:"correct"`
	Total   int       `json:"total"`
}

type Manager struct {
	store     Store
	chapters  ChapterLister
	certifier Certifier
	logger    *slog.Logger
}

func NewManager(store Store, chapters ChapterLister, certifier Certifier, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		chapters:  chapters,
		certifier: certifier,
		logger:    logger,
	}
}

// Grant enrolls buyer in every course, skipping courses the buyer already
// has. The result holds one enrollment per distinct course.
func (m *Manager) Grant(ctx context.Context, buyer, orderID uuid.UUID, courses []uuid.UUID) ([]Enrollment, error) {
	now := time.Now().UTC()
	out := make([]Enrollment, 0, len(courses))
	seen := make(map[uuid.UUID]struct{}, len(courses))

	for _, course := range courses {
		if _, dup := seen[course]; dup {
			continue
		}
		seen[course] = struct{}{}

		e, created, err := m.store.Insert(ctx, Enrollment{
			ID:         uuid.New(),
			BuyerID:    buyer,
			CourseID:   course,
			OrderID:    orderID,
			EnrolledAt: now,
			Status:     StatusNotStarted,
		})
		if err != nil {
			return out, fmt.Errorf("enroll %s in %s: %w", buyer, course, err)
		}
		if created {
			m.logger.Info("enrollment granted", "buyer_id", buyer, "course_id", course, "order_id", orderID)
		} else {
			m.logger.Info("enrollment exists, skipped", "buyer_id", buyer, "course_id", course)
		}
		out = append(out, e)
	}
	return out, nil
}

// EnrolledCourses returns the subset of courses buyer is already enrolled in.
func (m *Manager) EnrolledCourses(ctx context.Context, buyer uuid.UUID, courses []uuid.UUID) ([]uuid.UUID, error) {
	var enrolled []uuid.UUID
	for _, course := range courses {
		_, err := m.store.Get(ctx, buyer, course)
		switch {
		case err == nil:
			if !slices.Contains(enrolled, course) {
				enrolled = append(enrolled, course)
			}
		case errors.Is(err, ErrEnrollmentNotFound):
		default:
			return nil, err
		}
	}
	return enrolled, nil
}

func (m *Manager) Get(ctx context.Context, buyer, course uuid.UUID) (Enrollment, error) {
	return m.store.Get(ctx, buyer, course)
}

func (m *Manager) ListByBuyer(ctx context.Context, buyer uuid.UUID) ([]Enrollment, error) {
	return m.store.ListByBuyer(ctx, buyer)
}

func (m *Manager) MarkChapterCompleted(ctx context.Context, buyer, course, chapter uuid.UUID) (Enrollment, error) {
	e, err := m.store.Get(ctx, buyer, course)
	if err != nil {
		return Enrollment{}, err
	}
	if e.ChapterCompleted(chapter) {
		return e, nil
	}

	chapters, err := m.chapters.CourseChapters(ctx, course)
	if err != nil {
		return Enrollment{}, fmt.Errorf("list chapters of %s: %w", course, err)
	}
	if !slices.Contains(chapters, chapter) {
		return Enrollment{}, ErrUnknownChapter
	}

	e, added, err := m.store.CompleteChapter(ctx, buyer, course, ChapterProgress{
		ChapterID:   chapter,
		Completed:   true,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return Enrollment{}, err
	}
	if added {
		m.logger.Info("chapter completed", "buyer_id", buyer, "course_id", course, "chapter_id", chapter, "status", e.Status)
	}
	return e, nil
}

// SubmitQuizResult stores the attempt and, for a passing score, asks the
// certifier to issue a certificate. The attempt stays stored when issuance
// fails; the returned error then describes the issuance failure.
func (m *Manager) SubmitQuizResult(ctx context.Context, buyer, course uuid.UUID, result QuizResult) (Enrollment, error) {
	if result.QuizID == uuid.Nil || result.Total <= 0 || result.Correct < 0 || result.Correct > result.Total {
		return Enrollment{}, ErrInvalidQuizResult
	}

	attempt := QuizAttempt{
		QuizID:          result.QuizID,
		Correct:         result.Correct,
		Total:           result.Total,
		ScorePercentage: math.Round(float64(result.Correct)/float64(result.Total)*10000) / 100,
		AttemptedAt:     time.Now().UTC(),
	}
	e, err := m.store.UpsertQuiz(ctx, buyer, course, attempt)
	if err != nil {
		return Enrollment{}, err
	}
	m.logger.Info("quiz submitted", "buyer_id", buyer, "course_id", course, "quiz_id", result.QuizID, "score", attempt.ScorePercentage)

	if !attempt.Passed() || m.certifier == nil {
		return e, nil
	}

	issued, err := m.certifier.TryIssue(ctx, buyer, course)
	if err != nil {
		m.logger.Error("certificate issuance failed", "buyer_id", buyer, "course_id", course, "err", err)
		return e, fmt.Errorf("issue certificate: %w", err)
	}
	return issued, nil
}

func (m *Manager) AllChaptersCompleted(ctx context.Context, buyer, course uuid.UUID) (bool, error) {
	e, err := m.store.Get(ctx, buyer, course)
	if err != nil {
		return false, err
	}
	chapters, err := m.chapters.CourseChapters(ctx, course)
	if err != nil {
		return false, fmt.Errorf("list chapters of %s: %w", course, err)
	}
	return ChaptersComplete(e, chapters), nil
}
