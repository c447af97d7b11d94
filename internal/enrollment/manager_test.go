package enrollment_test

import (
	"context"
	"errors"
	"testing"

	"skillzio/internal/catalog"
	"skillzio/internal/certificate"
	"skillzio/internal/enrollment"
	"skillzio/internal/storage/storagetest"

	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	manager  *enrollment.Manager
	catalog  *catalog.Memory
	buyer    uuid.UUID
	course   uuid.UUID
	chapters []uuid.UUID
}

func TestManager(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		runManagerTests(t, func(t *testing.T) enrollment.Store {
			return enrollment.NewMemoryStore()
		})
	})

	t.Run("postgres", func(t *testing.T) {
		runManagerTests(t, func(t *testing.T) enrollment.Store {
			return enrollment.NewPostgresStore(storagetest.DB(t))
		})
	})
}

func runManagerTests(t *testing.T, newStore func(t *testing.T) enrollment.Store) {
	setup := func(t *testing.T) fixture {
		store := newStore(t)
		cat := catalog.NewMemory()

		f := fixture{
			catalog:  cat,
			buyer:    uuid.New(),
			course:   uuid.New(),
			chapters: []uuid.UUID{uuid.New(), uuid.New()},
		}
		instructor := uuid.New()
		cat.AddUser(catalog.User{ID: f.buyer, Name: "Ada Student", Email: f.buyer.String() + "@example.com", Role: "student"})
		cat.AddUser(catalog.User{ID: instructor, Name: "Grace Mentor", Email: instructor.String() + "@example.com", Role: "instructor"})
		cat.AddCourse(catalog.Course{ID: f.course, InstructorID: instructor, Name: "Distributed Systems", Price: 1000}, f.chapters...)

		issuer := certificate.NewIssuer(store, cat, cat, certificate.URLRenderer{BaseURL: "https://certs.example.com"}, slogt.New(t))
		f.manager = enrollment.NewManager(store, cat, issuer, slogt.New(t))
		return f
	}

	grant := func(t *testing.T, f fixture) {
		t.Helper()
		_, err := f.manager.Grant(t.Context(), f.buyer, uuid.New(), []uuid.UUID{f.course})
		require.NoError(t, err)
	}

	t.Run("ok, grant skips existing enrollments", func(t *testing.T) {
		f := setup(t)
		other := uuid.New()
		f.catalog.AddCourse(catalog.Course{ID: other, InstructorID: uuid.New(), Name: "Other", Price: 200})

		first, err := f.manager.Grant(t.Context(), f.buyer, uuid.New(), []uuid.UUID{f.course, f.course})
		require.NoError(t, err)
		require.Len(t, first, 1)
		require.Equal(t, enrollment.StatusNotStarted, first[0].Status)
		require.False(t, first[0].CertificateGenerated)

		second, err := f.manager.Grant(t.Context(), f.buyer, uuid.New(), []uuid.UUID{f.course, other})
		require.NoError(t, err)
		require.Len(t, second, 2)
		require.Equal(t, first[0].ID, second[0].ID)

		list, err := f.manager.ListByBuyer(t.Context(), f.buyer)
		require.NoError(t, err)
		require.Len(t, list, 2)

		enrolled, err := f.manager.EnrolledCourses(t.Context(), f.buyer, []uuid.UUID{other, uuid.New()})
		require.NoError(t, err)
		require.Equal(t, []uuid.UUID{other}, enrolled)
	})

	t.Run("ok, completing a chapter moves to in progress once", func(t *testing.T) {
		f := setup(t)
		grant(t, f)

		e, err := f.manager.MarkChapterCompleted(t.Context(), f.buyer, f.course, f.chapters[0])
		require.NoError(t, err)
		require.Equal(t, enrollment.StatusInProgress, e.Status)
		require.Len(t, e.Chapters, 1)

		again, err := f.manager.MarkChapterCompleted(t.Context(), f.buyer, f.course, f.chapters[0])
		require.NoError(t, err)
		require.Len(t, again.Chapters, 1)
		require.Equal(t, e.Chapters[0].ChapterID, again.Chapters[0].ChapterID)

		done, err := f.manager.AllChaptersCompleted(t.Context(), f.buyer, f.course)
		require.NoError(t, err)
		require.False(t, done)
	})

	t.Run("fail, chapter outside the course", func(t *testing.T) {
		f := setup(t)
		grant(t, f)

		_, err := f.manager.MarkChapterCompleted(t.Context(), f.buyer, f.course, uuid.New())
		require.ErrorIs(t, err, enrollment.ErrUnknownChapter)
	})

	t.Run("fail, no enrollment", func(t *testing.T) {
		f := setup(t)

		_, err := f.manager.MarkChapterCompleted(t.Context(), f.buyer, f.course, f.chapters[0])
		require.ErrorIs(t, err, enrollment.ErrEnrollmentNotFound)

		_, err = f.manager.SubmitQuizResult(t.Context(), f.buyer, f.course, enrollment.QuizResult{QuizID: uuid.New(), Correct: 1, Total: 2})
		require.ErrorIs(t, err, enrollment.ErrEnrollmentNotFound)
	})

	t.Run("fail, invalid quiz results", func(t *testing.T) {
		f := setup(t)
		grant(t, f)

		for _, r := range []enrollment.QuizResult{
			{QuizID: uuid.Nil, Correct: 1, Total: 2},
			{QuizID: uuid.New(), Correct: 1, Total: 0},
			{QuizID: uuid.New(), Correct: 3, Total: 2},
			{QuizID: uuid.New(), Correct: -1, Total: 2},
		} {
			_, err := f.manager.SubmitQuizResult(t.Context(), f.buyer, f.course, r)
			require.ErrorIs(t, err, enrollment.ErrInvalidQuizResult)
		}
	})

	t.Run("ok, resubmitting a quiz replaces the attempt", func(t *testing.T) {
		f := setup(t)
		grant(t, f)
		quiz := uuid.New()

		e, err := f.manager.SubmitQuizResult(t.Context(), f.buyer, f.course, enrollment.QuizResult{QuizID: quiz, Correct: 1, Total: 3})
		require.NoError(t, err)
		require.Len(t, e.Quizzes, 1)
		require.InDelta(t, 33.33, e.Quizzes[0].ScorePercentage, 0.001)

		e, err = f.manager.SubmitQuizResult(t.Context(), f.buyer, f.course, enrollment.QuizResult{QuizID: quiz, Correct: 2, Total: 3})
		require.NoError(t, err)
		require.Len(t, e.Quizzes, 1)
		require.InDelta(t, 66.67, e.Quizzes[0].ScorePercentage, 0.001)
	})

	t.Run("ok, score just under the pass mark does not round up", func(t *testing.T) {
		f := setup(t)
		grant(t, f)
		for _, ch := range f.chapters {
			_, err := f.manager.MarkChapterCompleted(t.Context(), f.buyer, f.course, ch)
			require.NoError(t, err)
		}

		e, err := f.manager.SubmitQuizResult(t.Context(), f.buyer, f.course, enrollment.QuizResult{QuizID: uuid.New(), Correct: 99999, Total: 200000})
		require.NoError(t, err)
		require.InDelta(t, 50.0, e.Quizzes[0].ScorePercentage, 0.001)
		require.False(t, e.PassedQuiz())
		require.False(t, e.CertificateGenerated)
		require.Equal(t, enrollment.StatusInProgress, e.Status)
	})

	t.Run("ok, passing quiz with chapters pending issues nothing", func(t *testing.T) {
		f := setup(t)
		grant(t, f)

		_, err := f.manager.MarkChapterCompleted(t.Context(), f.buyer, f.course, f.chapters[0])
		require.NoError(t, err)

		e, err := f.manager.SubmitQuizResult(t.Context(), f.buyer, f.course, enrollment.QuizResult{QuizID: uuid.New(), Correct: 8, Total: 10})
		require.NoError(t, err)
		require.False(t, e.CertificateGenerated)
		require.Equal(t, enrollment.StatusInProgress, e.Status)
	})

	t.Run("ok, last chapter then passing quiz issues the certificate", func(t *testing.T) {
		f := setup(t)
		grant(t, f)

		for _, ch := range f.chapters {
			_, err := f.manager.MarkChapterCompleted(t.Context(), f.buyer, f.course, ch)
			require.NoError(t, err)
		}

		e, err := f.manager.SubmitQuizResult(t.Context(), f.buyer, f.course, enrollment.QuizResult{QuizID: uuid.New(), Correct: 4, Total: 10})
		require.NoError(t, err)
		require.False(t, e.CertificateGenerated)
		require.Equal(t, enrollment.StatusInProgress, e.Status)

		e, err = f.manager.SubmitQuizResult(t.Context(), f.buyer, f.course, enrollment.QuizResult{QuizID: uuid.New(), Correct: 5, Total: 10})
		require.NoError(t, err)
		require.True(t, e.CertificateGenerated)
		require.Equal(t, enrollment.StatusCompleted, e.Status)
		require.Contains(t, e.CertificateURL, certificate.Number(f.buyer, f.course).String())

		// A later failing attempt never revokes the certificate.
		e, err = f.manager.SubmitQuizResult(t.Context(), f.buyer, f.course, enrollment.QuizResult{QuizID: uuid.New(), Correct: 0, Total: 10})
		require.NoError(t, err)
		require.True(t, e.CertificateGenerated)
		require.Equal(t, enrollment.StatusCompleted, e.Status)
	})
}

type failingCertifier struct{}

func (failingCertifier) TryIssue(context.Context, uuid.UUID, uuid.UUID) (enrollment.Enrollment, error) {
	return enrollment.Enrollment{}, errors.New("renderer offline")
}

func TestManagerKeepsQuizWhenIssuanceFails(t *testing.T) {
	store := enrollment.NewMemoryStore()
	cat := catalog.NewMemory()
	buyer, course, quiz := uuid.New(), uuid.New(), uuid.New()
	cat.AddCourse(catalog.Course{ID: course, InstructorID: uuid.New(), Name: "Go", Price: 100}, uuid.New())

	manager := enrollment.NewManager(store, cat, failingCertifier{}, slogt.New(t))
	_, err := manager.Grant(t.Context(), buyer, uuid.New(), []uuid.UUID{course})
	require.NoError(t, err)

	e, err := manager.SubmitQuizResult(t.Context(), buyer, course, enrollment.QuizResult{QuizID: quiz, Correct: 9, Total: 10})
	require.ErrorContains(t, err, "renderer offline")
	require.Len(t, e.Quizzes, 1)

	stored, err := manager.Get(t.Context(), buyer, course)
	require.NoError(t, err)
	require.Len(t, stored.Quizzes, 1)
	require.False(t, stored.CertificateGenerated)
}
