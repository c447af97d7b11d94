package enrollment

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type key struct {
	buyer  uuid.UUID
	course uuid.UUID
}

type MemoryStore struct {
	mu          sync.Mutex
	enrollments map[key]Enrollment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{enrollments: make(map[key]Enrollment)}
}

func (s *MemoryStore) Insert(_ context.Context, e Enrollment) (Enrollment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{e.BuyerID, e.CourseID}
	if existing, ok := s.enrollments[k]; ok {
		return existing.clone(), false, nil
	}
	s.enrollments[k] = e.clone()
	return e.clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, buyer, course uuid.UUID) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[key{buyer, course}]
	if !ok {
		return Enrollment{}, ErrEnrollmentNotFound
	}
	return e.clone(), nil
}

func (s *MemoryStore) ListByBuyer(_ context.Context, buyer uuid.UUID) ([]Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Enrollment
	for k, e := range s.enrollments {
		if k.buyer == buyer {
			out = append(out, e.clone())
		}
	}
	slices.SortFunc(out, func(a, b Enrollment) int {
		return a.EnrolledAt.Compare(b.EnrolledAt)
	})
	return out, nil
}

func (s *MemoryStore) CompleteChapter(_ context.Context, buyer, course uuid.UUID, ch ChapterProgress) (Enrollment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{buyer, course}
	e, ok := s.enrollments[k]
	if !ok {
		return Enrollment{}, false, ErrEnrollmentNotFound
	}
	if e.ChapterCompleted(ch.ChapterID) {
		return e.clone(), false, nil
	}
	e.Chapters = append(slices.Clone(e.Chapters), ch)
	if e.Status == StatusNotStarted {
		e.Status = StatusInProgress
	}
	s.enrollments[k] = e
	return e.clone(), true, nil
}

func (s *MemoryStore) UpsertQuiz(_ context.Context, buyer, course uuid.UUID, q QuizAttempt) (Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{buyer, course}
	e, ok := s.enrollments[k]
	if !ok {
		return Enrollment{}, ErrEnrollmentNotFound
	}
	quizzes := slices.Clone(e.Quizzes)
	i := slices.IndexFunc(quizzes, func(a QuizAttempt) bool { return a.QuizID == q.QuizID })
	if i >= 0 {
		quizzes[i] = q
	} else {
		quizzes = append(quizzes, q)
	}
	e.Quizzes = quizzes
	s.enrollments[k] = e
	return e.clone(), nil
}

func (s *MemoryStore) MarkCertified(_ context.Context, buyer, course uuid.UUID, url string) (Enrollment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{buyer, course}
	e, ok := s.enrollments[k]
	if !ok {
		return Enrollment{}, false, ErrEnrollmentNotFound
	}
	if e.CertificateGenerated {
		return e.clone(), false, nil
	}
	e.CertificateGenerated = true
	e.CertificateURL = url
	e.Status = StatusCompleted
	s.enrollments[k] = e
	return e.clone(), true, nil
}
