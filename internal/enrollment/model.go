package enrollment

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// PassingScore is the minimum quiz percentage that makes a student eligible
// for a certificate.
const PassingScore = 50.0

type ChapterProgress struct {
	ChapterID   uuid.UUID `json:"chapter_id"`
	Completed   bool      `json:"completed"`
	CompletedAt time.Time `json:"completed_at"`
}

type QuizAttempt struct {
	QuizID          uuid.UUID `json:"quiz_id"`
	Correct         int       `json:"correct"`
	Total           int       `json:"total"`
	ScorePercentage float64   `json:"score_percentage"`
	AttemptedAt     time.Time `json:"attempted_at"`
}

// Passed compares the exact ratio of correct answers with PassingScore.
// ScorePercentage is rounded for display and only decides attempts stored
// without counts.
func (q QuizAttempt) Passed() bool {
	if q.Total > 0 {
		return float64(q.Correct)*100 >= PassingScore*float64(q.Total)
	}
	return q.ScorePercentage >= PassingScore
}

type Enrollment struct {
	ID                   uuid.UUID         `json:"id"`
	BuyerID              uuid.UUID         `json:"buyer_id"`
	CourseID             uuid.UUID         `json:"course_id"`
	OrderID              uuid.UUID         `json:"order_id"`
	EnrolledAt           time.Time         `json:"enrolled_at"`
	Status               Status            `json:"completion_status"`
	CertificateGenerated bool              `json:"certificate_generated"`
	CertificateURL       string            `json:"certificate_url,omitempty"`
	Chapters             []ChapterProgress `json:"completed_chapters"`
	Quizzes              []QuizAttempt     `json:"completed_quizzes"`
}

func (e Enrollment) ChapterCompleted(chapter uuid.UUID) bool {
	return slices.ContainsFunc(e.Chapters, func(c ChapterProgress) bool {
		return c.ChapterID == chapter && c.Completed
	})
}

// PassedQuiz reports whether any recorded attempt reaches PassingScore.
func (e Enrollment) PassedQuiz() bool {
	return slices.ContainsFunc(e.Quizzes, QuizAttempt.Passed)
}

// ChaptersComplete reports whether the course has chapters and every one of
// them is completed in e.
func ChaptersComplete(e Enrollment, chapters []uuid.UUID) bool {
	if len(chapters) == 0 {
		return false
	}
	for _, ch := range chapters {
		if !e.ChapterCompleted(ch) {
			return false
		}
	}
	return true
}

func (e Enrollment) clone() Enrollment {
	e.Chapters = slices.Clone(e.Chapters)
	e.Quizzes = slices.Clone(e.Quizzes)
	return e
}
