package certificate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"skillzio/internal/catalog"
	"skillzio/internal/enrollment"

	"github.com/google/uuid"
)

// Details is everything a renderer needs to draw a certificate.
type Details struct {
	StudentName    string
	CourseName     string
	InstructorName string
	BuyerID        uuid.UUID
	CourseID       uuid.UUID
	IssuedAt       time.Time
}

type Renderer interface {
	Render(ctx context.Context, d Details) (locator string, err error)
}

type Catalog interface {
	FindCourse(ctx context.Context, id uuid.UUID) (catalog.Course, error)
	CourseChapters(ctx context.Context, course uuid.UUID) ([]uuid.UUID, error)
}

type Users interface {
	FindUser(ctx context.Context, id uuid.UUID) (catalog.User, error)
}

type Issuer struct {
	store    enrollment.Store
	catalog  Catalog
	users    Users
	renderer Renderer
	logger   *slog.Logger
}

func NewIssuer(store enrollment.Store, cat Catalog, users Users, renderer Renderer, logger *slog.Logger) *Issuer {
	return &Issuer{
		store:    store,
		catalog:  cat,
		users:    users,
		renderer: renderer,
		logger:   logger,
	}
}

// TryIssue mints a certificate when the enrollment has a passing quiz, every
// chapter completed and no certificate yet. Unmet conditions are not errors:
// the enrollment is returned as stored.
func (i *Issuer) TryIssue(ctx context.Context, buyer, course uuid.UUID) (enrollment.Enrollment, error) {
	e, err := i.store.Get(ctx, buyer, course)
	if err != nil {
		return enrollment.Enrollment{}, err
	}
	if e.CertificateGenerated || !e.PassedQuiz() {
		return e, nil
	}

	chapters, err := i.catalog.CourseChapters(ctx, course)
	if err != nil {
		return e, fmt.Errorf("list chapters of %s: %w", course, err)
	}
	if !enrollment.ChaptersComplete(e, chapters) {
		i.logger.Debug("certificate not yet due", "buyer_id", buyer, "course_id", course, "chapters", len(chapters), "completed", len(e.Chapters))
		return e, nil
	}

	details, err := i.details(ctx, buyer, course)
	if err != nil {
		return e, err
	}

	locator, err := i.renderer.Render(ctx, details)
	if err != nil {
		return e, fmt.Errorf("render certificate: %w", err)
	}

	issued, changed, err := i.store.MarkCertified(ctx, buyer, course, locator)
	if err != nil {
		return e, err
	}
	if changed {
		i.logger.Info("certificate issued", "buyer_id", buyer, "course_id", course, "locator", locator)
	}
	return issued, nil
}

func (i *Issuer) details(ctx context.Context, buyer, courseID uuid.UUID) (Details, error) {
	c, err := i.catalog.FindCourse(ctx, courseID)
	if err != nil {
		return Details{}, fmt.Errorf("find course %s: %w", courseID, err)
	}
	student, err := i.users.FindUser(ctx, buyer)
	if err != nil {
		return Details{}, fmt.Errorf("find student %s: %w", buyer, err)
	}

	d := Details{
		StudentName: student.Name,
		CourseName:  c.Name,
		BuyerID:     buyer,
		CourseID:    courseID,
		IssuedAt:    time.Now().UTC(),
	}

	instructor, err := i.users.FindUser(ctx, c.InstructorID)
	switch {
	case err == nil:
		d.InstructorName = instructor.Name
	case errors.Is(err, catalog.ErrUserNotFound):
		i.logger.Warn("certificate instructor missing", "course_id", courseID, "instructor_id", c.InstructorID)
	default:
		return Details{}, fmt.Errorf("find instructor %s: %w", c.InstructorID, err)
	}
	return d, nil
}
