package checkout

import (
	"errors"
	"strings"
)

var (
	ErrInvalidRequest    = errors.New("invalid checkout request")
	ErrAlreadyEnrolled   = errors.New("already enrolled")
	ErrPartialSettlement = errors.New("order settled with follow-up failures")
	ErrOrderClosed       = errors.New("order is closed")
	ErrInvalidSignature  = errors.New("invalid payment signature")
)

// AlreadyEnrolledError names the requested courses the buyer already owns.
type AlreadyEnrolledError struct {
	Courses []string
}

func (e *AlreadyEnrolledError) Error() string {
	return "already enrolled in: " + strings.Join(e.Courses, ", ")
}

func (e *AlreadyEnrolledError) Is(target error) bool {
	return target == ErrAlreadyEnrolled
}
