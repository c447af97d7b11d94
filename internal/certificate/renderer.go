package certificate

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

var certificateNamespace = uuid.MustParse("8f4e9c1e-5b7a-4c36-9f57-0d6f1f2f7c21")

// Number is the stable certificate number for a buyer and course.
func Number(buyer, course uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(certificateNamespace, append(buyer[:], course[:]...))
}

// URLRenderer hands back the location the document service serves the
// certificate from. The document itself is produced by that service.
type URLRenderer struct {
	BaseURL string
}

func (r URLRenderer) Render(_ context.Context, d Details) (string, error) {
	if d.StudentName == "" || d.CourseName == "" {
		return "", fmt.Errorf("certificate for %s/%s is missing names", d.BuyerID, d.CourseID)
	}
	locator, err := url.JoinPath(r.BaseURL, "certificates", Number(d.BuyerID, d.CourseID).String()+".pdf")
	if err != nil {
		return "", fmt.Errorf("build certificate url: %w", err)
	}
	return locator, nil
}
