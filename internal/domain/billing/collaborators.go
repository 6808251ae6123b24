package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Student is the slice of a student record billing needs
type Student struct {
	ID              uuid.UUID
	AdmissionNumber string
	FullName        string
	Email           string
	ParentEmail     string
	ClassLevel      string
}

// PayerEmail picks the address used for gateway checkout: the student's own
// email, then the parent's, then a synthetic address from the admission
// number on the fallback domain.
func (s *Student) PayerEmail(fallbackDomain string) string {
	if e := strings.TrimSpace(s.Email); e != "" {
		return e
	}
	if e := strings.TrimSpace(s.ParentEmail); e != "" {
		return e
	}
	return fmt.Sprintf("%s@%s", strings.ToLower(s.AdmissionNumber), fallbackDomain)
}

// StudentDirectory looks up student identity. Returns shared.ErrNotFound for
// unknown students.
type StudentDirectory interface {
	GetStudent(ctx context.Context, id uuid.UUID) (*Student, error)
}

// AcademicCalendar validates session and term references. ValidateTerm
// returns a VALIDATION_FAILED domain error if the term does not belong to the
// session or either does not exist.
type AcademicCalendar interface {
	ValidateTerm(ctx context.Context, sessionID, termID uuid.UUID) error
}
