package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/schoolerp/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormSchoolDirectory reads students and the academic calendar from the
// school records tables. Billing never writes to them.
type GormSchoolDirectory struct {
	db *gorm.DB
}

// NewGormSchoolDirectory creates a new GormSchoolDirectory
func NewGormSchoolDirectory(db *gorm.DB) *GormSchoolDirectory {
	return &GormSchoolDirectory{db: db}
}

// GetStudent returns the billing view of a student
func (d *GormSchoolDirectory) GetStudent(ctx context.Context, id uuid.UUID) (*billing.Student, error) {
	var model models.StudentModel
	if err := d.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ValidateTerm checks that the term exists and belongs to the session
func (d *GormSchoolDirectory) ValidateTerm(ctx context.Context, sessionID, termID uuid.UUID) error {
	var term models.TermModel
	if err := d.db.WithContext(ctx).First(&term, "id = ?", termID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return shared.NewDomainError(shared.CodeValidation, "Term does not exist")
		}
		return err
	}
	if term.SessionID != sessionID {
		return shared.NewDomainError(shared.CodeValidation, "Term does not belong to the academic session")
	}
	return nil
}

// Ensure GormSchoolDirectory implements the billing collaborators
var (
	_ billing.StudentDirectory = (*GormSchoolDirectory)(nil)
	_ billing.AcademicCalendar = (*GormSchoolDirectory)(nil)
)
