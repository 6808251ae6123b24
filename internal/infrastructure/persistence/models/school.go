package models

import (
	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
)

// StudentModel maps the columns of the students table that billing reads
type StudentModel struct {
	BaseModel
	AdmissionNumber string `gorm:"type:varchar(30);not null;uniqueIndex"`
	FirstName       string `gorm:"type:varchar(100);not null"`
	LastName        string `gorm:"type:varchar(100);not null"`
	Email           string `gorm:"type:varchar(254)"`
	ParentEmail     string `gorm:"type:varchar(254)"`
	ClassLevel      string `gorm:"type:varchar(20);index"`
}

// TableName returns the table name for GORM
func (StudentModel) TableName() string {
	return "students"
}

// ToDomain converts the persistence model to a billing Student
func (m *StudentModel) ToDomain() *billing.Student {
	return &billing.Student{
		ID:              m.ID,
		AdmissionNumber: m.AdmissionNumber,
		FullName:        m.FirstName + " " + m.LastName,
		Email:           m.Email,
		ParentEmail:     m.ParentEmail,
		ClassLevel:      m.ClassLevel,
	}
}

// AcademicSessionModel is a school year, e.g. 2024/2025
type AcademicSessionModel struct {
	BaseModel
	Name      string `gorm:"type:varchar(20);not null;uniqueIndex"`
	IsCurrent bool   `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (AcademicSessionModel) TableName() string {
	return "academic_sessions"
}

// TermModel is one term of an academic session
type TermModel struct {
	BaseModel
	SessionID uuid.UUID `gorm:"type:uuid;not null;index"`
	Name      string    `gorm:"type:varchar(20);not null"`
}

// TableName returns the table name for GORM
func (TermModel) TableName() string {
	return "terms"
}
