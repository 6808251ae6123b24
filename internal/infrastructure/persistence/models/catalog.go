package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
)

// FeeCategoryModel is the persistence model for a fee category
type FeeCategoryModel struct {
	BaseModel
	Name        string `gorm:"type:varchar(100);not null;uniqueIndex:idx_fee_categories_name"`
	Description string `gorm:"type:text"`
	IsActive    bool   `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (FeeCategoryModel) TableName() string {
	return "fee_categories"
}

// ToDomain converts the persistence model to a domain FeeCategory
func (m *FeeCategoryModel) ToDomain() *billing.FeeCategory {
	return &billing.FeeCategory{
		BaseEntity:  m.BaseModel.ToDomain(),
		Name:        m.Name,
		Description: m.Description,
		IsActive:    m.IsActive,
	}
}

// FeeCategoryModelFromDomain creates a new persistence model from a domain FeeCategory
func FeeCategoryModelFromDomain(c *billing.FeeCategory) *FeeCategoryModel {
	m := &FeeCategoryModel{
		Name:        c.Name,
		Description: c.Description,
		IsActive:    c.IsActive,
	}
	m.FromDomainBaseEntity(c.BaseEntity)
	return m
}

// FeeStructureModel is the persistence model for a fee structure row. The
// natural key is (category, class level, session, term).
type FeeStructureModel struct {
	BaseModel
	FeeCategoryID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_fee_structures_key,priority:1"`
	ClassLevel    string          `gorm:"type:varchar(20);not null;uniqueIndex:idx_fee_structures_key,priority:2"`
	SessionID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_fee_structures_key,priority:3"`
	TermID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_fee_structures_key,priority:4"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Description   string          `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (FeeStructureModel) TableName() string {
	return "fee_structures"
}

// ToDomain converts the persistence model to a domain FeeStructure
func (m *FeeStructureModel) ToDomain() *billing.FeeStructure {
	return &billing.FeeStructure{
		BaseEntity:    m.BaseModel.ToDomain(),
		FeeCategoryID: m.FeeCategoryID,
		ClassLevel:    m.ClassLevel,
		SessionID:     m.SessionID,
		TermID:        m.TermID,
		Amount:        m.Amount,
		Description:   m.Description,
	}
}

// FeeStructureModelFromDomain creates a new persistence model from a domain FeeStructure
func FeeStructureModelFromDomain(fs *billing.FeeStructure) *FeeStructureModel {
	m := &FeeStructureModel{
		FeeCategoryID: fs.FeeCategoryID,
		ClassLevel:    fs.ClassLevel,
		SessionID:     fs.SessionID,
		TermID:        fs.TermID,
		Amount:        fs.Amount,
		Description:   fs.Description,
	}
	m.FromDomainBaseEntity(fs.BaseEntity)
	return m
}

// ExpenseModel is the persistence model for an expense
type ExpenseModel struct {
	BaseModel
	Title       string                  `gorm:"type:varchar(200);not null"`
	Category    billing.ExpenseCategory `gorm:"type:varchar(20);not null;index"`
	Amount      decimal.Decimal         `gorm:"type:decimal(12,2);not null"`
	ExpenseDate time.Time               `gorm:"not null;index"`
	Description string                  `gorm:"type:text"`
	RecordedBy  string                  `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM
func (ExpenseModel) TableName() string {
	return "expenses"
}

// ToDomain converts the persistence model to a domain Expense
func (m *ExpenseModel) ToDomain() *billing.Expense {
	return &billing.Expense{
		BaseEntity:  m.BaseModel.ToDomain(),
		Title:       m.Title,
		Category:    m.Category,
		Amount:      m.Amount,
		ExpenseDate: m.ExpenseDate,
		Description: m.Description,
		RecordedBy:  m.RecordedBy,
	}
}

// ExpenseModelFromDomain creates a new persistence model from a domain Expense
func ExpenseModelFromDomain(e *billing.Expense) *ExpenseModel {
	m := &ExpenseModel{
		Title:       e.Title,
		Category:    e.Category,
		Amount:      e.Amount,
		ExpenseDate: e.ExpenseDate,
		Description: e.Description,
		RecordedBy:  e.RecordedBy,
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}
