package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// FeeCategory is a kind of charge, e.g. tuition or books
type FeeCategory struct {
	shared.BaseEntity
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// NewFeeCategory creates an active fee category
func NewFeeCategory(name, description string) (*FeeCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError(shared.CodeValidation, "Fee category name cannot be empty")
	}
	if len(name) > 100 {
		return nil, shared.NewDomainError(shared.CodeValidation, "Fee category name cannot exceed 100 characters")
	}
	return &FeeCategory{
		BaseEntity:  shared.NewBaseEntity(),
		Name:        name,
		Description: description,
		IsActive:    true,
	}, nil
}

// FeeStructure is the standard amount of one fee category for a class level
// in a given session and term
type FeeStructure struct {
	shared.BaseEntity
	FeeCategoryID uuid.UUID       `json:"fee_category_id"`
	ClassLevel    string          `json:"class_level"`
	SessionID     uuid.UUID       `json:"session_id"`
	TermID        uuid.UUID       `json:"term_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
}

// NewFeeStructure creates a fee structure row
func NewFeeStructure(categoryID uuid.UUID, classLevel string, sessionID, termID uuid.UUID, amount decimal.Decimal, description string) (*FeeStructure, error) {
	classLevel = strings.TrimSpace(classLevel)
	if categoryID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeValidation, "Fee category is required")
	}
	if classLevel == "" {
		return nil, shared.NewDomainError(shared.CodeValidation, "Class level is required")
	}
	if sessionID == uuid.Nil || termID == uuid.Nil {
		return nil, shared.NewDomainError(shared.CodeValidation, "Session and term are required")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError(shared.CodeInvalidAmount, "Fee amount must be positive")
	}
	return &FeeStructure{
		BaseEntity:    shared.NewBaseEntity(),
		FeeCategoryID: categoryID,
		ClassLevel:    classLevel,
		SessionID:     sessionID,
		TermID:        termID,
		Amount:        amount,
		Description:   description,
	}, nil
}

// AsInvoiceItem converts the structure row into an invoice line
func (f *FeeStructure) AsInvoiceItem(categoryName string) NewInvoiceItem {
	desc := f.Description
	if desc == "" {
		desc = categoryName
	}
	return NewInvoiceItem{
		FeeCategoryID: f.FeeCategoryID,
		Amount:        f.Amount,
		Description:   desc,
	}
}

// FeeStructureFilter selects fee structure rows. Empty fields match all.
type FeeStructureFilter struct {
	ClassLevel string
	SessionID  *uuid.UUID
	TermID     *uuid.UUID
}

// FeeCatalogRepository persists fee categories and structures
type FeeCatalogRepository interface {
	GetCategory(ctx context.Context, id uuid.UUID) (*FeeCategory, error)
	CategoryNameExists(ctx context.Context, name string) (bool, error)
	SaveCategory(ctx context.Context, category *FeeCategory) error
	ListCategories(ctx context.Context, activeOnly bool) ([]FeeCategory, error)

	// SaveStructure returns an ALREADY_EXISTS domain error when the
	// (category, class level, session, term) combination is taken
	SaveStructure(ctx context.Context, structure *FeeStructure) error
	ListStructures(ctx context.Context, filter FeeStructureFilter) ([]FeeStructure, error)
}
