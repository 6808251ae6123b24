package billing

import (
	"context"
	"strings"
	"time"

	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ExpenseCategory classifies outgoing spend
type ExpenseCategory string

const (
	ExpenseCategorySalary      ExpenseCategory = "salary"
	ExpenseCategoryUtilities   ExpenseCategory = "utilities"
	ExpenseCategorySupplies    ExpenseCategory = "supplies"
	ExpenseCategoryMaintenance ExpenseCategory = "maintenance"
	ExpenseCategoryOther       ExpenseCategory = "other"
)

// IsValid checks if the category is known
func (c ExpenseCategory) IsValid() bool {
	switch c {
	case ExpenseCategorySalary, ExpenseCategoryUtilities, ExpenseCategorySupplies,
		ExpenseCategoryMaintenance, ExpenseCategoryOther:
		return true
	}
	return false
}

// Expense is money spent by the school
type Expense struct {
	shared.BaseEntity
	Title       string          `json:"title"`
	Category    ExpenseCategory `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate time.Time       `json:"expense_date"`
	Description string          `json:"description,omitempty"`
	RecordedBy  string          `json:"recorded_by,omitempty"`
}

// NewExpense creates an expense record
func NewExpense(title string, category ExpenseCategory, amount decimal.Decimal, date time.Time, description, recordedBy string) (*Expense, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, shared.NewDomainError(shared.CodeValidation, "Expense title cannot be empty")
	}
	if !category.IsValid() {
		return nil, shared.NewDomainError(shared.CodeValidation, "Expense category is not valid")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError(shared.CodeInvalidAmount, "Expense amount must be positive")
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}
	return &Expense{
		BaseEntity:  shared.NewBaseEntity(),
		Title:       title,
		Category:    category,
		Amount:      amount,
		ExpenseDate: date,
		Description: description,
		RecordedBy:  recordedBy,
	}, nil
}

// DateRange is an optional inclusive time window
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// ExpenseRepository persists expenses
type ExpenseRepository interface {
	Save(ctx context.Context, expense *Expense) error
	List(ctx context.Context, r DateRange) ([]Expense, error)
	Sum(ctx context.Context, r DateRange) (decimal.Decimal, error)
}
