package billing

import (
	"context"
	"time"

	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// FeeCatalogService manages fee categories, per-class fee structures and
// school expenses
type FeeCatalogService struct {
	catalog  billing.FeeCatalogRepository
	expenses billing.ExpenseRepository
	logger   *zap.Logger
}

// NewFeeCatalogService creates a new FeeCatalogService
func NewFeeCatalogService(catalog billing.FeeCatalogRepository, expenses billing.ExpenseRepository, logger *zap.Logger) *FeeCatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeCatalogService{catalog: catalog, expenses: expenses, logger: logger}
}

// CreateFeeCategory creates a fee category with a unique name
func (s *FeeCatalogService) CreateFeeCategory(ctx context.Context, req CreateFeeCategoryRequest) (*FeeCategoryResponse, error) {
	category, err := billing.NewFeeCategory(req.Name, req.Description)
	if err != nil {
		return nil, err
	}
	exists, err := s.catalog.CategoryNameExists(ctx, category.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, shared.NewDomainError(shared.CodeAlreadyExists, "Fee category with this name already exists")
	}
	if err := s.catalog.SaveCategory(ctx, category); err != nil {
		return nil, err
	}

	s.logger.Info("Fee category created",
		zap.String("category_id", category.ID.String()),
		zap.String("name", category.Name))

	resp := ToFeeCategoryResponse(category)
	return &resp, nil
}

// ListFeeCategories lists fee categories
func (s *FeeCatalogService) ListFeeCategories(ctx context.Context, activeOnly bool) ([]FeeCategoryResponse, error) {
	categories, err := s.catalog.ListCategories(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	result := make([]FeeCategoryResponse, 0, len(categories))
	for i := range categories {
		result = append(result, ToFeeCategoryResponse(&categories[i]))
	}
	return result, nil
}

// CreateFeeStructure prices a fee category for a class level and term
func (s *FeeCatalogService) CreateFeeStructure(ctx context.Context, req CreateFeeStructureRequest) (*FeeStructureResponse, error) {
	if _, err := s.catalog.GetCategory(ctx, req.FeeCategoryID); err != nil {
		if isNotFound(err) {
			return nil, shared.NewDomainError(shared.CodeValidation, "Fee category not found")
		}
		return nil, err
	}
	structure, err := billing.NewFeeStructure(req.FeeCategoryID, req.ClassLevel, req.SessionID, req.TermID, req.Amount, req.Description)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.SaveStructure(ctx, structure); err != nil {
		return nil, err
	}

	s.logger.Info("Fee structure created",
		zap.String("fee_structure_id", structure.ID.String()),
		zap.String("class_level", structure.ClassLevel),
		zap.String("amount", structure.Amount.String()))

	resp := ToFeeStructureResponse(structure)
	return &resp, nil
}

// ListFeeStructures lists fee structures matching the filter
func (s *FeeCatalogService) ListFeeStructures(ctx context.Context, filter FeeStructureListFilter) ([]FeeStructureResponse, error) {
	structures, err := s.catalog.ListStructures(ctx, billing.FeeStructureFilter{
		ClassLevel: filter.ClassLevel,
		SessionID:  filter.SessionID,
		TermID:     filter.TermID,
	})
	if err != nil {
		return nil, err
	}
	result := make([]FeeStructureResponse, 0, len(structures))
	for i := range structures {
		result = append(result, ToFeeStructureResponse(&structures[i]))
	}
	return result, nil
}

// RecordExpense records money spent by the school
func (s *FeeCatalogService) RecordExpense(ctx context.Context, req RecordExpenseRequest) (*ExpenseResponse, error) {
	var date time.Time
	if req.ExpenseDate != nil {
		date = *req.ExpenseDate
	}
	expense, err := billing.NewExpense(req.Title, billing.ExpenseCategory(req.Category), req.Amount, date, req.Description, req.RecordedBy)
	if err != nil {
		return nil, err
	}
	if err := s.expenses.Save(ctx, expense); err != nil {
		return nil, err
	}

	s.logger.Info("Expense recorded",
		zap.String("expense_id", expense.ID.String()),
		zap.String("category", string(expense.Category)),
		zap.String("amount", expense.Amount.String()))

	resp := ToExpenseResponse(expense)
	return &resp, nil
}

// ListExpenses lists expenses inside an optional window
func (s *FeeCatalogService) ListExpenses(ctx context.Context, filter DateRangeFilter) ([]ExpenseResponse, error) {
	expenses, err := s.expenses.List(ctx, filter.toDomain())
	if err != nil {
		return nil, err
	}
	result := make([]ExpenseResponse, 0, len(expenses))
	for i := range expenses {
		result = append(result, ToExpenseResponse(&expenses[i]))
	}
	return result, nil
}
