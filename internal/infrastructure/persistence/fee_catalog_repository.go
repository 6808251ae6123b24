package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/schoolerp/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormFeeCatalogRepository implements billing.FeeCatalogRepository using GORM
type GormFeeCatalogRepository struct {
	db *gorm.DB
}

// NewGormFeeCatalogRepository creates a new GormFeeCatalogRepository
func NewGormFeeCatalogRepository(db *gorm.DB) *GormFeeCatalogRepository {
	return &GormFeeCatalogRepository{db: db}
}

// GetCategory finds a fee category by ID
func (r *GormFeeCatalogRepository) GetCategory(ctx context.Context, id uuid.UUID) (*billing.FeeCategory, error) {
	var model models.FeeCategoryModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CategoryNameExists reports whether a category name is taken, ignoring case
func (r *GormFeeCatalogRepository) CategoryNameExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.FeeCategoryModel{}).
		Where("LOWER(name) = LOWER(?)", name).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveCategory creates or updates a fee category
func (r *GormFeeCatalogRepository) SaveCategory(ctx context.Context, category *billing.FeeCategory) error {
	if err := r.db.WithContext(ctx).Save(models.FeeCategoryModelFromDomain(category)).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.NewDomainError(shared.CodeAlreadyExists, "Fee category name already exists")
		}
		return fmt.Errorf("failed to save fee category: %w", err)
	}
	return nil
}

// ListCategories returns categories sorted by name
func (r *GormFeeCatalogRepository) ListCategories(ctx context.Context, activeOnly bool) ([]billing.FeeCategory, error) {
	query := r.db.WithContext(ctx).Model(&models.FeeCategoryModel{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []models.FeeCategoryModel
	if err := query.Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	categories := make([]billing.FeeCategory, len(rows))
	for i := range rows {
		categories[i] = *rows[i].ToDomain()
	}
	return categories, nil
}

// SaveStructure inserts a fee structure row
func (r *GormFeeCatalogRepository) SaveStructure(ctx context.Context, structure *billing.FeeStructure) error {
	if err := r.db.WithContext(ctx).Create(models.FeeStructureModelFromDomain(structure)).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.NewDomainError(shared.CodeAlreadyExists, "Fee structure already exists for this category, class level and term")
		}
		return fmt.Errorf("failed to save fee structure: %w", err)
	}
	return nil
}

// ListStructures returns matching fee structures sorted by class level
func (r *GormFeeCatalogRepository) ListStructures(ctx context.Context, filter billing.FeeStructureFilter) ([]billing.FeeStructure, error) {
	query := r.db.WithContext(ctx).Model(&models.FeeStructureModel{})
	if filter.ClassLevel != "" {
		query = query.Where("class_level = ?", filter.ClassLevel)
	}
	if filter.SessionID != nil {
		query = query.Where("session_id = ?", *filter.SessionID)
	}
	if filter.TermID != nil {
		query = query.Where("term_id = ?", *filter.TermID)
	}
	var rows []models.FeeStructureModel
	if err := query.Order("class_level ASC, created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	structures := make([]billing.FeeStructure, len(rows))
	for i := range rows {
		structures[i] = *rows[i].ToDomain()
	}
	return structures, nil
}

// GormExpenseRepository implements billing.ExpenseRepository using GORM
type GormExpenseRepository struct {
	db *gorm.DB
}

// NewGormExpenseRepository creates a new GormExpenseRepository
func NewGormExpenseRepository(db *gorm.DB) *GormExpenseRepository {
	return &GormExpenseRepository{db: db}
}

// Save inserts an expense
func (r *GormExpenseRepository) Save(ctx context.Context, expense *billing.Expense) error {
	if err := r.db.WithContext(ctx).Create(models.ExpenseModelFromDomain(expense)).Error; err != nil {
		return fmt.Errorf("failed to save expense: %w", err)
	}
	return nil
}

// List returns expenses in range, newest first
func (r *GormExpenseRepository) List(ctx context.Context, dr billing.DateRange) ([]billing.Expense, error) {
	var rows []models.ExpenseModel
	if err := withinRange(r.db.WithContext(ctx).Model(&models.ExpenseModel{}), "expense_date", dr).
		Order("expense_date DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	expenses := make([]billing.Expense, len(rows))
	for i := range rows {
		expenses[i] = *rows[i].ToDomain()
	}
	return expenses, nil
}

// Sum totals expenses in range
func (r *GormExpenseRepository) Sum(ctx context.Context, dr billing.DateRange) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	if err := withinRange(r.db.WithContext(ctx).Model(&models.ExpenseModel{}), "expense_date", dr).
		Select("SUM(amount)").
		Row().Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum expenses: %w", err)
	}
	return sum.Decimal, nil
}

// Ensure the repositories implement their ports
var (
	_ billing.FeeCatalogRepository = (*GormFeeCatalogRepository)(nil)
	_ billing.ExpenseRepository    = (*GormExpenseRepository)(nil)
)
