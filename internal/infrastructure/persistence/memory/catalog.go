package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// FeeCatalog is an in-memory billing.FeeCatalogRepository
type FeeCatalog struct {
	mu         sync.RWMutex
	categories map[uuid.UUID]billing.FeeCategory
	structures map[uuid.UUID]billing.FeeStructure
}

// NewFeeCatalog creates an empty fee catalog
func NewFeeCatalog() *FeeCatalog {
	return &FeeCatalog{
		categories: make(map[uuid.UUID]billing.FeeCategory),
		structures: make(map[uuid.UUID]billing.FeeStructure),
	}
}

// GetCategory returns a fee category by ID
func (c *FeeCatalog) GetCategory(ctx context.Context, id uuid.UUID) (*billing.FeeCategory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.categories[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &cat, nil
}

// CategoryNameExists reports whether a category name is taken, ignoring case
func (c *FeeCatalog) CategoryNameExists(ctx context.Context, name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cat := range c.categories {
		if strings.EqualFold(cat.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// SaveCategory inserts or replaces a fee category
func (c *FeeCatalog) SaveCategory(ctx context.Context, category *billing.FeeCategory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories[category.ID] = *category
	return nil
}

// ListCategories returns categories sorted by name
func (c *FeeCatalog) ListCategories(ctx context.Context, activeOnly bool) ([]billing.FeeCategory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]billing.FeeCategory, 0, len(c.categories))
	for _, cat := range c.categories {
		if activeOnly && !cat.IsActive {
			continue
		}
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveStructure inserts a fee structure row, enforcing its natural key
func (c *FeeCatalog) SaveStructure(ctx context.Context, fs *billing.FeeStructure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.structures {
		if existing.ID != fs.ID &&
			existing.FeeCategoryID == fs.FeeCategoryID &&
			existing.ClassLevel == fs.ClassLevel &&
			existing.SessionID == fs.SessionID &&
			existing.TermID == fs.TermID {
			return shared.NewDomainError(shared.CodeAlreadyExists, "Fee structure already exists for this category, class level and term")
		}
	}
	c.structures[fs.ID] = *fs
	return nil
}

// ListStructures returns matching fee structures sorted by class level
func (c *FeeCatalog) ListStructures(ctx context.Context, filter billing.FeeStructureFilter) ([]billing.FeeStructure, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]billing.FeeStructure, 0)
	for _, fs := range c.structures {
		if filter.ClassLevel != "" && fs.ClassLevel != filter.ClassLevel {
			continue
		}
		if filter.SessionID != nil && fs.SessionID != *filter.SessionID {
			continue
		}
		if filter.TermID != nil && fs.TermID != *filter.TermID {
			continue
		}
		out = append(out, fs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClassLevel != out[j].ClassLevel {
			return out[i].ClassLevel < out[j].ClassLevel
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Expenses is an in-memory billing.ExpenseRepository
type Expenses struct {
	mu    sync.RWMutex
	items []billing.Expense
}

// NewExpenses creates an empty expense store
func NewExpenses() *Expenses {
	return &Expenses{}
}

// Save appends an expense
func (e *Expenses) Save(ctx context.Context, expense *billing.Expense) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append(e.items, *expense)
	return nil
}

// List returns expenses in range, newest first
func (e *Expenses) List(ctx context.Context, r billing.DateRange) ([]billing.Expense, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]billing.Expense, 0)
	for _, x := range e.items {
		if inRange(r, x.ExpenseDate) {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpenseDate.After(out[j].ExpenseDate) })
	return out, nil
}

// Sum totals expenses in range
func (e *Expenses) Sum(ctx context.Context, r billing.DateRange) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sum := decimal.Zero
	for _, x := range e.items {
		if inRange(r, x.ExpenseDate) {
			sum = sum.Add(x.Amount)
		}
	}
	return sum, nil
}

func inRange(r billing.DateRange, t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

var (
	_ billing.FeeCatalogRepository = (*FeeCatalog)(nil)
	_ billing.ExpenseRepository    = (*Expenses)(nil)
)
