package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
)

// InvoiceModel is the persistence model for the Invoice aggregate root.
type InvoiceModel struct {
	AggregateModel
	InvoiceNumber string                `gorm:"type:varchar(20);not null;uniqueIndex:idx_invoices_number"`
	StudentID     uuid.UUID             `gorm:"type:uuid;not null;index"`
	SessionID     uuid.UUID             `gorm:"type:uuid;not null;index:idx_invoices_session_term,priority:1"`
	TermID        uuid.UUID             `gorm:"type:uuid;not null;index:idx_invoices_session_term,priority:2"`
	TotalAmount   decimal.Decimal       `gorm:"type:decimal(12,2);not null"`
	AmountPaid    decimal.Decimal       `gorm:"type:decimal(12,2);not null;default:0"`
	Balance       decimal.Decimal       `gorm:"type:decimal(12,2);not null;index"`
	Status        billing.InvoiceStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	DueDate       *time.Time
	CancelledAt   *time.Time
	CancelReason  string             `gorm:"type:varchar(500)"`
	Items         []InvoiceItemModel `gorm:"foreignKey:InvoiceID;references:ID"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice. Items are
// included when they were preloaded.
func (m *InvoiceModel) ToDomain() *billing.Invoice {
	inv := &billing.Invoice{
		BaseAggregateRoot: m.ToAggregateRoot(),
		InvoiceNumber:     m.InvoiceNumber,
		StudentID:         m.StudentID,
		SessionID:         m.SessionID,
		TermID:            m.TermID,
		TotalAmount:       m.TotalAmount,
		AmountPaid:        m.AmountPaid,
		Balance:           m.Balance,
		Status:            m.Status,
		DueDate:           m.DueDate,
		CancelledAt:       m.CancelledAt,
		CancelReason:      m.CancelReason,
		Items:             make([]billing.InvoiceItem, 0, len(m.Items)),
	}
	for _, item := range m.Items {
		inv.Items = append(inv.Items, item.ToDomain())
	}
	return inv
}

// FromDomain populates the persistence model from a domain Invoice
func (m *InvoiceModel) FromDomain(inv *billing.Invoice) {
	m.FromDomainAggregateRoot(inv.BaseAggregateRoot)
	m.InvoiceNumber = inv.InvoiceNumber
	m.StudentID = inv.StudentID
	m.SessionID = inv.SessionID
	m.TermID = inv.TermID
	m.TotalAmount = inv.TotalAmount
	m.AmountPaid = inv.AmountPaid
	m.Balance = inv.Balance
	m.Status = inv.Status
	m.DueDate = inv.DueDate
	m.CancelledAt = inv.CancelledAt
	m.CancelReason = inv.CancelReason
	m.Items = make([]InvoiceItemModel, 0, len(inv.Items))
	for i, item := range inv.Items {
		m.Items = append(m.Items, InvoiceItemModelFromDomain(item, i+1))
	}
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice
func InvoiceModelFromDomain(inv *billing.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}

// InvoiceItemModel is the persistence model for an invoice line
type InvoiceItemModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key"`
	InvoiceID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	LineNo        int             `gorm:"not null"`
	FeeCategoryID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Description   string          `gorm:"type:varchar(255)"`
}

// TableName returns the table name for GORM
func (InvoiceItemModel) TableName() string {
	return "invoice_items"
}

// ToDomain converts the persistence model to a domain InvoiceItem
func (m *InvoiceItemModel) ToDomain() billing.InvoiceItem {
	return billing.InvoiceItem{
		ID:            m.ID,
		InvoiceID:     m.InvoiceID,
		FeeCategoryID: m.FeeCategoryID,
		Amount:        m.Amount,
		Description:   m.Description,
	}
}

// InvoiceItemModelFromDomain creates a persistence model for the line at position lineNo
func InvoiceItemModelFromDomain(item billing.InvoiceItem, lineNo int) InvoiceItemModel {
	return InvoiceItemModel{
		ID:            item.ID,
		InvoiceID:     item.InvoiceID,
		LineNo:        lineNo,
		FeeCategoryID: item.FeeCategoryID,
		Amount:        item.Amount,
		Description:   item.Description,
	}
}

// PaymentModel is the persistence model for the Payment aggregate root.
// GatewayReference is NULL for manual payments so the unique index only
// covers gateway charges.
type PaymentModel struct {
	AggregateModel
	ReceiptNumber      string                     `gorm:"type:varchar(20);not null;uniqueIndex:idx_payments_receipt"`
	InvoiceID          uuid.UUID                  `gorm:"type:uuid;not null;index"`
	Amount             decimal.Decimal            `gorm:"type:decimal(12,2);not null"`
	Method             billing.PaymentMethod      `gorm:"type:varchar(20);not null"`
	Status             billing.PaymentStatus      `gorm:"type:varchar(20);not null;index"`
	GatewayReference   *string                    `gorm:"type:varchar(50);uniqueIndex:idx_payments_gateway_reference"`
	AccessCode         string                     `gorm:"type:varchar(100)"`
	AuthorizationCode  string                     `gorm:"type:varchar(100)"`
	ConfirmationSource billing.ConfirmationSource `gorm:"type:varchar(20)"`
	PaymentDate        time.Time                  `gorm:"not null;index"`
	Reference          string                     `gorm:"type:varchar(100)"`
	Remarks            string                     `gorm:"type:text"`
	ReceivedBy         string                     `gorm:"type:varchar(100)"`
	FailureReason      string                     `gorm:"type:varchar(500)"`
	CompletedAt        *time.Time
	FailedAt           *time.Time
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment
func (m *PaymentModel) ToDomain() *billing.Payment {
	p := &billing.Payment{
		BaseAggregateRoot:  m.ToAggregateRoot(),
		ReceiptNumber:      m.ReceiptNumber,
		InvoiceID:          m.InvoiceID,
		Amount:             m.Amount,
		Method:             m.Method,
		Status:             m.Status,
		AccessCode:         m.AccessCode,
		AuthorizationCode:  m.AuthorizationCode,
		ConfirmationSource: m.ConfirmationSource,
		PaymentDate:        m.PaymentDate,
		Reference:          m.Reference,
		Remarks:            m.Remarks,
		ReceivedBy:         m.ReceivedBy,
		FailureReason:      m.FailureReason,
		CompletedAt:        m.CompletedAt,
		FailedAt:           m.FailedAt,
	}
	if m.GatewayReference != nil {
		p.GatewayReference = *m.GatewayReference
	}
	return p
}

// FromDomain populates the persistence model from a domain Payment
func (m *PaymentModel) FromDomain(p *billing.Payment) {
	m.FromDomainAggregateRoot(p.BaseAggregateRoot)
	m.ReceiptNumber = p.ReceiptNumber
	m.InvoiceID = p.InvoiceID
	m.Amount = p.Amount
	m.Method = p.Method
	m.Status = p.Status
	m.GatewayReference = nil
	if p.GatewayReference != "" {
		ref := p.GatewayReference
		m.GatewayReference = &ref
	}
	m.AccessCode = p.AccessCode
	m.AuthorizationCode = p.AuthorizationCode
	m.ConfirmationSource = p.ConfirmationSource
	m.PaymentDate = p.PaymentDate
	m.Reference = p.Reference
	m.Remarks = p.Remarks
	m.ReceivedBy = p.ReceivedBy
	m.FailureReason = p.FailureReason
	m.CompletedAt = p.CompletedAt
	m.FailedAt = p.FailedAt
}

// PaymentModelFromDomain creates a new persistence model from a domain Payment
func PaymentModelFromDomain(p *billing.Payment) *PaymentModel {
	m := &PaymentModel{}
	m.FromDomain(p)
	return m
}
