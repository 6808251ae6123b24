// Package billing provides domain models for school fee invoicing and payment
// reconciliation.
//
// This package implements the billing bounded context, which is responsible for:
//   - Issuing invoices to students for an academic session and term
//   - Recording manual (cash, bank, cheque, card) payments against invoices
//   - Tracking gateway-mediated payments from initialization to confirmation
//   - Deriving invoice balance and status from completed payments only
//
// Key Aggregates:
//   - Invoice: A billing document owning its InvoiceItems
//   - Payment: A transfer of funds against one invoice
//
// Supporting entities:
//   - FeeCategory, FeeStructure: The fee catalog invoices are built from
//   - Expense: Outgoing spend, used by the finance summary
//
// Ports:
//   - LedgerStore: Transactional persistence for invoices and payments
//   - PaymentGateway: External card/transfer processor
//   - StudentDirectory, AcademicCalendar: Read-only collaborators
package billing
