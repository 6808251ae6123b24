package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// PaymentRecorder records payments against invoices. Every write runs inside
// the invoice's lock so the invoice recompute sees a consistent payment set.
type PaymentRecorder struct {
	store          billing.LedgerStore
	references     billing.ReferenceGenerator
	eventPublisher shared.EventPublisher
	logger         *zap.Logger
}

// PaymentRecorderConfig holds dependencies for the payment recorder
type PaymentRecorderConfig struct {
	Store          billing.LedgerStore
	References     billing.ReferenceGenerator
	EventPublisher shared.EventPublisher
	Logger         *zap.Logger
}

// NewPaymentRecorder creates a new PaymentRecorder
func NewPaymentRecorder(cfg PaymentRecorderConfig) *PaymentRecorder {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	refs := cfg.References
	if refs == nil {
		refs = billing.NewRandomReferenceGenerator()
	}
	return &PaymentRecorder{
		store:          cfg.Store,
		references:     refs,
		eventPublisher: cfg.EventPublisher,
		logger:         logger,
	}
}

// RecordManualPayment records a cash, transfer, card or cheque payment taken
// by staff. The payment is completed immediately and the invoice recomputed
// in the same transaction. Overpayment is accepted.
func (r *PaymentRecorder) RecordManualPayment(ctx context.Context, invoiceID uuid.UUID, req RecordPaymentRequest) (*PaymentResponse, error) {
	method := billing.PaymentMethod(req.Method)
	if !method.IsManual() {
		return nil, shared.NewDomainError(shared.CodeValidation,
			"Payment method must be one of cash, bank_transfer, card or cheque")
	}
	var paymentDate time.Time
	if req.PaymentDate != nil {
		paymentDate = *req.PaymentDate
	}

	var (
		payment *billing.Payment
		invoice *billing.Invoice
	)
	err := r.store.WithinInvoice(ctx, invoiceID, func(ctx context.Context, tx billing.LedgerStore) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.AcceptsPayments() {
			return shared.NewDomainError(shared.CodeInvalidState,
				"Cannot record a payment against a cancelled invoice")
		}

		receipt, err := allocateReference(ctx, r.references.ReceiptNumber, tx.ReceiptNumberExists)
		if err != nil {
			return err
		}
		payment, err = billing.NewManualPayment(billing.ManualPaymentInput{
			ReceiptNumber: receipt,
			InvoiceID:     invoiceID,
			Amount:        req.Amount,
			Method:        method,
			PaymentDate:   paymentDate,
			Reference:     req.Reference,
			Remarks:       req.Remarks,
			ReceivedBy:    req.ReceivedBy,
		})
		if err != nil {
			return err
		}
		if err := tx.SavePayment(ctx, payment); err != nil {
			return err
		}

		invoice, err = recomputeInvoice(ctx, tx, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Manual payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("receipt_number", payment.ReceiptNumber),
		zap.String("invoice_id", invoiceID.String()),
		zap.String("amount", payment.Amount.String()),
		zap.String("method", string(method)),
		zap.String("invoice_status", string(invoice.Status)))

	publishEvents(ctx, r.eventPublisher, r.logger, payment, invoice)
	return ToPaymentResponse(payment), nil
}

// InitializeGatewayPayment creates a pending gateway payment for the full
// outstanding balance. The invoice is not recomputed until the payment is
// confirmed.
func (r *PaymentRecorder) InitializeGatewayPayment(ctx context.Context, invoiceID uuid.UUID) (*PaymentResponse, error) {
	var payment *billing.Payment
	err := r.store.WithinInvoice(ctx, invoiceID, func(ctx context.Context, tx billing.LedgerStore) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.AcceptsPayments() {
			return shared.NewDomainError(shared.CodeInvalidState,
				"Cannot start a gateway payment for a cancelled invoice")
		}
		if !inv.HasOutstandingBalance() {
			return shared.NewDomainError(shared.CodeInvalidState,
				"Invoice has no outstanding balance")
		}
		// one open checkout per invoice
		existing, err := tx.ListPaymentsByInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		for i := range existing {
			if existing[i].HasOpenCheckout() {
				return shared.NewDomainError(shared.CodeInvalidState,
					fmt.Sprintf("Invoice already has an open checkout %s; verify it or mark it failed first",
						existing[i].GatewayReference))
			}
		}

		// the gateway reference doubles as the receipt number
		reference, err := allocateReference(ctx, r.references.GatewayReference, tx.ReceiptNumberExists)
		if err != nil {
			return err
		}
		payment, err = billing.NewGatewayPayment(reference, invoiceID, inv.Balance)
		if err != nil {
			return err
		}
		return tx.SavePayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Gateway payment created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("gateway_reference", payment.GatewayReference),
		zap.String("invoice_id", invoiceID.String()),
		zap.String("amount", payment.Amount.String()))

	publishEvents(ctx, r.eventPublisher, r.logger, payment)
	return ToPaymentResponse(payment), nil
}

// ConfirmGatewayPayment applies a gateway outcome to a pending payment.
// Confirming a terminal payment returns it unchanged with AlreadyTerminal
// set, so the verify and webhook paths can both deliver the same outcome.
// A success triggers exactly one recompute of the invoice.
func (r *PaymentRecorder) ConfirmGatewayPayment(
	ctx context.Context,
	paymentID uuid.UUID,
	outcome billing.GatewayOutcome,
	source billing.ConfirmationSource,
	authorizationCode string,
) (*ConfirmationResult, error) {
	if !outcome.IsValid() {
		return nil, shared.NewDomainError(shared.CodeValidation, "Gateway outcome must be success or failure")
	}
	payment, alreadyTerminal, err := r.transition(ctx, paymentID, func(p *billing.Payment) error {
		_, err := p.Confirm(outcome, source, authorizationCode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ConfirmationResult{Payment: ToPaymentResponse(payment), AlreadyTerminal: alreadyTerminal}, nil
}

// MarkPaymentFailed lets staff abandon a pending gateway payment so a new
// checkout can be opened. Terminal payments are returned unchanged.
func (r *PaymentRecorder) MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, req MarkPaymentFailedRequest) (*ConfirmationResult, error) {
	payment, alreadyTerminal, err := r.failPayment(ctx, paymentID, billing.ConfirmationSourceStaff, req.Reason)
	if err != nil {
		return nil, err
	}
	return &ConfirmationResult{Payment: ToPaymentResponse(payment), AlreadyTerminal: alreadyTerminal}, nil
}

func (r *PaymentRecorder) failPayment(
	ctx context.Context,
	paymentID uuid.UUID,
	source billing.ConfirmationSource,
	reason string,
) (*billing.Payment, bool, error) {
	return r.transition(ctx, paymentID, func(p *billing.Payment) error {
		return p.Fail(source, reason)
	})
}

// transition loads a gateway payment under its invoice lock and applies
// apply unless the payment is already terminal. Completed payments trigger a
// recompute in the same transaction.
func (r *PaymentRecorder) transition(
	ctx context.Context,
	paymentID uuid.UUID,
	apply func(p *billing.Payment) error,
) (*billing.Payment, bool, error) {
	current, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}
	if !current.IsGateway() {
		return nil, false, shared.NewDomainError(shared.CodeInvalidState,
			"Only gateway payments can be confirmed or failed")
	}

	var (
		payment         *billing.Payment
		invoice         *billing.Invoice
		alreadyTerminal bool
	)
	err = r.store.WithinInvoice(ctx, current.InvoiceID, func(ctx context.Context, tx billing.LedgerStore) error {
		var err error
		// re-read under the lock; a racing confirmation may have won
		payment, err = tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.IsTerminal() {
			alreadyTerminal = true
			return nil
		}
		if err := apply(payment); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		if payment.CountsTowardBalance() {
			invoice, err = recomputeInvoice(ctx, tx, payment.InvoiceID)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if alreadyTerminal {
		r.logger.Info("Payment already terminal, confirmation ignored",
			zap.String("payment_id", paymentID.String()),
			zap.String("status", string(payment.Status)))
		return payment, true, nil
	}

	r.logger.Info("Gateway payment settled",
		zap.String("payment_id", payment.ID.String()),
		zap.String("gateway_reference", payment.GatewayReference),
		zap.String("status", string(payment.Status)),
		zap.String("source", string(payment.ConfirmationSource)))

	if invoice != nil {
		publishEvents(ctx, r.eventPublisher, r.logger, payment, invoice)
	} else {
		publishEvents(ctx, r.eventPublisher, r.logger, payment)
	}
	return payment, false, nil
}

// GetPayment returns a payment by id
func (r *PaymentRecorder) GetPayment(ctx context.Context, paymentID uuid.UUID) (*PaymentResponse, error) {
	p, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return ToPaymentResponse(p), nil
}

// ListPayments returns every payment recorded against an invoice
func (r *PaymentRecorder) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]PaymentResponse, error) {
	if _, err := r.store.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	payments, err := r.store.ListPaymentsByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return ToPaymentResponses(payments), nil
}
