package notification

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"net/mail"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
	"go.uber.org/zap"
)

const receiptText = `Dear {{.StudentName}},

We have received {{.Amount}} towards invoice {{.InvoiceNumber}}.

Receipt number: {{.ReceiptNumber}}
Payment method: {{.Method}}
Date: {{.Date}}
Outstanding balance: {{.Balance}}

Thank you.
{{.School}}
`

const receiptHTML = `<p>Dear {{.StudentName}},</p>
<p>We have received <strong>{{.Amount}}</strong> towards invoice {{.InvoiceNumber}}.</p>
<table>
<tr><td>Receipt number</td><td>{{.ReceiptNumber}}</td></tr>
<tr><td>Payment method</td><td>{{.Method}}</td></tr>
<tr><td>Date</td><td>{{.Date}}</td></tr>
<tr><td>Outstanding balance</td><td>{{.Balance}}</td></tr>
</table>
<p>Thank you.<br>{{.School}}</p>
`

var (
	receiptTextTmpl = texttemplate.Must(texttemplate.New("receipt.txt").Parse(receiptText))
	receiptHTMLTmpl = htmltemplate.Must(htmltemplate.New("receipt.html").Parse(receiptHTML))
)

// ReceiptData is what a receipt email renders
type ReceiptData struct {
	StudentName   string
	InvoiceNumber string
	ReceiptNumber string
	Amount        string
	Balance       string
	Method        string
	Date          string
	School        string
}

// ReceiptMailerConfig holds dependencies for the receipt mailer
type ReceiptMailerConfig struct {
	Mailer   Mailer
	Ledger   billing.LedgerStore
	Students billing.StudentDirectory
	// Currency is an ISO 4217 code, e.g. NGN
	Currency   string
	SchoolName string
	Logger     *zap.Logger
}

// ReceiptMailer emails a receipt whenever a payment completes. Students with
// neither a personal nor a parent address are skipped.
type ReceiptMailer struct {
	mailer   Mailer
	ledger   billing.LedgerStore
	students billing.StudentDirectory
	unit     currency.Unit
	printer  *message.Printer
	title    cases.Caser
	school   string
	logger   *zap.Logger
}

// NewReceiptMailer creates a ReceiptMailer. An unknown currency code is an
// error.
func NewReceiptMailer(cfg ReceiptMailerConfig) (*ReceiptMailer, error) {
	code := cfg.Currency
	if code == "" {
		code = "NGN"
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("invalid receipt currency %q: %w", code, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptMailer{
		mailer:   cfg.Mailer,
		ledger:   cfg.Ledger,
		students: cfg.Students,
		unit:     unit,
		printer:  message.NewPrinter(language.English),
		title:    cases.Title(language.English),
		school:   cfg.SchoolName,
		logger:   logger,
	}, nil
}

// EventTypes subscribes to completed payments
func (r *ReceiptMailer) EventTypes() []string {
	return []string{billing.EventTypePaymentCompleted}
}

// Handle sends the receipt for a PaymentCompletedEvent
func (r *ReceiptMailer) Handle(ctx context.Context, event shared.DomainEvent) error {
	completed, ok := event.(*billing.PaymentCompletedEvent)
	if !ok {
		return nil
	}

	payment, err := r.ledger.GetPayment(ctx, completed.PaymentID)
	if err != nil {
		return fmt.Errorf("receipt: load payment: %w", err)
	}
	invoice, err := r.ledger.GetInvoice(ctx, payment.InvoiceID)
	if err != nil {
		return fmt.Errorf("receipt: load invoice: %w", err)
	}
	student, err := r.students.GetStudent(ctx, invoice.StudentID)
	if err != nil {
		return fmt.Errorf("receipt: load student: %w", err)
	}

	to := recipient(student)
	if to == "" {
		r.logger.Info("No email on file, receipt not sent",
			zap.String("student_id", student.ID.String()),
			zap.String("receipt_number", payment.ReceiptNumber))
		return nil
	}

	msg, err := r.Render(ReceiptData{
		StudentName:   student.FullName,
		InvoiceNumber: invoice.InvoiceNumber,
		ReceiptNumber: payment.ReceiptNumber,
		Amount:        r.FormatAmount(payment.Amount),
		Balance:       r.FormatAmount(decimal.Max(invoice.Balance, decimal.Zero)),
		Method:        r.title.String(strings.ReplaceAll(string(payment.Method), "_", " ")),
		Date:          paymentDate(payment).Format("2 January 2006"),
		School:        r.school,
	})
	if err != nil {
		return err
	}
	msg.To = mail.Address{Name: student.FullName, Address: to}

	if err := r.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("receipt %s: %w", payment.ReceiptNumber, err)
	}
	r.logger.Info("Receipt sent",
		zap.String("receipt_number", payment.ReceiptNumber),
		zap.String("invoice_number", invoice.InvoiceNumber))
	return nil
}

// Render builds the subject and both bodies for data
func (r *ReceiptMailer) Render(data ReceiptData) (Message, error) {
	var text, html bytes.Buffer
	if err := receiptTextTmpl.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render receipt text: %w", err)
	}
	if err := receiptHTMLTmpl.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render receipt html: %w", err)
	}
	return Message{
		Subject: "Payment receipt " + data.ReceiptNumber,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// FormatAmount renders an amount with the currency code and digit grouping,
// e.g. "NGN 45,000.00"
func (r *ReceiptMailer) FormatAmount(amount decimal.Decimal) string {
	scale, _ := currency.Standard.Rounding(r.unit)
	return r.unit.String() + " " + r.printer.Sprint(number.Decimal(amount.InexactFloat64(), number.Scale(scale)))
}

func recipient(s *billing.Student) string {
	if e := strings.TrimSpace(s.Email); e != "" {
		return e
	}
	return strings.TrimSpace(s.ParentEmail)
}

func paymentDate(p *billing.Payment) time.Time {
	if p.IsGateway() && p.CompletedAt != nil {
		return *p.CompletedAt
	}
	return p.PaymentDate
}

var _ shared.EventHandler = (*ReceiptMailer)(nil)
