package billing

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/schoolerp/backend/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock payment gateway
// =============================================================================

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Name() string {
	return "paystack"
}

func (m *MockPaymentGateway) InitializeCharge(ctx context.Context, req *billing.ChargeRequest) (*billing.ChargeSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ChargeSession), args.Error(1)
}

func (m *MockPaymentGateway) VerifyCharge(ctx context.Context, reference string) (*billing.ChargeVerification, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ChargeVerification), args.Error(1)
}

func (m *MockPaymentGateway) VerifySignature(payload []byte, signature string) error {
	args := m.Called(payload, signature)
	return args.Error(0)
}

func (m *MockPaymentGateway) ParseWebhookEvent(payload []byte) (*billing.WebhookEvent, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.WebhookEvent), args.Error(1)
}

// =============================================================================
// Mock collaborators
// =============================================================================

type MockStudentDirectory struct {
	mock.Mock
}

func (m *MockStudentDirectory) GetStudent(ctx context.Context, id uuid.UUID) (*billing.Student, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Student), args.Error(1)
}

type MockAcademicCalendar struct {
	mock.Mock
}

func (m *MockAcademicCalendar) ValidateTerm(ctx context.Context, sessionID, termID uuid.UUID) error {
	args := m.Called(ctx, sessionID, termID)
	return args.Error(0)
}

type MockWebhookArchive struct {
	mock.Mock
}

func (m *MockWebhookArchive) Archive(ctx context.Context, webhook *billing.ArchivedWebhook) error {
	args := m.Called(ctx, webhook)
	return args.Error(0)
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

// scriptedReferences hands out queued references before falling back to
// random ones
type scriptedReferences struct {
	mu       sync.Mutex
	invoices []string
	receipts []string
	random   *billing.RandomReferenceGenerator
}

func (s *scriptedReferences) pop(queue *[]string, fallback func() string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(*queue) == 0 {
		return fallback()
	}
	ref := (*queue)[0]
	*queue = (*queue)[1:]
	return ref
}

func (s *scriptedReferences) InvoiceNumber() string {
	return s.pop(&s.invoices, s.random.InvoiceNumber)
}

func (s *scriptedReferences) ReceiptNumber() string {
	return s.pop(&s.receipts, s.random.ReceiptNumber)
}

func (s *scriptedReferences) GatewayReference() string {
	return s.random.GatewayReference()
}

// =============================================================================
// Test harness
// =============================================================================

type harness struct {
	store     *memory.LedgerStore
	catalog   *memory.FeeCatalog
	expenses  *memory.Expenses
	gateway   *MockPaymentGateway
	students  *MockStudentDirectory
	calendar  *MockAcademicCalendar
	publisher *recordingPublisher
	refs      *scriptedReferences

	engine   *InvoiceEngine
	recorder *PaymentRecorder
	recon    *ReconciliationService
	reports  *ReportService
	fees     *FeeCatalogService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewLedgerStore(),
		catalog:   memory.NewFeeCatalog(),
		expenses:  memory.NewExpenses(),
		gateway:   new(MockPaymentGateway),
		students:  new(MockStudentDirectory),
		calendar:  new(MockAcademicCalendar),
		publisher: &recordingPublisher{},
		refs:      &scriptedReferences{random: billing.NewRandomReferenceGenerator()},
	}
	h.calendar.On("ValidateTerm", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	h.engine = NewInvoiceEngine(InvoiceEngineConfig{
		Store:          h.store,
		Calendar:       h.calendar,
		FeeCatalog:     h.catalog,
		References:     h.refs,
		EventPublisher: h.publisher,
	})
	h.recorder = NewPaymentRecorder(PaymentRecorderConfig{
		Store:          h.store,
		References:     h.refs,
		EventPublisher: h.publisher,
	})
	h.recon = NewReconciliationService(ReconciliationServiceConfig{
		Gateway:  h.gateway,
		Store:    h.store,
		Recorder: h.recorder,
		Students: h.students,
		Settings: GatewaySettings{
			CallbackURL:         "https://school.example/payments/callback",
			Currency:            "NGN",
			FallbackEmailDomain: "school.edu",
		},
	})
	h.reports = NewReportService(h.store, h.store, h.expenses, nil)
	h.fees = NewFeeCatalogService(h.catalog, h.expenses, nil)
	return h
}

// issueInvoice creates the 500 + 50 invoice used across scenarios
func (h *harness) issueInvoice(t *testing.T, studentID uuid.UUID) *InvoiceResponse {
	t.Helper()
	inv, err := h.engine.CreateInvoice(context.Background(), CreateInvoiceRequest{
		StudentID: studentID,
		SessionID: uuid.New(),
		TermID:    uuid.New(),
		Items: []InvoiceItemRequest{
			{FeeCategoryID: uuid.New(), Amount: dec("500.00"), Description: "Tuition"},
			{FeeCategoryID: uuid.New(), Amount: dec("50.00"), Description: "Books"},
		},
	})
	require.NoError(t, err)
	return inv
}

func (h *harness) invoice(t *testing.T, id uuid.UUID) *InvoiceResponse {
	t.Helper()
	inv, err := h.engine.GetInvoice(context.Background(), id)
	require.NoError(t, err)
	return inv
}
