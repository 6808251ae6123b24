package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	billingapp "github.com/schoolerp/backend/internal/application/billing"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/schoolerp/backend/internal/infrastructure/cache"
	"github.com/schoolerp/backend/internal/infrastructure/payment"
	"github.com/schoolerp/backend/internal/infrastructure/persistence"
	"github.com/schoolerp/backend/internal/infrastructure/persistence/memory"
	"github.com/schoolerp/backend/internal/interfaces/http/dto"
	"github.com/schoolerp/backend/internal/interfaces/http/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// envelope mirrors dto.Response with a typed payload
type envelope[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data"`
	Error   *dto.ErrorInfo `json:"error"`
	Meta    *dto.Meta      `json:"meta"`
}

func decodeAs[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// Fake Paystack API
// =============================================================================

// fakePaystack answers the initialize and verify endpoints. Charges verify
// as successful for the initialized amount unless a status is scripted.
type fakePaystack struct {
	mu         sync.Mutex
	amounts    map[string]int64
	statuses   map[string]string
	failInit   bool
	verifyHits int
	server     *httptest.Server
}

func newFakePaystack(t *testing.T) *fakePaystack {
	t.Helper()
	f := &fakePaystack{
		amounts:  make(map[string]int64),
		statuses: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transaction/initialize", f.initialize)
	mux.HandleFunc("GET /transaction/verify/{reference}", f.verify)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePaystack) initialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInit {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":false,"message":"Service temporarily unavailable"}`))
		return
	}
	f.amounts[req.Reference] = req.Amount
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  true,
		"message": "Authorization URL created",
		"data": map[string]string{
			"authorization_url": "https://checkout.paystack.com/acc_" + req.Reference,
			"access_code":       "acc_" + req.Reference,
			"reference":         req.Reference,
		},
	})
}

func (f *fakePaystack) verify(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("reference")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyHits++
	amount, ok := f.amounts[ref]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
		return
	}
	status := "success"
	if s, scripted := f.statuses[ref]; scripted {
		status = s
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  true,
		"message": "Verification successful",
		"data": map[string]any{
			"status":           status,
			"reference":        ref,
			"amount":           amount,
			"currency":         "NGN",
			"gateway_response": "Approved",
			"authorization":    map[string]string{"authorization_code": "AUTH_" + ref},
		},
	})
}

func (f *fakePaystack) setStatus(ref, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[ref] = status
}

func (f *fakePaystack) verifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyHits
}

func (f *fakePaystack) setFailInit(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failInit = fail
}

// =============================================================================
// Collaborators
// =============================================================================

type fakeStudents struct {
	mu       sync.Mutex
	students map[uuid.UUID]*billing.Student
}

func (s *fakeStudents) GetStudent(_ context.Context, id uuid.UUID) (*billing.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return st, nil
}

func (s *fakeStudents) add(st *billing.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.ID] = st
}

type webhookCount struct {
	mu     sync.Mutex
	counts map[string]int
}

func (w *webhookCount) RecordWebhook(_ context.Context, gateway, outcome string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts[gateway+":"+outcome]++
}

func (w *webhookCount) get(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[key]
}

type stubDatabase struct {
	err error
}

func (s stubDatabase) Ping(context.Context) error { return s.err }

func (s stubDatabase) Stats() (persistence.ConnectionStats, error) {
	return persistence.ConnectionStats{MaxOpenConnections: 25, OpenConnections: 2, Idle: 2}, nil
}

// =============================================================================
// Test API
// =============================================================================

type testAPI struct {
	router   *gin.Engine
	paystack *fakePaystack
	adapter  *payment.PaystackAdapter
	store    *memory.LedgerStore
	students *fakeStudents
	webhooks *webhookCount
	student  *billing.Student
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{
		paystack: newFakePaystack(t),
		store:    memory.NewLedgerStore(),
		students: &fakeStudents{students: make(map[uuid.UUID]*billing.Student)},
		webhooks: &webhookCount{counts: make(map[string]int)},
	}
	adapter, err := payment.NewPaystackAdapter(&payment.PaystackConfig{
		SecretKey: "sk_test_handler",
		BaseURL:   api.paystack.server.URL,
		Currency:  "NGN",
	})
	require.NoError(t, err)
	api.adapter = adapter

	api.student = &billing.Student{
		ID:              uuid.New(),
		AdmissionNumber: "SCH2024001",
		FullName:        "Ada Obi",
		ParentEmail:     "parent@example.com",
		ClassLevel:      "JSS1",
	}
	api.students.add(api.student)

	idempotency := cache.NewMemoryStore()
	t.Cleanup(func() { _ = idempotency.Close() })

	catalog := memory.NewFeeCatalog()
	expenses := memory.NewExpenses()
	engine := billingapp.NewInvoiceEngine(billingapp.InvoiceEngineConfig{
		Store:      api.store,
		FeeCatalog: catalog,
	})
	recorder := billingapp.NewPaymentRecorder(billingapp.PaymentRecorderConfig{Store: api.store})
	recon := billingapp.NewReconciliationService(billingapp.ReconciliationServiceConfig{
		Gateway:     adapter,
		Store:       api.store,
		Recorder:    recorder,
		Students:    api.students,
		Idempotency: idempotency,
		Settings: billingapp.GatewaySettings{
			CallbackURL: "https://school.example/payments/callback",
			Currency:    "NGN",
		},
	})

	invoices := NewInvoiceHandler(engine)
	payments := NewPaymentHandler(recorder, recon)
	webhooks := NewWebhookHandler(recon, api.webhooks)
	catalogHandler := NewCatalogHandler(billingapp.NewFeeCatalogService(catalog, expenses, nil))
	reports := NewReportHandler(billingapp.NewReportService(api.store, api.store, expenses, nil))

	r := gin.New()
	r.Use(middleware.RequestID())
	v1 := r.Group("/api/v1")
	v1.POST("/invoices", invoices.Create)
	v1.POST("/invoices/from-fee-structure", invoices.CreateFromFeeStructure)
	v1.GET("/invoices", invoices.List)
	v1.GET("/invoices/:id", invoices.Get)
	v1.POST("/invoices/:id/recompute", invoices.Recompute)
	v1.POST("/invoices/:id/cancel", invoices.Cancel)
	v1.GET("/invoices/:id/payments", payments.ListForInvoice)
	v1.POST("/invoices/:id/payments", payments.Record)
	v1.POST("/invoices/:id/gateway-payments", payments.InitializeGateway)
	v1.GET("/payments/gateway/verify", payments.Verify)
	v1.GET("/payments/:id", payments.Get)
	v1.POST("/payments/:id/mark-failed", payments.MarkFailed)
	v1.POST("/webhooks/paystack", webhooks.Paystack)
	v1.GET("/fee-categories", catalogHandler.ListFeeCategories)
	v1.POST("/fee-categories", catalogHandler.CreateFeeCategory)
	v1.GET("/fee-structures", catalogHandler.ListFeeStructures)
	v1.POST("/fee-structures", catalogHandler.CreateFeeStructure)
	v1.GET("/expenses", catalogHandler.ListExpenses)
	v1.POST("/expenses", catalogHandler.RecordExpense)
	v1.GET("/reports/finance-summary", reports.FinanceSummary)
	v1.GET("/reports/pending-balances", reports.PendingBalances)
	api.router = r
	return api
}

func (api *testAPI) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	if buf.Len() > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	return w
}

// issueInvoice creates the 500 + 50 invoice used across tests
func (api *testAPI) issueInvoice(t *testing.T) billingapp.InvoiceResponse {
	t.Helper()
	w := api.do(http.MethodPost, "/invoices", map[string]any{
		"student_id": api.student.ID,
		"session_id": uuid.New(),
		"term_id":    uuid.New(),
		"items": []map[string]any{
			{"fee_category_id": uuid.New(), "amount": "500.00", "description": "Tuition"},
			{"fee_category_id": uuid.New(), "amount": "50.00", "description": "Books"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeAs[billingapp.InvoiceResponse](t, w).Data
}

func (api *testAPI) getInvoice(t *testing.T, id uuid.UUID) billingapp.InvoiceResponse {
	t.Helper()
	w := api.do(http.MethodGet, "/invoices/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeAs[billingapp.InvoiceResponse](t, w).Data
}

func (api *testAPI) checkout(t *testing.T, invoiceID uuid.UUID) billingapp.CheckoutResponse {
	t.Helper()
	w := api.do(http.MethodPost, "/invoices/"+invoiceID.String()+"/gateway-payments", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeAs[billingapp.CheckoutResponse](t, w).Data
}
