//go:build integration

package persistence

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	appbilling "github.com/schoolerp/backend/internal/application/billing"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/infrastructure/config"
	"github.com/schoolerp/backend/internal/infrastructure/migration"
	"github.com/schoolerp/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a throwaway Postgres with the repository migrations
// applied
func startPostgres(t *testing.T) *Database {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("school_test"),
		tcpostgres.WithUsername("bursar"),
		tcpostgres.WithPassword("bursar"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := NewDatabase(&config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            "bursar",
		Password:        "bursar",
		DBName:          "school_test",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5,
		ConnMaxIdleTime: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	m, err := migration.New(sqlDB, migrationsDir(t), nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	status, err := m.Status()
	require.NoError(t, err)
	require.False(t, status.Dirty)

	return db
}

func migrationsDir(t *testing.T) string {
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}

type schoolFixture struct {
	studentID  uuid.UUID
	sessionID  uuid.UUID
	termID     uuid.UUID
	categoryID uuid.UUID
}

func seedSchool(t *testing.T, db *Database) schoolFixture {
	t.Helper()
	now := time.Now().UTC()
	base := func() models.BaseModel {
		return models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
	}

	session := models.AcademicSessionModel{BaseModel: base(), Name: "2024/2025", IsCurrent: true}
	require.NoError(t, db.DB.Create(&session).Error)
	term := models.TermModel{BaseModel: base(), SessionID: session.ID, Name: "First"}
	require.NoError(t, db.DB.Create(&term).Error)
	student := models.StudentModel{BaseModel: base(), AdmissionNumber: "ADM/001", FirstName: "Tobi", LastName: "Ade", ClassLevel: "SS2"}
	require.NoError(t, db.DB.Create(&student).Error)

	category, err := billing.NewFeeCategory("Tuition", "")
	require.NoError(t, err)
	require.NoError(t, NewGormFeeCatalogRepository(db.DB).SaveCategory(context.Background(), category))

	return schoolFixture{studentID: student.ID, sessionID: session.ID, termID: term.ID, categoryID: category.ID}
}

func TestGormLedgerStore_ConcurrentConfirmations(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	db := startPostgres(t)
	fx := seedSchool(t, db)
	store := NewGormLedgerStore(db.DB)

	inv, err := billing.NewInvoice("INV0000CAFE", fx.studentID, fx.sessionID, fx.termID,
		[]billing.NewInvoiceItem{{FeeCategoryID: fx.categoryID, Amount: decimal.NewFromInt(1000), Description: "Tuition"}}, nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveInvoice(ctx, inv))

	recorder := appbilling.NewPaymentRecorder(appbilling.PaymentRecorderConfig{Store: store})
	pending, err := recorder.InitializeGatewayPayment(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, "pending", pending.Status)

	const confirmers = 8
	const manualPayments = 4

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		applied  int
		failures []error
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures = append(failures, err)
		}
	}

	for i := 0; i < confirmers; i++ {
		source := billing.ConfirmationSourceVerify
		if i%2 == 1 {
			source = billing.ConfirmationSourceWebhook
		}
		wg.Add(1)
		go func(source billing.ConfirmationSource) {
			defer wg.Done()
			res, err := recorder.ConfirmGatewayPayment(ctx, pending.ID, billing.GatewayOutcomeSuccess, source, "AUTH_x1")
			record(err)
			if err == nil && !res.AlreadyTerminal {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(source)
	}
	for i := 0; i < manualPayments; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := recorder.RecordManualPayment(ctx, inv.ID, appbilling.RecordPaymentRequest{
				Amount: decimal.NewFromInt(50),
				Method: string(billing.PaymentMethodCash),
			})
			record(err)
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	assert.Equal(t, 1, applied, "exactly one confirmation transitions the payment")

	got, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1200).Equal(got.AmountPaid), got.AmountPaid.String())
	assert.True(t, decimal.NewFromInt(-200).Equal(got.Balance), got.Balance.String())
	assert.Equal(t, billing.InvoiceStatusPaid, got.Status)

	sum, err := store.SumCompletedPayments(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(got.AmountPaid), "amount paid matches completed payments")

	payments, err := store.ListPaymentsByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1+manualPayments)
}

func TestGormLedgerStore_PostgresConstraints(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	db := startPostgres(t)
	fx := seedSchool(t, db)
	store := NewGormLedgerStore(db.DB)

	inv, err := billing.NewInvoice("INV0000BEEF", fx.studentID, fx.sessionID, fx.termID,
		[]billing.NewInvoiceItem{{FeeCategoryID: fx.categoryID, Amount: decimal.NewFromInt(300)}}, nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveInvoice(ctx, inv))

	t.Run("manual payments share a null gateway reference", func(t *testing.T) {
		for _, receipt := range []string{"RCP00000001", "RCP00000002"} {
			p, err := billing.NewManualPayment(billing.ManualPaymentInput{
				ReceiptNumber: receipt,
				InvoiceID:     inv.ID,
				Amount:        decimal.NewFromInt(10),
				Method:        billing.PaymentMethodBankTransfer,
			})
			require.NoError(t, err)
			require.NoError(t, store.SavePayment(ctx, p))
		}
	})

	t.Run("gateway reference is unique", func(t *testing.T) {
		first, err := billing.NewGatewayPayment("PAY0123456789AB", inv.ID, decimal.NewFromInt(280))
		require.NoError(t, err)
		require.NoError(t, store.SavePayment(ctx, first))

		dup, err := billing.NewGatewayPayment("PAY0123456789AB", inv.ID, decimal.NewFromInt(280))
		require.NoError(t, err)
		err = store.SavePayment(ctx, dup)
		require.Error(t, err)
	})

	t.Run("invoice must reference a known student", func(t *testing.T) {
		orphan, err := billing.NewInvoice("INV0000DEAD", uuid.New(), fx.sessionID, fx.termID,
			[]billing.NewInvoiceItem{{FeeCategoryID: fx.categoryID, Amount: decimal.NewFromInt(1)}}, nil)
		require.NoError(t, err)
		assert.Error(t, store.SaveInvoice(ctx, orphan))
	})
}
