package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/schoolerp/backend/internal/domain/billing"
	"github.com/schoolerp/backend/internal/domain/shared"
	"github.com/schoolerp/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupLedgerTestDB opens an in-memory SQLite database with the billing schema.
// A single connection keeps every query on the same in-memory database.
func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.InvoiceModel{},
		&models.InvoiceItemModel{},
		&models.PaymentModel{},
		&models.FeeCategoryModel{},
		&models.FeeStructureModel{},
		&models.ExpenseModel{},
		&models.StudentModel{},
		&models.AcademicSessionModel{},
		&models.TermModel{},
	))
	return db
}

func newTestInvoice(t *testing.T, number string, amounts ...string) *billing.Invoice {
	t.Helper()
	items := make([]billing.NewInvoiceItem, 0, len(amounts))
	for i, a := range amounts {
		items = append(items, billing.NewInvoiceItem{
			FeeCategoryID: uuid.New(),
			Amount:        decimal.RequireFromString(a),
			Description:   "line " + string(rune('A'+i)),
		})
	}
	inv, err := billing.NewInvoice(number, uuid.New(), uuid.New(), uuid.New(), items, nil)
	require.NoError(t, err)
	return inv
}

func newTestManualPayment(t *testing.T, receipt string, invoiceID uuid.UUID, amount string) *billing.Payment {
	t.Helper()
	p, err := billing.NewManualPayment(billing.ManualPaymentInput{
		ReceiptNumber: receipt,
		InvoiceID:     invoiceID,
		Amount:        decimal.RequireFromString(amount),
		Method:        billing.PaymentMethodCash,
		ReceivedBy:    "bursar",
	})
	require.NoError(t, err)
	return p
}

func TestGormLedgerStore_InvoiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewGormLedgerStore(setupLedgerTestDB(t))
	inv := newTestInvoice(t, "INV1A2B3C4D", "100000", "50000")

	require.NoError(t, store.SaveInvoice(ctx, inv))

	got, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV1A2B3C4D", got.InvoiceNumber)
	assert.True(t, decimal.NewFromInt(150000).Equal(got.TotalAmount))
	assert.True(t, got.Balance.Equal(got.TotalAmount))
	assert.Equal(t, billing.InvoiceStatusPending, got.Status)
	assert.Equal(t, 1, got.Version)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "line A", got.Items[0].Description)
	assert.Equal(t, "line B", got.Items[1].Description)
	assert.Empty(t, got.GetDomainEvents())

	byNumber, err := store.GetInvoiceByNumber(ctx, "INV1A2B3C4D")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, byNumber.ID)

	exists, err := store.InvoiceNumberExists(ctx, "INV1A2B3C4D")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = store.GetInvoice(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = store.GetInvoiceByNumber(ctx, "INV00000000")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormLedgerStore_SaveInvoice_DuplicateNumber(t *testing.T) {
	ctx := context.Background()
	store := NewGormLedgerStore(setupLedgerTestDB(t))

	require.NoError(t, store.SaveInvoice(ctx, newTestInvoice(t, "INVDUPL0001", "10")))
	err := store.SaveInvoice(ctx, newTestInvoice(t, "INVDUPL0001", "20"))

	require.Error(t, err)
	assert.Equal(t, shared.CodeAlreadyExists, shared.ErrorCode(err))
}

func TestGormLedgerStore_UpdateInvoice_OptimisticLock(t *testing.T) {
	ctx := context.Background()
	store := NewGormLedgerStore(setupLedgerTestDB(t))
	inv := newTestInvoice(t, "INVLOCK0001", "100")
	require.NoError(t, store.SaveInvoice(ctx, inv))

	first, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	second, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)

	first.ApplyRecompute(decimal.NewFromInt(40))
	require.NoError(t, store.UpdateInvoice(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.ApplyRecompute(decimal.NewFromInt(60))
	err = store.UpdateInvoice(ctx, second)
	require.Error(t, err)
	assert.Equal(t, shared.CodeConcurrentModification, shared.ErrorCode(err))

	stored, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(40).Equal(stored.AmountPaid))
	assert.True(t, decimal.NewFromInt(60).Equal(stored.Balance))
	assert.Equal(t, billing.InvoiceStatusPartial, stored.Status)

	ghost := newTestInvoice(t, "INVGHOST001", "1")
	assert.ErrorIs(t, store.UpdateInvoice(ctx, ghost), shared.ErrNotFound)
}

func TestGormLedgerStore_Payments(t *testing.T) {
	ctx := context.Background()
	store := NewGormLedgerStore(setupLedgerTestDB(t))
	inv := newTestInvoice(t, "INVPAYS0001", "550")
	require.NoError(t, store.SaveInvoice(ctx, inv))

	cash := newTestManualPayment(t, "RCP00000001", inv.ID, "200")
	require.NoError(t, store.SavePayment(ctx, cash))
	transfer := newTestManualPayment(t, "RCP00000002", inv.ID, "150.50")
	require.NoError(t, store.SavePayment(ctx, transfer))

	gateway, err := billing.NewGatewayPayment("PAY0123456789AB", inv.ID, decimal.NewFromInt(199))
	require.NoError(t, err)
	require.NoError(t, store.SavePayment(ctx, gateway))

	t.Run("sums only completed payments", func(t *testing.T) {
		sum, err := store.SumCompletedPayments(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("350.50").Equal(sum), sum.String())
	})

	t.Run("sum of an invoice without payments is zero", func(t *testing.T) {
		sum, err := store.SumCompletedPayments(ctx, uuid.New())
		require.NoError(t, err)
		assert.True(t, sum.IsZero())
	})

	t.Run("manual payments keep a null gateway reference", func(t *testing.T) {
		got, err := store.GetPayment(ctx, cash.ID)
		require.NoError(t, err)
		assert.Empty(t, got.GatewayReference)
		assert.Equal(t, billing.PaymentStatusCompleted, got.Status)
		assert.Equal(t, "bursar", got.ReceivedBy)
	})

	t.Run("finds gateway payment by reference", func(t *testing.T) {
		got, err := store.GetPaymentByGatewayReference(ctx, "PAY0123456789AB")
		require.NoError(t, err)
		assert.Equal(t, gateway.ID, got.ID)
		assert.Equal(t, billing.PaymentStatusPending, got.Status)

		_, err = store.GetPaymentByGatewayReference(ctx, "PAYFFFFFFFFFFFF")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("lists payments of the invoice", func(t *testing.T) {
		payments, err := store.ListPaymentsByInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Len(t, payments, 3)
	})

	t.Run("rejects duplicate receipt and gateway reference", func(t *testing.T) {
		err := store.SavePayment(ctx, newTestManualPayment(t, "RCP00000001", inv.ID, "1"))
		assert.Equal(t, shared.CodeAlreadyExists, shared.ErrorCode(err))

		again, _ := billing.NewGatewayPayment("PAY0123456789AB", inv.ID, decimal.NewFromInt(1))
		err = store.SavePayment(ctx, again)
		assert.Equal(t, shared.CodeAlreadyExists, shared.ErrorCode(err))

		exists, err := store.ReceiptNumberExists(ctx, "RCP00000002")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("rejects payment for unknown invoice", func(t *testing.T) {
		err := store.SavePayment(ctx, newTestManualPayment(t, "RCP0000000X", uuid.New(), "1"))
		assert.Equal(t, shared.CodeNotFound, shared.ErrorCode(err))
	})

	t.Run("update payment bumps version and detects stale writes", func(t *testing.T) {
		fresh, err := store.GetPayment(ctx, gateway.ID)
		require.NoError(t, err)
		stale, err := store.GetPayment(ctx, gateway.ID)
		require.NoError(t, err)

		require.NoError(t, fresh.Complete(billing.ConfirmationSourceWebhook, "AUTH_abc"))
		require.NoError(t, store.UpdatePayment(ctx, fresh))
		assert.Equal(t, 2, fresh.Version)

		require.NoError(t, stale.Fail(billing.ConfirmationSourceVerify, "declined"))
		err = store.UpdatePayment(ctx, stale)
		assert.Equal(t, shared.CodeConcurrentModification, shared.ErrorCode(err))

		got, err := store.GetPayment(ctx, gateway.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.PaymentStatusCompleted, got.Status)
		assert.Equal(t, "AUTH_abc", got.AuthorizationCode)
		assert.Equal(t, billing.ConfirmationSourceWebhook, got.ConfirmationSource)
	})
}

func TestGormLedgerStore_WithinInvoice(t *testing.T) {
	ctx := context.Background()
	store := NewGormLedgerStore(setupLedgerTestDB(t))
	inv := newTestInvoice(t, "INVTXN00001", "300")
	require.NoError(t, store.SaveInvoice(ctx, inv))

	t.Run("commits payment and recompute together", func(t *testing.T) {
		err := store.WithinInvoice(ctx, inv.ID, func(ctx context.Context, tx billing.LedgerStore) error {
			if err := tx.SavePayment(ctx, newTestManualPayment(t, "RCPTXN00001", inv.ID, "300")); err != nil {
				return err
			}
			locked, err := tx.GetInvoice(ctx, inv.ID)
			if err != nil {
				return err
			}
			sum, err := tx.SumCompletedPayments(ctx, inv.ID)
			if err != nil {
				return err
			}
			locked.ApplyRecompute(sum)
			return tx.UpdateInvoice(ctx, locked)
		})
		require.NoError(t, err)

		got, err := store.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.InvoiceStatusPaid, got.Status)
		assert.True(t, got.Balance.IsZero())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.WithinInvoice(ctx, inv.ID, func(ctx context.Context, tx billing.LedgerStore) error {
			require.NoError(t, tx.SavePayment(ctx, newTestManualPayment(t, "RCPTXN00002", inv.ID, "50")))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		exists, err := store.ReceiptNumberExists(ctx, "RCPTXN00002")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("nested call for the same invoice reuses the transaction", func(t *testing.T) {
		err := store.WithinInvoice(ctx, inv.ID, func(ctx context.Context, tx billing.LedgerStore) error {
			return tx.WithinInvoice(ctx, inv.ID, func(ctx context.Context, inner billing.LedgerStore) error {
				assert.Same(t, tx, inner)
				return nil
			})
		})
		require.NoError(t, err)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		called := false
		err := store.WithinInvoice(ctx, uuid.New(), func(context.Context, billing.LedgerStore) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.False(t, called)
	})
}

func TestGormLedgerStore_ListInvoices(t *testing.T) {
	ctx := context.Background()
	store := NewGormLedgerStore(setupLedgerTestDB(t))

	studentID := uuid.New()
	amounts := []string{"100", "250", "75"}
	var created []*billing.Invoice
	for i, amount := range amounts {
		inv := newTestInvoice(t, "INVLIST000"+string(rune('1'+i)), amount)
		if i < 2 {
			inv.StudentID = studentID
		}
		require.NoError(t, store.SaveInvoice(ctx, inv))
		created = append(created, inv)
	}

	paid := created[2]
	paid.ApplyRecompute(decimal.NewFromInt(75))
	require.NoError(t, store.UpdateInvoice(ctx, paid))

	t.Run("filters by student", func(t *testing.T) {
		invoices, total, err := store.ListInvoices(ctx, billing.InvoiceFilter{StudentID: &studentID})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, invoices, 2)
	})

	t.Run("filters by status", func(t *testing.T) {
		status := billing.InvoiceStatusPaid
		invoices, total, err := store.ListInvoices(ctx, billing.InvoiceFilter{Status: &status})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, paid.ID, invoices[0].ID)
	})

	t.Run("outstanding only", func(t *testing.T) {
		_, total, err := store.ListInvoices(ctx, billing.InvoiceFilter{OnlyOutstanding: true})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})

	t.Run("search is case insensitive", func(t *testing.T) {
		invoices, total, err := store.ListInvoices(ctx, billing.InvoiceFilter{Filter: shared.Filter{Search: "invlist0002"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "INVLIST0002", invoices[0].InvoiceNumber)
	})

	t.Run("orders by whitelisted column and pages", func(t *testing.T) {
		invoices, total, err := store.ListInvoices(ctx, billing.InvoiceFilter{Filter: shared.Filter{
			Page: 1, PageSize: 2, OrderBy: "total_amount", OrderDir: "asc",
		}})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, invoices, 2)
		assert.Equal(t, "INVLIST0003", invoices[0].InvoiceNumber)
		assert.Equal(t, "INVLIST0001", invoices[1].InvoiceNumber)
		assert.Empty(t, invoices[0].Items)
	})

	t.Run("ignores unknown order column", func(t *testing.T) {
		_, _, err := store.ListInvoices(ctx, billing.InvoiceFilter{Filter: shared.Filter{OrderBy: "1; DROP TABLE invoices"}})
		require.NoError(t, err)
	})
}

func TestGormLedgerStore_Totals(t *testing.T) {
	ctx := context.Background()
	store := NewGormLedgerStore(setupLedgerTestDB(t))

	pending := newTestInvoice(t, "INVTOT00001", "1000")
	partial := newTestInvoice(t, "INVTOT00002", "500")
	cancelled := newTestInvoice(t, "INVTOT00003", "800")
	for _, inv := range []*billing.Invoice{pending, partial, cancelled} {
		require.NoError(t, store.SaveInvoice(ctx, inv))
	}

	require.NoError(t, store.SavePayment(ctx, newTestManualPayment(t, "RCPTOT00001", partial.ID, "200")))
	partial.ApplyRecompute(decimal.NewFromInt(200))
	require.NoError(t, store.UpdateInvoice(ctx, partial))
	require.NoError(t, cancelled.Cancel("duplicate billing"))
	require.NoError(t, store.UpdateInvoice(ctx, cancelled))

	totals, err := store.Totals(ctx, billing.DateRange{})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(1500).Equal(totals.TotalInvoiced), totals.TotalInvoiced.String())
	assert.True(t, decimal.NewFromInt(200).Equal(totals.TotalCollected), totals.TotalCollected.String())
	assert.True(t, decimal.NewFromInt(1300).Equal(totals.TotalPending), totals.TotalPending.String())
	assert.Equal(t, int64(1), totals.CountByStatus[billing.InvoiceStatusPending])
	assert.Equal(t, int64(1), totals.CountByStatus[billing.InvoiceStatusPartial])
	assert.Equal(t, int64(1), totals.CountByStatus[billing.InvoiceStatusCancelled])

	future := time.Now().Add(24 * time.Hour)
	empty, err := store.Totals(ctx, billing.DateRange{From: &future})
	require.NoError(t, err)
	assert.True(t, empty.TotalInvoiced.IsZero())
	assert.True(t, empty.TotalCollected.IsZero())
}

// newMockLedgerStore wires the store to sqlmock with the Postgres dialector to
// assert the SQL it issues
func newMockLedgerStore(t *testing.T) (*GormLedgerStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true, Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return NewGormLedgerStore(gormDB), mock
}

func TestGormLedgerStore_WithinInvoice_TakesRowLock(t *testing.T) {
	store, mock := newMockLedgerStore(t)
	invoiceID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "id" FROM "invoices" WHERE id = \$1 .*FOR UPDATE`).
		WithArgs(invoiceID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(invoiceID))
	mock.ExpectCommit()

	err := store.WithinInvoice(context.Background(), invoiceID, func(context.Context, billing.LedgerStore) error {
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLedgerStore_WithinInvoice_LockFailureRollsBack(t *testing.T) {
	store, mock := newMockLedgerStore(t)
	invoiceID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := store.WithinInvoice(context.Background(), invoiceID, func(context.Context, billing.LedgerStore) error {
		t.Fatal("callback must not run without the lock")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to lock invoice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLedgerStore_UpdateInvoice_VersionedWhere(t *testing.T) {
	store, mock := newMockLedgerStore(t)
	inv := newTestInvoice(t, "INVSQL00001", "100")
	inv.Version = 3

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "invoices" SET`)+`.*WHERE id = \$\d+ AND version = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "invoices" WHERE id = $1`)).
		WithArgs(inv.ID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := store.UpdateInvoice(context.Background(), inv)
	assert.Equal(t, shared.CodeConcurrentModification, shared.ErrorCode(err))
	assert.Equal(t, 3, inv.Version, "version must not move on a failed write")
	assert.NoError(t, mock.ExpectationsWereMet())
}
