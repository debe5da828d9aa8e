package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	billingdomain "github.com/baroworks/taxbill/internal/billing/domain"
	"github.com/baroworks/taxbill/internal/clock"
	paymentdomain "github.com/baroworks/taxbill/internal/payment/domain"
	paymentrepo "github.com/baroworks/taxbill/internal/payment/repository"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec("PRAGMA busy_timeout = 5000").Error)

	schema := []string{
		`CREATE TABLE billing_cycles (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			year_month TEXT NOT NULL,
			total_usage_amount BIGINT NOT NULL DEFAULT 0,
			monthly_fee BIGINT NOT NULL DEFAULT 0,
			total_bill_amount BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			due_date DATETIME,
			created_at DATETIME NOT NULL,
			UNIQUE (user_id, year_month)
		)`,
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			billing_cycle_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			method TEXT NOT NULL,
			transaction_id TEXT,
			status TEXT NOT NULL,
			paid_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fixture struct {
	db     *gorm.DB
	svc    paymentdomain.Service
	node   *snowflake.Node
	userID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(22)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC)),
		Repo:  paymentrepo.Provide(),
	})

	return &fixture{
		db:     db,
		svc:    svc,
		node:   node,
		userID: node.Generate(),
	}
}

func (f *fixture) insertCycle(t *testing.T, userID snowflake.ID, amount int64, status billingdomain.CycleStatus) snowflake.ID {
	t.Helper()

	id := f.node.Generate()
	err := f.db.Exec(
		`INSERT INTO billing_cycles (id, user_id, year_month, total_usage_amount, monthly_fee, total_bill_amount, status, due_date, created_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		id, userID, "202604", amount, amount, status,
		time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	).Error
	require.NoError(t, err)
	return id
}

func (f *fixture) cycleStatus(t *testing.T, cycleID snowflake.ID) string {
	t.Helper()

	var status string
	require.NoError(t, f.db.Raw(`SELECT status FROM billing_cycles WHERE id = ?`, cycleID).Scan(&status).Error)
	return status
}

func TestRegisterSettlesPendingCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycleID := f.insertCycle(t, f.userID, 1200, billingdomain.CycleStatusPending)

	payment, err := f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         f.userID,
		BillingCycleID: cycleID,
		Amount:         1200,
		Method:         paymentdomain.PaymentMethodCard,
		TransactionID:  "txn-100",
		Success:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, paymentdomain.PaymentStatusSuccess, payment.Status)
	require.NotNil(t, payment.PaidAt)
	assert.Equal(t, "paid", f.cycleStatus(t, cycleID))
}

func TestRegisterSettlesOverdueCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycleID := f.insertCycle(t, f.userID, 800, billingdomain.CycleStatusOverdue)

	_, err := f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         f.userID,
		BillingCycleID: cycleID,
		Amount:         800,
		Method:         paymentdomain.PaymentMethodBank,
		Success:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, "paid", f.cycleStatus(t, cycleID))
}

func TestRegisterRejectsSecondSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycleID := f.insertCycle(t, f.userID, 500, billingdomain.CycleStatusPending)

	req := paymentdomain.RegisterRequest{
		UserID:         f.userID,
		BillingCycleID: cycleID,
		Amount:         500,
		Method:         paymentdomain.PaymentMethodCard,
		Success:        true,
	}
	_, err := f.svc.Register(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, req)
	assert.ErrorIs(t, err, paymentdomain.ErrAlreadySettled)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM payments WHERE billing_cycle_id = ?`, cycleID).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRegisterRejectsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycleID := f.insertCycle(t, f.userID, 1000, billingdomain.CycleStatusPending)

	_, err := f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         f.userID,
		BillingCycleID: cycleID,
		Amount:         999,
		Method:         paymentdomain.PaymentMethodCard,
		Success:        true,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrAmountMismatch)
	assert.Equal(t, "pending", f.cycleStatus(t, cycleID))
}

func TestRegisterFailedAttemptLeavesCycleOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycleID := f.insertCycle(t, f.userID, 1000, billingdomain.CycleStatusPending)

	payment, err := f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         f.userID,
		BillingCycleID: cycleID,
		Amount:         1000,
		Method:         paymentdomain.PaymentMethodCard,
		TransactionID:  "txn-declined",
		Success:        false,
	})
	require.NoError(t, err)

	assert.Equal(t, paymentdomain.PaymentStatusFailed, payment.Status)
	assert.Nil(t, payment.PaidAt)
	assert.Equal(t, "pending", f.cycleStatus(t, cycleID))

	// A later successful attempt still settles the cycle.
	_, err = f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         f.userID,
		BillingCycleID: cycleID,
		Amount:         1000,
		Method:         paymentdomain.PaymentMethodCard,
		TransactionID:  "txn-retry",
		Success:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, "paid", f.cycleStatus(t, cycleID))
}

func TestRegisterScopesCycleToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycleID := f.insertCycle(t, f.userID, 300, billingdomain.CycleStatusPending)

	_, err := f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         f.node.Generate(),
		BillingCycleID: cycleID,
		Amount:         300,
		Method:         paymentdomain.PaymentMethodCard,
		Success:        true,
	})
	assert.ErrorIs(t, err, billingdomain.ErrCycleNotFound)
}

func TestRegisterValidatesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycleID := f.insertCycle(t, f.userID, 300, billingdomain.CycleStatusPending)

	_, err := f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         f.userID,
		BillingCycleID: cycleID,
		Amount:         300,
		Method:         "crypto",
		Success:        true,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidMethod)

	_, err = f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         f.userID,
		BillingCycleID: cycleID,
		Amount:         -1,
		Method:         paymentdomain.PaymentMethodCard,
		Success:        true,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
}

func TestRegisterSettlesZeroTotalCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cycleID := f.insertCycle(t, f.userID, 0, billingdomain.CycleStatusOverdue)

	payment, err := f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         f.userID,
		BillingCycleID: cycleID,
		Amount:         0,
		Method:         paymentdomain.PaymentMethodCard,
		Success:        true,
	})
	require.NoError(t, err)

	assert.Equal(t, paymentdomain.PaymentStatusSuccess, payment.Status)
	assert.Equal(t, int64(0), payment.Amount)
	assert.Equal(t, "paid", f.cycleStatus(t, cycleID))
}

func TestListReturnsOwnPaymentsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.insertCycle(t, f.userID, 100, billingdomain.CycleStatusPending)
	_, err := f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         f.userID,
		BillingCycleID: first,
		Amount:         100,
		Method:         paymentdomain.PaymentMethodCard,
		Success:        false,
	})
	require.NoError(t, err)

	other := f.node.Generate()
	otherCycle := f.insertCycle(t, other, 100, billingdomain.CycleStatusPending)
	_, err = f.svc.Register(ctx, paymentdomain.RegisterRequest{
		UserID:         other,
		BillingCycleID: otherCycle,
		Amount:         100,
		Method:         paymentdomain.PaymentMethodBank,
		Success:        true,
	})
	require.NoError(t, err)

	page, err := f.svc.List(ctx, paymentdomain.ListRequest{UserID: f.userID, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Payments, 1)
	assert.Equal(t, f.userID, page.Payments[0].UserID)
	assert.False(t, page.HasMore)
}
