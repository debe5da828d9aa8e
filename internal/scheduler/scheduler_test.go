package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	billingdomain "github.com/baroworks/taxbill/internal/billing/domain"
	billingrepo "github.com/baroworks/taxbill/internal/billing/repository"
	billingservice "github.com/baroworks/taxbill/internal/billing/service"
	"github.com/baroworks/taxbill/internal/clock"
	"github.com/baroworks/taxbill/internal/config"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:scheduler_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec("PRAGMA busy_timeout = 5000").Error)

	schema := []string{
		`CREATE TABLE usage_records (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			usage_type TEXT NOT NULL,
			unit_price BIGINT NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 1,
			total_price BIGINT NOT NULL,
			billing_cycle_id BIGINT,
			created_at DATETIME NOT NULL
		)`,
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
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fixture struct {
	db    *gorm.DB
	sched *Scheduler
	node  *snowflake.Node
	fake  *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC))

	node, err := snowflake.NewNode(25)
	require.NoError(t, err)

	billingSvc := billingservice.NewService(billingservice.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Pricing: config.NewStaticPricingHolder(config.DefaultPricingConfig()),
		Repo:    billingrepo.Provide(),
	})

	sched, err := New(Params{
		Log:        zap.NewNop(),
		Clock:      fake,
		BillingSvc: billingSvc,
	})
	require.NoError(t, err)

	return &fixture{db: db, sched: sched, node: node, fake: fake}
}

func (f *fixture) insertUsage(t *testing.T, userID snowflake.ID, totalPrice int64, createdAt time.Time) {
	t.Helper()

	err := f.db.Exec(
		`INSERT INTO usage_records (id, user_id, usage_type, unit_price, quantity, total_price, billing_cycle_id, created_at)
		 VALUES (?, ?, 'INVOICE_ISSUE', ?, 1, ?, NULL, ?)`,
		f.node.Generate(), userID, totalPrice, totalPrice, createdAt,
	).Error
	require.NoError(t, err)
}

func TestSweepSealsPreviousMonthForAllUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userA := f.node.Generate()
	userB := f.node.Generate()
	april := time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)
	f.insertUsage(t, userA, 200, april)
	f.insertUsage(t, userB, 415, april)
	// May usage stays out of the April sweep.
	f.insertUsage(t, userA, 200, time.Date(2026, 5, 1, 1, 0, 0, 0, time.UTC))

	f.sched.RunOnce(ctx)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM billing_cycles WHERE year_month = '202604'`).Scan(&count).Error)
	assert.Equal(t, int64(2), count)

	var unbilled int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM usage_records WHERE billing_cycle_id IS NULL`).Scan(&unbilled).Error)
	assert.Equal(t, int64(1), unbilled)
}

func TestSweepIsIdempotentAcrossTicks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID := f.node.Generate()
	f.insertUsage(t, userID, 200, time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC))

	f.sched.RunOnce(ctx)
	f.fake.Advance(time.Hour)
	f.sched.RunOnce(ctx)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM billing_cycles`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSweepHandlesYearBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fake.Set(time.Date(2027, 1, 1, 3, 0, 0, 0, time.UTC))

	userID := f.node.Generate()
	f.insertUsage(t, userID, 200, time.Date(2026, 12, 15, 0, 0, 0, 0, time.UTC))

	f.sched.RunOnce(ctx)

	var yearMonth string
	require.NoError(t, f.db.Raw(`SELECT year_month FROM billing_cycles WHERE user_id = ?`, userID).Scan(&yearMonth).Error)
	assert.Equal(t, "202612", yearMonth)
}

func TestRunOnceMarksOverdueCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID := f.node.Generate()
	f.insertUsage(t, userID, 200, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	// Seal March while still in April so its due date (April 30) can lapse.
	f.fake.Set(time.Date(2026, 4, 1, 2, 0, 0, 0, time.UTC))
	f.sched.RunOnce(ctx)

	f.fake.Set(time.Date(2026, 5, 2, 2, 0, 0, 0, time.UTC))
	f.sched.RunOnce(ctx)

	var status string
	require.NoError(t, f.db.Raw(
		`SELECT status FROM billing_cycles WHERE user_id = ? AND year_month = '202603'`, userID,
	).Scan(&status).Error)
	assert.Equal(t, "overdue", status)
}

type panickingBillingService struct {
	billingdomain.Service
}

func (p *panickingBillingService) UsersWithUnbilledUsage(ctx context.Context, yearMonth string) ([]snowflake.ID, error) {
	panic("boom")
}

func (p *panickingBillingService) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	return 0, nil
}

func TestRunOnceRecoversFromJobPanic(t *testing.T) {
	sched, err := New(Params{
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		BillingSvc: &panickingBillingService{},
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		sched.RunOnce(context.Background())
	})
}
