package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	accountdomain "github.com/baroworks/taxbill/internal/account/domain"
	"github.com/baroworks/taxbill/internal/clock"
	"github.com/baroworks/taxbill/internal/config"
	quotarepo "github.com/baroworks/taxbill/internal/quota/repository"
	quotaservice "github.com/baroworks/taxbill/internal/quota/service"
	usagedomain "github.com/baroworks/taxbill/internal/usage/domain"
	usagerepo "github.com/baroworks/taxbill/internal/usage/repository"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubDirectory struct {
	users map[snowflake.ID]*accountdomain.User
}

func (d *stubDirectory) GetByID(ctx context.Context, id snowflake.ID) (*accountdomain.User, error) {
	if user, ok := d.users[id]; ok {
		return user, nil
	}
	return nil, accountdomain.ErrUserNotFound
}

func (d *stubDirectory) GetByAPIKey(ctx context.Context, apiKey string) (*accountdomain.User, error) {
	return nil, accountdomain.ErrInvalidAPIKey
}

func (d *stubDirectory) HasPaymentMethod(ctx context.Context, userID snowflake.ID) (bool, error) {
	return false, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:usage_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec("PRAGMA busy_timeout = 5000").Error)

	schema := []string{
		`CREATE TABLE quota_ledger (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL UNIQUE,
			free_invoice_left INTEGER NOT NULL,
			free_status_left INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE quota_grant_history (
			id BIGINT PRIMARY KEY,
			user_identifier TEXT NOT NULL UNIQUE,
			free_invoice_total INTEGER NOT NULL,
			free_status_total INTEGER NOT NULL,
			free_invoice_used INTEGER NOT NULL DEFAULT 0,
			free_status_used INTEGER NOT NULL DEFAULT 0,
			is_consumed BOOLEAN NOT NULL DEFAULT FALSE,
			consumed_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
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
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fixture struct {
	db     *gorm.DB
	svc    usagedomain.Service
	fake   *clock.FakeClock
	userID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC))

	node, err := snowflake.NewNode(20)
	require.NoError(t, err)
	userID := node.Generate()

	directory := &stubDirectory{users: map[snowflake.ID]*accountdomain.User{
		userID: {ID: userID, Email: "owner@example.com", BizName: "Owner Co"},
	}}
	pricing := config.NewStaticPricingHolder(config.DefaultPricingConfig())
	qRepo := quotarepo.Provide()
	quotaSvc := quotaservice.NewService(quotaservice.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Pricing: pricing,
		Repo:    qRepo,
	})

	svc := NewService(ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		Pricing:   pricing,
		Directory: directory,
		QuotaSvc:  quotaSvc,
		QuotaRepo: qRepo,
		Repo:      usagerepo.Provide(),
	})

	return &fixture{db: db, svc: svc, fake: fake, userID: userID}
}

func TestRecordInvoiceIssueFreeWhileQuotaLeft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	record, err := f.svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    f.userID,
		UsageType: usagedomain.UsageTypeInvoiceIssue,
		Quantity:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.UnitPrice)
	assert.Equal(t, int64(0), record.TotalPrice)
	assert.Nil(t, record.BillingCycleID)

	var left int
	require.NoError(t, f.db.Raw(
		"SELECT free_invoice_left FROM quota_ledger WHERE user_id = ?", f.userID,
	).Scan(&left).Error)
	assert.Equal(t, 4, left)
}

func TestRecordInvoiceIssueChargesAfterQuotaExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Record(ctx, usagedomain.RecordRequest{
			UserID:    f.userID,
			UsageType: usagedomain.UsageTypeInvoiceIssue,
			Quantity:  1,
		})
		require.NoError(t, err)
	}

	record, err := f.svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    f.userID,
		UsageType: usagedomain.UsageTypeInvoiceIssue,
		Quantity:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), record.UnitPrice)
	assert.Equal(t, int64(200), record.TotalPrice)
}

func TestRecordStatusCheckFreeWhileInvoiceCounterPositive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	record, err := f.svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    f.userID,
		UsageType: usagedomain.UsageTypeStatusCheck,
		Quantity:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.UnitPrice)

	// Neither counter moves for a free status check.
	var invoiceLeft, statusLeft int
	require.NoError(t, f.db.Raw(
		"SELECT free_invoice_left FROM quota_ledger WHERE user_id = ?", f.userID,
	).Scan(&invoiceLeft).Error)
	require.NoError(t, f.db.Raw(
		"SELECT free_status_left FROM quota_ledger WHERE user_id = ?", f.userID,
	).Scan(&statusLeft).Error)
	assert.Equal(t, 5, invoiceLeft)
	assert.Equal(t, 5, statusLeft)
}

func TestRecordStatusCheckChargesWhenInvoiceCounterZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Record(ctx, usagedomain.RecordRequest{
			UserID:    f.userID,
			UsageType: usagedomain.UsageTypeInvoiceIssue,
			Quantity:  1,
		})
		require.NoError(t, err)
	}

	// free_status_left is still 5, but pricing follows the invoice counter.
	record, err := f.svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    f.userID,
		UsageType: usagedomain.UsageTypeStatusCheck,
		Quantity:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), record.UnitPrice)

	var statusLeft int
	require.NoError(t, f.db.Raw(
		"SELECT free_status_left FROM quota_ledger WHERE user_id = ?", f.userID,
	).Scan(&statusLeft).Error)
	assert.Equal(t, 5, statusLeft)
}

func TestRecordRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    f.userID,
		UsageType: "LOOKUP",
		Quantity:  1,
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidUsageType)

	_, err = f.svc.Record(ctx, usagedomain.RecordRequest{
		UserID:    f.userID,
		UsageType: usagedomain.UsageTypeInvoiceIssue,
		Quantity:  0,
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidQuantity)
}

func TestSummaryReportsUnbilledTotals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 6; i++ {
		f.fake.Advance(time.Hour)
		_, err := f.svc.Record(ctx, usagedomain.RecordRequest{
			UserID:    f.userID,
			UsageType: usagedomain.UsageTypeInvoiceIssue,
			Quantity:  1,
		})
		require.NoError(t, err)
	}

	summary, err := f.svc.Summary(ctx, f.userID, "202604")
	require.NoError(t, err)
	assert.Equal(t, "202604", summary.YearMonth)
	assert.Equal(t, int64(6), summary.RecordCount)
	assert.Equal(t, int64(200), summary.TotalAmount) // five free, one priced
	assert.Equal(t, int64(200), summary.UnbilledAmount)
	assert.Equal(t, int64(6), summary.UnbilledCount)
}

func TestListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 7; i++ {
		f.fake.Advance(time.Minute)
		_, err := f.svc.Record(ctx, usagedomain.RecordRequest{
			UserID:    f.userID,
			UsageType: usagedomain.UsageTypeInvoiceIssue,
			Quantity:  1,
		})
		require.NoError(t, err)
	}

	first, err := f.svc.List(ctx, usagedomain.ListRequest{
		UserID:   f.userID,
		PageSize: 5,
	})
	require.NoError(t, err)
	assert.Len(t, first.Records, 5)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	rest, err := f.svc.List(ctx, usagedomain.ListRequest{
		UserID:    f.userID,
		PageSize:  5,
		PageToken: first.NextPageToken,
	})
	require.NoError(t, err)
	assert.Len(t, rest.Records, 2)
	assert.False(t, rest.HasMore)
}
