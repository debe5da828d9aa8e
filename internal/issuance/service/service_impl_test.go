package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	accountdomain "github.com/baroworks/taxbill/internal/account/domain"
	"github.com/baroworks/taxbill/internal/clock"
	"github.com/baroworks/taxbill/internal/config"
	issuancedomain "github.com/baroworks/taxbill/internal/issuance/domain"
	"github.com/baroworks/taxbill/internal/issuance/provider"
	issuancerepo "github.com/baroworks/taxbill/internal/issuance/repository"
	quotarepo "github.com/baroworks/taxbill/internal/quota/repository"
	quotaservice "github.com/baroworks/taxbill/internal/quota/service"
	usagerepo "github.com/baroworks/taxbill/internal/usage/repository"
	usageservice "github.com/baroworks/taxbill/internal/usage/service"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubDirectory struct {
	users      map[snowflake.ID]*accountdomain.User
	hasPayment bool
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
	return d.hasPayment, nil
}

type stubProvider struct {
	issueCode   int
	issueErr    error
	state       provider.DocState
	stateErr    error
	cancelErr   error
	corpState   *provider.CorpState
	corpErr     error
	issueCalls  int
	cancelCalls int
}

func (p *stubProvider) Issue(ctx context.Context, req provider.IssueRequest) (int, error) {
	p.issueCalls++
	if p.issueErr != nil {
		return 0, p.issueErr
	}
	return p.issueCode, nil
}

func (p *stubProvider) Cancel(ctx context.Context, mgtKey string) error {
	p.cancelCalls++
	return p.cancelErr
}

func (p *stubProvider) GetState(ctx context.Context, mgtKey string) (provider.DocState, error) {
	if p.stateErr != nil {
		return 0, p.stateErr
	}
	return p.state, nil
}

func (p *stubProvider) GetCorpState(ctx context.Context, corpNum string) (*provider.CorpState, error) {
	if p.corpErr != nil {
		return nil, p.corpErr
	}
	return p.corpState, nil
}

func (p *stubProvider) ErrString(ctx context.Context, code int) (string, error) {
	return "", nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:issuance_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		`CREATE TABLE issued_invoices (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			mgt_key TEXT NOT NULL UNIQUE,
			write_date TEXT NOT NULL,
			invoicer_corp_num TEXT NOT NULL,
			invoicer_corp_name TEXT NOT NULL,
			invoicer_ceo_name TEXT,
			invoicee_corp_num TEXT NOT NULL,
			invoicee_corp_name TEXT NOT NULL,
			invoicee_ceo_name TEXT,
			invoicee_email TEXT,
			amount_total TEXT NOT NULL,
			tax_total TEXT NOT NULL,
			total_amount TEXT NOT NULL,
			line_items TEXT,
			status TEXT NOT NULL,
			issued_at DATETIME NOT NULL,
			cancelled_at DATETIME,
			retention_until DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fixture struct {
	db        *gorm.DB
	svc       issuancedomain.Service
	provider  *stubProvider
	directory *stubDirectory
	fake      *clock.FakeClock
	userID    snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC))

	node, err := snowflake.NewNode(23)
	require.NoError(t, err)
	userID := node.Generate()

	directory := &stubDirectory{users: map[snowflake.ID]*accountdomain.User{
		userID: {ID: userID, Email: "issuer@example.com", BizName: "Issuer Co", CorpNum: "1234567890"},
	}}
	stub := &stubProvider{issueCode: 1, corpState: &provider.CorpState{State: 1, StateName: "normal"}}
	pricing := config.NewStaticPricingHolder(config.DefaultPricingConfig())

	quotaSvc := quotaservice.NewService(quotaservice.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Pricing: pricing,
		Repo:    quotarepo.Provide(),
	})
	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		Pricing:   pricing,
		Directory: directory,
		QuotaSvc:  quotaSvc,
		QuotaRepo: quotarepo.Provide(),
		Repo:      usagerepo.Provide(),
	})
	svc := NewService(ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		Directory: directory,
		QuotaSvc:  quotaSvc,
		UsageSvc:  usageSvc,
		Repo:      issuancerepo.Provide(),
		Provider:  stub,
	})

	return &fixture{
		db:        db,
		svc:       svc,
		provider:  stub,
		directory: directory,
		fake:      fake,
		userID:    userID,
	}
}

func issueRequest(userID snowflake.ID, mgtKey string) issuancedomain.IssueRequest {
	return issuancedomain.IssueRequest{
		UserID:      userID,
		MgtKey:      mgtKey,
		WriteDate:   "20260415",
		PurposeType: 2,
		TaxType:     1,
		AmountTotal: "10000",
		TaxTotal:    "1000",
		TotalAmount: "11000",
		Invoicer:    provider.Party{CorpNum: "1234567890", CorpName: "Issuer Co"},
		Invoicee:    provider.Party{CorpNum: "0987654321", CorpName: "Buyer Co"},
		LineItems: []provider.LineItem{
			{Name: "consulting", Amount: "10000", Tax: "1000"},
		},
	}
}

func (f *fixture) freeInvoiceLeft(t *testing.T) int {
	t.Helper()

	var left int
	require.NoError(t, f.db.Raw(`SELECT free_invoice_left FROM quota_ledger WHERE user_id = ?`, f.userID).Scan(&left).Error)
	return left
}

func (f *fixture) usageCount(t *testing.T) int64 {
	t.Helper()

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM usage_records WHERE user_id = ?`, f.userID).Scan(&count).Error)
	return count
}

func TestIssueIsFreeWhileQuotaRemains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invoice, err := f.svc.Issue(ctx, issueRequest(f.userID, "INV-2026-001"))
	require.NoError(t, err)

	assert.Equal(t, issuancedomain.InvoiceStatusIssued, invoice.Status)
	assert.Equal(t, time.Date(2031, 4, 15, 10, 0, 0, 0, time.UTC), invoice.RetentionUntil)
	assert.Equal(t, 4, f.freeInvoiceLeft(t))

	var totalPrice int64
	require.NoError(t, f.db.Raw(`SELECT total_price FROM usage_records WHERE user_id = ?`, f.userID).Scan(&totalPrice).Error)
	assert.Equal(t, int64(0), totalPrice)
}

func TestIssueBlockedWithoutQuotaOrPaymentMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Issue(ctx, issueRequest(f.userID, fmt.Sprintf("INV-2026-%03d", i)))
		require.NoError(t, err)
	}
	require.Equal(t, 0, f.freeInvoiceLeft(t))
	callsBefore := f.provider.issueCalls

	_, err := f.svc.Issue(ctx, issueRequest(f.userID, "INV-2026-OVER"))
	assert.ErrorIs(t, err, issuancedomain.ErrQuotaExhausted)
	assert.Equal(t, callsBefore, f.provider.issueCalls)
}

func TestIssueChargesAfterQuotaWithPaymentMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Issue(ctx, issueRequest(f.userID, fmt.Sprintf("INV-2026-%03d", i)))
		require.NoError(t, err)
	}
	f.directory.hasPayment = true

	_, err := f.svc.Issue(ctx, issueRequest(f.userID, "INV-2026-PAID"))
	require.NoError(t, err)

	var totalPrice int64
	err = f.db.Raw(
		`SELECT total_price FROM usage_records WHERE user_id = ? ORDER BY id DESC LIMIT 1`,
		f.userID,
	).Scan(&totalPrice).Error
	require.NoError(t, err)
	assert.Equal(t, int64(200), totalPrice)
}

func TestIssueProviderFailureChargesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.issueErr = &provider.Error{Code: -10001, Message: "registration rejected"}

	_, err := f.svc.Issue(ctx, issueRequest(f.userID, "INV-2026-FAIL"))
	require.Error(t, err)

	assert.Equal(t, 5, f.freeInvoiceLeft(t))
	assert.Equal(t, int64(0), f.usageCount(t))

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM issued_invoices`).Scan(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestIssueRejectsDuplicateMgtKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, issueRequest(f.userID, "INV-2026-001"))
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, issueRequest(f.userID, "INV-2026-001"))
	assert.ErrorIs(t, err, issuancedomain.ErrDuplicateMgtKey)
	assert.Equal(t, int64(1), f.usageCount(t))
}

func TestCancelGuardsOnProviderState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, issueRequest(f.userID, "INV-2026-001"))
	require.NoError(t, err)

	f.provider.state = provider.DocStateForwarded
	_, err = f.svc.Cancel(ctx, f.userID, "INV-2026-001")
	assert.ErrorIs(t, err, issuancedomain.ErrAlreadyForwarded)
	assert.Equal(t, 0, f.provider.cancelCalls)

	f.provider.state = provider.DocStateCancelled
	_, err = f.svc.Cancel(ctx, f.userID, "INV-2026-001")
	assert.ErrorIs(t, err, issuancedomain.ErrAlreadyCancelled)
}

func TestCancelMarksRowAndKeepsQuotaSpent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, issueRequest(f.userID, "INV-2026-001"))
	require.NoError(t, err)
	require.Equal(t, 4, f.freeInvoiceLeft(t))

	f.provider.state = provider.DocStateIssued
	cancelled, err := f.svc.Cancel(ctx, f.userID, "INV-2026-001")
	require.NoError(t, err)

	assert.Equal(t, issuancedomain.InvoiceStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 4, f.freeInvoiceLeft(t))
	assert.Equal(t, int64(1), f.usageCount(t))

	_, err = f.svc.Cancel(ctx, f.userID, "INV-2026-001")
	assert.ErrorIs(t, err, issuancedomain.ErrAlreadyCancelled)
}

func TestCancelUnknownInvoice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Cancel(context.Background(), f.userID, "INV-MISSING")
	assert.ErrorIs(t, err, issuancedomain.ErrInvoiceNotFound)
}

func TestCheckCorpStateRecordsStatusCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state, err := f.svc.CheckCorpState(ctx, f.userID, "123-45-67890")
	require.NoError(t, err)
	assert.Equal(t, 1, state.State)

	var usageType string
	require.NoError(t, f.db.Raw(
		`SELECT usage_type FROM usage_records WHERE user_id = ?`, f.userID,
	).Scan(&usageType).Error)
	assert.Equal(t, "STATUS_CHECK", usageType)
}

func TestCheckCorpStateValidatesCorpNum(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CheckCorpState(context.Background(), f.userID, "12345")
	assert.ErrorIs(t, err, issuancedomain.ErrInvalidCorpNum)
}

func TestCheckCorpStateProviderFailureRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.corpErr = &provider.Error{Code: -10002, Message: "auth failed"}

	_, err := f.svc.CheckCorpState(ctx, f.userID, "1234567890")
	require.Error(t, err)
	assert.Equal(t, int64(0), f.usageCount(t))
}
