package service

import (
	"context"
	"time"

	accountdomain "github.com/baroworks/taxbill/internal/account/domain"
	"github.com/baroworks/taxbill/internal/clock"
	"github.com/baroworks/taxbill/internal/config"
	obsmetrics "github.com/baroworks/taxbill/internal/observability/metrics"
	quotadomain "github.com/baroworks/taxbill/internal/quota/domain"
	usagedomain "github.com/baroworks/taxbill/internal/usage/domain"
	"github.com/baroworks/taxbill/pkg/db/option"
	"github.com/baroworks/taxbill/pkg/db/pagination"
	"github.com/baroworks/taxbill/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Pricing    *config.PricingConfigHolder
	Directory  accountdomain.Directory
	QuotaSvc   quotadomain.Service
	QuotaRepo  quotadomain.Repository
	Repo       usagedomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	pricing    *config.PricingConfigHolder
	directory  accountdomain.Directory
	quotaSvc   quotadomain.Service
	quotaRepo  quotadomain.Repository
	repo       usagedomain.Repository
	usagerepo  repository.Repository[usagedomain.Record]
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		pricing:    p.Pricing,
		directory:  p.Directory,
		quotaSvc:   p.QuotaSvc,
		quotaRepo:  p.QuotaRepo,
		repo:       p.Repo,
		usagerepo:  repository.ProvideStore[usagedomain.Record](p.DB),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.Record, error) {
	if err := validateRecordRequest(req); err != nil {
		return nil, err
	}

	var record *usagedomain.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		record, txErr = s.RecordInTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) RecordInTx(ctx context.Context, tx *gorm.DB, req usagedomain.RecordRequest) (*usagedomain.Record, error) {
	if err := validateRecordRequest(req); err != nil {
		return nil, err
	}

	user, err := s.directory.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	identity := accountdomain.Identity(user)

	if _, err := s.quotaSvc.GetOrCreate(ctx, req.UserID, identity); err != nil {
		return nil, err
	}

	pricing := s.pricing.Get()
	unitPrice, err := s.priceEvent(ctx, tx, req, identity, pricing)
	if err != nil {
		return nil, err
	}

	record := &usagedomain.Record{
		ID:         s.genID.Generate(),
		UserID:     req.UserID,
		UsageType:  req.UsageType,
		UnitPrice:  unitPrice,
		Quantity:   req.Quantity,
		TotalPrice: unitPrice * int64(req.Quantity),
		CreatedAt:  s.clock.Now(ctx),
	}
	if err := s.repo.Insert(ctx, tx, record); err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordUsage(ctx, record.UsageType)
	}
	s.log.Info("usage recorded",
		zap.String("user_id", record.UserID.String()),
		zap.String("usage_type", record.UsageType),
		zap.Int64("total_price", record.TotalPrice),
	)
	return record, nil
}

// priceEvent snapshots the unit price for one event. Issuance spends a free
// credit when one is left; status checks ride along free while the invoice
// counter is positive and never decrement anything.
func (s *Service) priceEvent(ctx context.Context, tx *gorm.DB, req usagedomain.RecordRequest, identity string, pricing config.PricingConfig) (int64, error) {
	switch req.UsageType {
	case usagedomain.UsageTypeInvoiceIssue:
		consumed, err := s.quotaSvc.ConsumeInvoice(ctx, tx, req.UserID, identity)
		if err != nil {
			return 0, err
		}
		if consumed {
			return 0, nil
		}
		return pricing.InvoiceIssueUnitPrice, nil
	case usagedomain.UsageTypeStatusCheck:
		ledger, err := s.quotaRepo.FindLedgerByUserID(ctx, tx, req.UserID)
		if err != nil {
			return 0, err
		}
		if ledger != nil && ledger.FreeInvoiceLeft > 0 {
			return 0, nil
		}
		return pricing.StatusCheckUnitPrice, nil
	default:
		return 0, usagedomain.ErrInvalidUsageType
	}
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRequest) (usagedomain.ListResponse, error) {
	filter := &usagedomain.Record{UserID: req.UserID}
	opts := []option.QueryOption{
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  req.PageSize,
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	}

	if req.BillingCycleID != "" {
		cycleID, err := snowflake.ParseString(req.BillingCycleID)
		if err != nil || cycleID == 0 {
			return usagedomain.ListResponse{}, usagedomain.ErrInvalidCycleID
		}
		opts = append(opts, option.WithFilter("billing_cycle_id = ?", cycleID))
	}
	if req.From != nil {
		opts = append(opts, option.WithFilter("created_at >= ?", req.From.UTC()))
	}
	if req.To != nil {
		opts = append(opts, option.WithFilter("created_at < ?", req.To.UTC().AddDate(0, 0, 1)))
	}

	items, err := s.usagerepo.Find(ctx, filter, opts...)
	if err != nil {
		return usagedomain.ListResponse{}, err
	}
	return buildListResponse(items, req.PageSize), nil
}

func (s *Service) Summary(ctx context.Context, userID snowflake.ID, yearMonth string) (usagedomain.MonthlySummary, error) {
	if yearMonth == "" {
		yearMonth = usagedomain.FormatYearMonth(s.clock.Now(ctx))
	}
	from, to, err := usagedomain.MonthRange(yearMonth)
	if err != nil {
		return usagedomain.MonthlySummary{}, err
	}

	summary, err := s.repo.SummarizeMonth(ctx, s.db, userID, from, to)
	if err != nil {
		return usagedomain.MonthlySummary{}, err
	}
	summary.YearMonth = yearMonth
	return summary, nil
}

func validateRecordRequest(req usagedomain.RecordRequest) error {
	switch req.UsageType {
	case usagedomain.UsageTypeInvoiceIssue, usagedomain.UsageTypeStatusCheck:
	default:
		return usagedomain.ErrInvalidUsageType
	}
	if req.Quantity < 1 {
		return usagedomain.ErrInvalidQuantity
	}
	return nil
}

func buildListResponse(items []*usagedomain.Record, pageSize int) usagedomain.ListResponse {
	if pageSize <= 0 {
		pageSize = 50
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *usagedomain.Record) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	records := make([]usagedomain.Record, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	return usagedomain.ListResponse{
		PageInfo: *pageInfo,
		Records:  records,
	}
}
