package service

import (
	"context"
	"time"

	billingdomain "github.com/baroworks/taxbill/internal/billing/domain"
	"github.com/baroworks/taxbill/internal/clock"
	"github.com/baroworks/taxbill/internal/config"
	obsmetrics "github.com/baroworks/taxbill/internal/observability/metrics"
	usagedomain "github.com/baroworks/taxbill/internal/usage/domain"
	"github.com/baroworks/taxbill/pkg/db"
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
	Repo       billingdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	pricing    *config.PricingConfigHolder
	repo       billingdomain.Repository
	cyclerepo  repository.Repository[billingdomain.Cycle]
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) billingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("billing.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		pricing:    p.Pricing,
		repo:       p.Repo,
		cyclerepo:  repository.ProvideStore[billingdomain.Cycle](p.DB),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GenerateOrGet(ctx context.Context, userID snowflake.ID, yearMonth string) (*billingdomain.Cycle, error) {
	return s.generate(ctx, userID, yearMonth, "sweep")
}

func (s *Service) GenerateNow(ctx context.Context, userID snowflake.ID) (*billingdomain.Cycle, error) {
	yearMonth := usagedomain.FormatYearMonth(s.clock.Now(ctx))
	from, to, err := usagedomain.MonthRange(yearMonth)
	if err != nil {
		return nil, billingdomain.ErrInvalidYearMonth
	}

	count, err := s.repo.CountUnbilled(ctx, s.db, userID, from, to)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, billingdomain.ErrNoUnbilledUsage
	}
	return s.generate(ctx, userID, yearMonth, "manual")
}

// generate seals one (user, month) cycle inside a single transaction. The
// unbilled rows are pinned first so the stored total covers exactly the set
// that gets sealed; rows recorded after the pin stay unbilled for the next
// cycle. A duplicate-key insert means another sweep won the race, so the
// loser adopts the winner's row and leaves its own pinned set untouched.
func (s *Service) generate(ctx context.Context, userID snowflake.ID, yearMonth string, trigger string) (*billingdomain.Cycle, error) {
	from, to, err := usagedomain.MonthRange(yearMonth)
	if err != nil {
		return nil, billingdomain.ErrInvalidYearMonth
	}

	var cycle *billingdomain.Cycle
	sealed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, txErr := s.repo.FindByUserMonth(ctx, tx, userID, yearMonth)
		if txErr != nil {
			return txErr
		}
		if existing != nil {
			cycle = existing
			return nil
		}

		ids, txErr := s.repo.PinUnbilledRecordIDs(ctx, tx, userID, from, to)
		if txErr != nil {
			return txErr
		}
		usageAmount, txErr := s.repo.SumRecords(ctx, tx, ids)
		if txErr != nil {
			return txErr
		}

		dueDate, txErr := billingdomain.DueDateFor(yearMonth)
		if txErr != nil {
			return billingdomain.ErrInvalidYearMonth
		}
		monthlyFee := s.pricing.Get().MonthlyFee

		next := &billingdomain.Cycle{
			ID:               s.genID.Generate(),
			UserID:           userID,
			YearMonth:        yearMonth,
			TotalUsageAmount: usageAmount,
			MonthlyFee:       monthlyFee,
			TotalBillAmount:  usageAmount + monthlyFee,
			Status:           billingdomain.CycleStatusPending,
			DueDate:          &dueDate,
			CreatedAt:        s.clock.Now(ctx),
		}
		if txErr := s.repo.Insert(ctx, tx, next); txErr != nil {
			if db.IsDuplicateKeyErr(txErr) {
				winner, refetchErr := s.repo.FindByUserMonth(ctx, tx, userID, yearMonth)
				if refetchErr != nil {
					return refetchErr
				}
				if winner != nil {
					cycle = winner
					return nil
				}
			}
			return txErr
		}

		if _, txErr := s.repo.SealRecords(ctx, tx, next.ID, ids); txErr != nil {
			return txErr
		}
		cycle = next
		sealed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sealed {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCycleSealed(ctx, trigger)
		}
		s.log.Info("billing cycle sealed",
			zap.String("user_id", userID.String()),
			zap.String("year_month", yearMonth),
			zap.Int64("total_bill_amount", cycle.TotalBillAmount),
			zap.String("trigger", trigger),
		)
	}
	return cycle, nil
}

func (s *Service) List(ctx context.Context, req billingdomain.ListRequest) (billingdomain.ListResponse, error) {
	filter := &billingdomain.Cycle{UserID: req.UserID}
	items, err := s.cyclerepo.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  req.PageSize,
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return billingdomain.ListResponse{}, err
	}
	return buildListResponse(items, req.PageSize), nil
}

func (s *Service) Get(ctx context.Context, userID, cycleID snowflake.ID) (*billingdomain.Detail, error) {
	cycle, err := s.repo.FindByID(ctx, s.db, userID, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, billingdomain.ErrCycleNotFound
	}

	records, err := s.repo.RecordsForCycle(ctx, s.db, userID, cycleID)
	if err != nil {
		return nil, err
	}
	return &billingdomain.Detail{
		Cycle:   *cycle,
		Records: records,
	}, nil
}

func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	count, err := s.repo.MarkOverdue(ctx, s.db, asOf)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log.Info("billing cycles marked overdue", zap.Int64("count", count))
	}
	return count, nil
}

func (s *Service) UsersWithUnbilledUsage(ctx context.Context, yearMonth string) ([]snowflake.ID, error) {
	from, to, err := usagedomain.MonthRange(yearMonth)
	if err != nil {
		return nil, billingdomain.ErrInvalidYearMonth
	}
	return s.repo.UsersWithUnbilledUsage(ctx, s.db, from, to)
}

func buildListResponse(items []*billingdomain.Cycle, pageSize int) billingdomain.ListResponse {
	if pageSize <= 0 {
		pageSize = 50
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(cycle *billingdomain.Cycle) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        cycle.ID.String(),
			CreatedAt: cycle.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	cycles := make([]billingdomain.Cycle, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		cycles = append(cycles, *item)
	}

	return billingdomain.ListResponse{
		PageInfo: *pageInfo,
		Cycles:   cycles,
	}
}
