package service

import (
	"context"
	"time"

	billingdomain "github.com/baroworks/taxbill/internal/billing/domain"
	"github.com/baroworks/taxbill/internal/clock"
	obsmetrics "github.com/baroworks/taxbill/internal/observability/metrics"
	paymentdomain "github.com/baroworks/taxbill/internal/payment/domain"
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
	Repo       paymentdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	repo        paymentdomain.Repository
	paymentrepo repository.Repository[paymentdomain.Payment]
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("payment.service"),

		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		paymentrepo: repository.ProvideStore[paymentdomain.Payment](p.DB),
		obsMetrics:  p.ObsMetrics,
	}
}

// Register records one settlement attempt. The settlement and amount guards
// run while the cycle row is locked so a concurrent attempt cannot slip past
// the PAID check.
func (s *Service) Register(ctx context.Context, req paymentdomain.RegisterRequest) (*paymentdomain.Payment, error) {
	if err := validateRegisterRequest(req); err != nil {
		return nil, err
	}

	var payment *paymentdomain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cycle, txErr := s.repo.LockCycle(ctx, tx, req.UserID, req.BillingCycleID)
		if txErr != nil {
			return txErr
		}
		if cycle == nil {
			return billingdomain.ErrCycleNotFound
		}
		if cycle.Status == billingdomain.CycleStatusPaid {
			return paymentdomain.ErrAlreadySettled
		}
		if req.Amount != cycle.TotalBillAmount {
			return paymentdomain.ErrAmountMismatch
		}

		now := s.clock.Now(ctx)
		payment = &paymentdomain.Payment{
			ID:             s.genID.Generate(),
			BillingCycleID: req.BillingCycleID,
			UserID:         req.UserID,
			Amount:         req.Amount,
			Method:         req.Method,
			TransactionID:  req.TransactionID,
			Status:         paymentdomain.PaymentStatusFailed,
			CreatedAt:      now,
		}
		if req.Success {
			payment.Status = paymentdomain.PaymentStatusSuccess
			payment.PaidAt = &now
		}
		if txErr := s.repo.Insert(ctx, tx, payment); txErr != nil {
			return txErr
		}

		// Failed attempts are recorded but leave the cycle untouched.
		if !req.Success {
			return nil
		}
		transitioned, txErr := s.repo.TransitionPaid(ctx, tx, cycle.ID)
		if txErr != nil {
			return txErr
		}
		if !transitioned {
			return paymentdomain.ErrAlreadySettled
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil && payment.Status == paymentdomain.PaymentStatusSuccess {
		s.obsMetrics.RecordPayment(ctx, string(payment.Method))
	}
	s.log.Info("payment recorded",
		zap.String("user_id", req.UserID.String()),
		zap.String("billing_cycle_id", req.BillingCycleID.String()),
		zap.Int64("amount", req.Amount),
		zap.String("status", string(payment.Status)),
	)
	return payment, nil
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListRequest) (paymentdomain.ListResponse, error) {
	filter := &paymentdomain.Payment{UserID: req.UserID}
	items, err := s.paymentrepo.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  req.PageSize,
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return paymentdomain.ListResponse{}, err
	}
	return buildListResponse(items, req.PageSize), nil
}

func validateRegisterRequest(req paymentdomain.RegisterRequest) error {
	switch req.Method {
	case paymentdomain.PaymentMethodCard, paymentdomain.PaymentMethodBank:
	default:
		return paymentdomain.ErrInvalidMethod
	}
	if req.Amount < 0 {
		return paymentdomain.ErrInvalidAmount
	}
	return nil
}

func buildListResponse(items []*paymentdomain.Payment, pageSize int) paymentdomain.ListResponse {
	if pageSize <= 0 {
		pageSize = 50
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(payment *paymentdomain.Payment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        payment.ID.String(),
			CreatedAt: payment.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	payments := make([]paymentdomain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}

	return paymentdomain.ListResponse{
		PageInfo: *pageInfo,
		Payments: payments,
	}
}
