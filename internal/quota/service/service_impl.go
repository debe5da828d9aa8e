package service

import (
	"context"
	"strings"

	"github.com/baroworks/taxbill/internal/clock"
	"github.com/baroworks/taxbill/internal/config"
	obsmetrics "github.com/baroworks/taxbill/internal/observability/metrics"
	quotadomain "github.com/baroworks/taxbill/internal/quota/domain"
	"github.com/baroworks/taxbill/pkg/db"
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
	Repo       quotadomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	pricing    *config.PricingConfigHolder
	repo       quotadomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) quotadomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("quota.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		pricing:    p.Pricing,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GetOrCreate(ctx context.Context, userID snowflake.ID, identity string) (*quotadomain.LedgerEntry, error) {
	entry, err := s.repo.FindLedgerByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return entry, nil
	}

	identity = strings.TrimSpace(identity)
	now := s.clock.Now(ctx)
	pricing := s.pricing.Get()

	invoiceGrant := pricing.FreeInvoiceGrant
	statusGrant := pricing.FreeStatusGrant

	if identity != "" {
		invoiceGrant, statusGrant, err = s.resolveGrant(ctx, identity, pricing)
		if err != nil {
			return nil, err
		}
	}

	entry = &quotadomain.LedgerEntry{
		ID:              s.genID.Generate(),
		UserID:          userID,
		FreeInvoiceLeft: invoiceGrant,
		FreeStatusLeft:  statusGrant,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertLedger(ctx, s.db, entry); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Concurrent first call won the insert. Use its row.
			return s.repo.FindLedgerByUserID(ctx, s.db, userID)
		}
		return nil, err
	}

	s.log.Info("quota ledger created",
		zap.String("user_id", userID.String()),
		zap.Int("free_invoice_left", invoiceGrant),
		zap.Int("free_status_left", statusGrant),
	)
	return entry, nil
}

// resolveGrant applies the anti-abuse grant history: a fresh identity gets
// the full grant and a history row; a known unconsumed identity gets only
// what it has not spent; a consumed identity gets nothing.
func (s *Service) resolveGrant(ctx context.Context, identity string, pricing config.PricingConfig) (int, int, error) {
	history, err := s.repo.FindHistoryByIdentifier(ctx, s.db, identity)
	if err != nil {
		return 0, 0, err
	}

	if history == nil {
		history = &quotadomain.GrantHistory{
			ID:               s.genID.Generate(),
			UserIdentifier:   identity,
			FreeInvoiceTotal: pricing.FreeInvoiceGrant,
			FreeStatusTotal:  pricing.FreeStatusGrant,
			CreatedAt:        s.clock.Now(ctx),
		}
		if err := s.repo.InsertHistory(ctx, s.db, history); err != nil {
			if !db.IsDuplicateKeyErr(err) {
				return 0, 0, err
			}
			history, err = s.repo.FindHistoryByIdentifier(ctx, s.db, identity)
			if err != nil {
				return 0, 0, err
			}
			if history == nil {
				return 0, 0, gorm.ErrRecordNotFound
			}
		} else {
			return pricing.FreeInvoiceGrant, pricing.FreeStatusGrant, nil
		}
	}

	if history.IsConsumed {
		return 0, 0, nil
	}
	return history.InvoiceRemaining(), history.StatusRemaining(), nil
}

func (s *Service) ConsumeInvoice(ctx context.Context, tx *gorm.DB, userID snowflake.ID, identity string) (bool, error) {
	now := s.clock.Now(ctx)
	ok, err := s.repo.DecrementInvoice(ctx, tx, userID, now)
	if err != nil || !ok {
		return false, err
	}

	identity = strings.TrimSpace(identity)
	if identity != "" {
		if err := s.repo.IncrementInvoiceUsed(ctx, tx, identity); err != nil {
			return false, err
		}
		entry, err := s.repo.FindLedgerByUserID(ctx, tx, userID)
		if err != nil {
			return false, err
		}
		if entry != nil && entry.FreeInvoiceLeft == 0 {
			if err := s.repo.MarkConsumed(ctx, tx, identity, now); err != nil {
				return false, err
			}
		}
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordQuotaConsumed(ctx, "invoice")
	}
	return true, nil
}

func (s *Service) ConsumeStatusCheck(ctx context.Context, tx *gorm.DB, userID snowflake.ID, identity string) (bool, error) {
	now := s.clock.Now(ctx)
	ok, err := s.repo.DecrementStatus(ctx, tx, userID, now)
	if err != nil || !ok {
		return false, err
	}

	identity = strings.TrimSpace(identity)
	if identity != "" {
		if err := s.repo.IncrementStatusUsed(ctx, tx, identity); err != nil {
			return false, err
		}
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordQuotaConsumed(ctx, "status")
	}
	return true, nil
}

func (s *Service) Status(ctx context.Context, userID snowflake.ID, identity string) (quotadomain.StatusResponse, error) {
	entry, err := s.GetOrCreate(ctx, userID, identity)
	if err != nil {
		return quotadomain.StatusResponse{}, err
	}

	resp := quotadomain.StatusResponse{
		FreeInvoiceLeft: entry.FreeInvoiceLeft,
		FreeStatusLeft:  entry.FreeStatusLeft,
		ShowFreePopup:   entry.FreeInvoiceLeft == 0,
	}

	if identity = strings.TrimSpace(identity); identity != "" {
		history, err := s.repo.FindHistoryByIdentifier(ctx, s.db, identity)
		if err != nil {
			return quotadomain.StatusResponse{}, err
		}
		if history != nil {
			resp.ConsumedAt = history.ConsumedAt
		}
	}
	return resp, nil
}
