package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	accountdomain "github.com/baroworks/taxbill/internal/account/domain"
	"github.com/baroworks/taxbill/internal/clock"
	issuancedomain "github.com/baroworks/taxbill/internal/issuance/domain"
	"github.com/baroworks/taxbill/internal/issuance/provider"
	obsmetrics "github.com/baroworks/taxbill/internal/observability/metrics"
	quotadomain "github.com/baroworks/taxbill/internal/quota/domain"
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
	Directory  accountdomain.Directory
	QuotaSvc   quotadomain.Service
	UsageSvc   usagedomain.Service
	Repo       issuancedomain.Repository
	Provider   provider.Client
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	directory   accountdomain.Directory
	quotaSvc    quotadomain.Service
	usageSvc    usagedomain.Service
	repo        issuancedomain.Repository
	provider    provider.Client
	invoicerepo repository.Repository[issuancedomain.Invoice]
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p ServiceParam) issuancedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("issuance.service"),

		genID:       p.GenID,
		clock:       p.Clock,
		directory:   p.Directory,
		quotaSvc:    p.QuotaSvc,
		usageSvc:    p.UsageSvc,
		repo:        p.Repo,
		provider:    p.Provider,
		invoicerepo: repository.ProvideStore[issuancedomain.Invoice](p.DB),
		obsMetrics:  p.ObsMetrics,
	}
}

// Issue runs the confirm-before-charge sequence: quota gate, provider
// issue, then usage charge and local record in one transaction. A provider
// failure leaves quota, usage and the invoice table untouched.
func (s *Service) Issue(ctx context.Context, req issuancedomain.IssueRequest) (*issuancedomain.Invoice, error) {
	if strings.TrimSpace(req.MgtKey) == "" {
		return nil, issuancedomain.ErrInvalidMgtKey
	}

	user, err := s.directory.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	identity := accountdomain.Identity(user)

	ledger, err := s.quotaSvc.GetOrCreate(ctx, req.UserID, identity)
	if err != nil {
		return nil, err
	}
	if ledger.FreeInvoiceLeft == 0 {
		hasMethod, err := s.directory.HasPaymentMethod(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if !hasMethod {
			return nil, issuancedomain.ErrQuotaExhausted
		}
	}

	existing, err := s.repo.FindByMgtKey(ctx, s.db, req.UserID, req.MgtKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, issuancedomain.ErrDuplicateMgtKey
	}

	code, err := s.provider.Issue(ctx, provider.IssueRequest{
		MgtKey:      req.MgtKey,
		WriteDate:   req.WriteDate,
		PurposeType: req.PurposeType,
		TaxType:     req.TaxType,
		AmountTotal: req.AmountTotal,
		TaxTotal:    req.TaxTotal,
		TotalAmount: req.TotalAmount,
		Invoicer:    req.Invoicer,
		Invoicee:    req.Invoicee,
		LineItems:   req.LineItems,
		ForceIssue:  req.ForceIssue,
	})
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordProviderError(ctx, "issue")
		}
		s.log.Warn("provider issue failed",
			zap.String("user_id", req.UserID.String()),
			zap.String("mgt_key", req.MgtKey),
			zap.Error(err),
		)
		return nil, err
	}

	lineItems, err := json.Marshal(req.LineItems)
	if err != nil {
		return nil, err
	}

	var invoice *issuancedomain.Invoice
	var record *usagedomain.Record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		record, txErr = s.usageSvc.RecordInTx(ctx, tx, usagedomain.RecordRequest{
			UserID:    req.UserID,
			UsageType: usagedomain.UsageTypeInvoiceIssue,
			Quantity:  1,
		})
		if txErr != nil {
			return txErr
		}

		now := s.clock.Now(ctx)
		invoice = &issuancedomain.Invoice{
			ID:               s.genID.Generate(),
			UserID:           req.UserID,
			MgtKey:           req.MgtKey,
			WriteDate:        req.WriteDate,
			InvoicerCorpNum:  req.Invoicer.CorpNum,
			InvoicerCorpName: req.Invoicer.CorpName,
			InvoicerCEOName:  req.Invoicer.CEOName,
			InvoiceeCorpNum:  req.Invoicee.CorpNum,
			InvoiceeCorpName: req.Invoicee.CorpName,
			InvoiceeCEOName:  req.Invoicee.CEOName,
			InvoiceeEmail:    req.Invoicee.Email,
			AmountTotal:      req.AmountTotal,
			TaxTotal:         req.TaxTotal,
			TotalAmount:      req.TotalAmount,
			LineItems:        lineItems,
			Status:           issuancedomain.InvoiceStatusIssued,
			IssuedAt:         now,
			RetentionUntil:   now.AddDate(issuancedomain.RetentionYears, 0, 0),
			CreatedAt:        now,
		}
		if txErr := s.repo.Insert(ctx, tx, invoice); txErr != nil {
			if db.IsDuplicateKeyErr(txErr) {
				return issuancedomain.ErrDuplicateMgtKey
			}
			return txErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	charged := record.TotalPrice > 0
	if s.obsMetrics != nil {
		s.obsMetrics.RecordInvoiceIssued(ctx, charged)
	}
	s.log.Info("invoice issued",
		zap.String("user_id", req.UserID.String()),
		zap.String("mgt_key", req.MgtKey),
		zap.Int("provider_code", code),
		zap.Bool("charged", charged),
	)
	return invoice, nil
}

// Cancel checks the provider's live document state before cancelling.
// Cancellation never restores free quota or reverses the usage charge.
func (s *Service) Cancel(ctx context.Context, userID snowflake.ID, mgtKey string) (*issuancedomain.Invoice, error) {
	invoice, err := s.repo.FindByMgtKey(ctx, s.db, userID, mgtKey)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, issuancedomain.ErrInvoiceNotFound
	}
	if invoice.Status == issuancedomain.InvoiceStatusCancelled {
		return nil, issuancedomain.ErrAlreadyCancelled
	}

	state, err := s.provider.GetState(ctx, mgtKey)
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordProviderError(ctx, "get_state")
		}
		return nil, err
	}
	switch state {
	case provider.DocStateForwarded:
		return nil, issuancedomain.ErrAlreadyForwarded
	case provider.DocStateCancelled:
		return nil, issuancedomain.ErrAlreadyCancelled
	}

	if err := s.provider.Cancel(ctx, mgtKey); err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordProviderError(ctx, "cancel")
		}
		return nil, err
	}

	now := s.clock.Now(ctx)
	if _, err := s.repo.MarkCancelled(ctx, s.db, userID, mgtKey, now); err != nil {
		return nil, err
	}
	invoice.Status = issuancedomain.InvoiceStatusCancelled
	invoice.CancelledAt = &now

	if s.obsMetrics != nil {
		s.obsMetrics.RecordInvoiceCancelled(ctx)
	}
	s.log.Info("invoice cancelled",
		zap.String("user_id", userID.String()),
		zap.String("mgt_key", mgtKey),
	)
	return invoice, nil
}

func (s *Service) State(ctx context.Context, userID snowflake.ID, mgtKey string) (provider.DocState, error) {
	invoice, err := s.repo.FindByMgtKey(ctx, s.db, userID, mgtKey)
	if err != nil {
		return 0, err
	}
	if invoice == nil {
		return 0, issuancedomain.ErrInvoiceNotFound
	}

	state, err := s.provider.GetState(ctx, mgtKey)
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordProviderError(ctx, "get_state")
		}
		return 0, err
	}
	return state, nil
}

// CheckCorpState looks up a business registration and records a STATUS_CHECK
// usage event only when the provider call succeeds.
func (s *Service) CheckCorpState(ctx context.Context, userID snowflake.ID, corpNum string) (*provider.CorpState, error) {
	corpNum = strings.ReplaceAll(strings.TrimSpace(corpNum), "-", "")
	if len(corpNum) != 10 {
		return nil, issuancedomain.ErrInvalidCorpNum
	}

	state, err := s.provider.GetCorpState(ctx, corpNum)
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordProviderError(ctx, "get_corp_state")
		}
		return nil, err
	}

	record, err := s.usageSvc.Record(ctx, usagedomain.RecordRequest{
		UserID:    userID,
		UsageType: usagedomain.UsageTypeStatusCheck,
		Quantity:  1,
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordStatusCheck(ctx, record.TotalPrice > 0)
	}
	return state, nil
}

func (s *Service) List(ctx context.Context, req issuancedomain.ListRequest) (issuancedomain.ListResponse, error) {
	filter := &issuancedomain.Invoice{UserID: req.UserID}
	items, err := s.invoicerepo.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  req.PageSize,
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return issuancedomain.ListResponse{}, err
	}
	return buildListResponse(items, req.PageSize), nil
}

func buildListResponse(items []*issuancedomain.Invoice, pageSize int) issuancedomain.ListResponse {
	if pageSize <= 0 {
		pageSize = 50
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(invoice *issuancedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        invoice.ID.String(),
			CreatedAt: invoice.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	invoices := make([]issuancedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	return issuancedomain.ListResponse{
		PageInfo: *pageInfo,
		Invoices: invoices,
	}
}
