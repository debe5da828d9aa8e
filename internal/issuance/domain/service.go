package domain

import (
	"context"
	"errors"
	"time"

	"github.com/baroworks/taxbill/internal/issuance/provider"
	"github.com/baroworks/taxbill/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type IssueRequest struct {
	UserID      snowflake.ID
	MgtKey      string              `json:"mgt_key" binding:"required"`
	WriteDate   string              `json:"write_date" binding:"required"`
	PurposeType int                 `json:"purpose_type"`
	TaxType     int                 `json:"tax_type"`
	AmountTotal string              `json:"amount_total" binding:"required"`
	TaxTotal    string              `json:"tax_total" binding:"required"`
	TotalAmount string              `json:"total_amount" binding:"required"`
	Invoicer    provider.Party      `json:"invoicer" binding:"required"`
	Invoicee    provider.Party      `json:"invoicee" binding:"required"`
	LineItems   []provider.LineItem `json:"line_items"`
	ForceIssue  bool                `json:"force_issue"`
}

type ListRequest struct {
	UserID    snowflake.ID
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type ListResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// Service orchestrates document issuance: quota gate, provider confirm,
// then charge and record in one transaction. The provider is only charged
// against after it reports success.
type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*Invoice, error)
	Cancel(ctx context.Context, userID snowflake.ID, mgtKey string) (*Invoice, error)
	State(ctx context.Context, userID snowflake.ID, mgtKey string) (provider.DocState, error)
	CheckCorpState(ctx context.Context, userID snowflake.ID, corpNum string) (*provider.CorpState, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByMgtKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, mgtKey string) (*Invoice, error)
	MarkCancelled(ctx context.Context, db *gorm.DB, userID snowflake.ID, mgtKey string, at time.Time) (bool, error)
}

var (
	ErrQuotaExhausted   = errors.New("free_quota_exhausted_no_payment_method")
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrDuplicateMgtKey  = errors.New("duplicate_mgt_key")
	ErrAlreadyForwarded = errors.New("invoice_already_forwarded")
	ErrAlreadyCancelled = errors.New("invoice_already_cancelled")
	ErrInvalidCorpNum   = errors.New("invalid_corp_num")
	ErrInvalidMgtKey    = errors.New("invalid_mgt_key")
)
