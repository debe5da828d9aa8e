package domain

import (
	"context"
	"errors"
	"time"

	"github.com/baroworks/taxbill/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type RecordRequest struct {
	UserID    snowflake.ID
	UsageType string
	Quantity  int
}

type ListRequest struct {
	UserID         snowflake.ID
	BillingCycleID string     `form:"billing_cycle_id"`
	From           *time.Time `form:"from" time_format:"2006-01-02"`
	To             *time.Time `form:"to" time_format:"2006-01-02"`
	PageToken      string     `form:"page_token"`
	PageSize       int        `form:"page_size"`
}

type ListResponse struct {
	pagination.PageInfo
	Records []Record `json:"usage_records"`
}

// MonthlySummary aggregates a user's usage for a YYYYMM month.
type MonthlySummary struct {
	YearMonth      string `json:"year_month"`
	TotalAmount    int64  `json:"total_amount"`
	RecordCount    int64  `json:"record_count"`
	UnbilledAmount int64  `json:"unbilled_amount"`
	UnbilledCount  int64  `json:"unbilled_count"`
}

// Service prices and records billable events. Record opens its own
// transaction; RecordInTx joins the caller's, so orchestrators commit the
// usage row together with their own writes.
type Service interface {
	Record(ctx context.Context, req RecordRequest) (*Record, error)
	RecordInTx(ctx context.Context, tx *gorm.DB, req RecordRequest) (*Record, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Summary(ctx context.Context, userID snowflake.ID, yearMonth string) (MonthlySummary, error)
}

// Repository is the raw SQL surface of the usage_records table.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	SummarizeMonth(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) (MonthlySummary, error)
}

var (
	ErrInvalidUsageType = errors.New("invalid_usage_type")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidYearMonth = errors.New("invalid_year_month")
	ErrInvalidCycleID   = errors.New("invalid_billing_cycle_id")
)
