package domain

import (
	"context"
	"errors"
	"time"

	usagedomain "github.com/baroworks/taxbill/internal/usage/domain"
	"github.com/baroworks/taxbill/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListRequest struct {
	UserID    snowflake.ID
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type ListResponse struct {
	pagination.PageInfo
	Cycles []Cycle `json:"billing_cycles"`
}

// Detail is a cycle plus the usage records it sealed.
type Detail struct {
	Cycle
	Records []usagedomain.Record `json:"usage_records"`
}

// Service aggregates a month's unbilled usage into one immutable cycle per
// user per month. GenerateOrGet is the idempotent sweep entry point: calling
// it twice for the same (user, month) returns the same row unchanged.
type Service interface {
	GenerateOrGet(ctx context.Context, userID snowflake.ID, yearMonth string) (*Cycle, error)
	GenerateNow(ctx context.Context, userID snowflake.ID) (*Cycle, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Get(ctx context.Context, userID, cycleID snowflake.ID) (*Detail, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
	UsersWithUnbilledUsage(ctx context.Context, yearMonth string) ([]snowflake.ID, error)
}

// Repository is the raw SQL surface of billing_cycles and the sealing
// updates on usage_records.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, cycle *Cycle) error
	FindByUserMonth(ctx context.Context, db *gorm.DB, userID snowflake.ID, yearMonth string) (*Cycle, error)
	FindByID(ctx context.Context, db *gorm.DB, userID, cycleID snowflake.ID) (*Cycle, error)
	// PinUnbilledRecordIDs locks the month's unbilled usage rows and
	// returns their ids. The sweep sums and seals exactly this set.
	PinUnbilledRecordIDs(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) ([]snowflake.ID, error)
	SumRecords(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (int64, error)
	SealRecords(ctx context.Context, db *gorm.DB, cycleID snowflake.ID, ids []snowflake.ID) (int64, error)
	RecordsForCycle(ctx context.Context, db *gorm.DB, userID, cycleID snowflake.ID) ([]usagedomain.Record, error)
	CountUnbilled(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) (int64, error)
	MarkOverdue(ctx context.Context, db *gorm.DB, asOf time.Time) (int64, error)
	UsersWithUnbilledUsage(ctx context.Context, db *gorm.DB, from, to time.Time) ([]snowflake.ID, error)
}

var (
	ErrCycleNotFound    = errors.New("billing_cycle_not_found")
	ErrNoUnbilledUsage  = errors.New("no_unbilled_usage")
	ErrInvalidYearMonth = errors.New("invalid_year_month")
)
