package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// StatusResponse is the quota snapshot returned to the dashboard.
type StatusResponse struct {
	FreeInvoiceLeft int        `json:"free_invoice_left"`
	FreeStatusLeft  int        `json:"free_status_left"`
	ShowFreePopup   bool       `json:"show_free_popup"`
	ConsumedAt      *time.Time `json:"consumed_at,omitempty"`
}

// Service manages the free allowance ledger. Consume calls run inside the
// caller's transaction so quota decrements commit or roll back together with
// the usage record they price.
type Service interface {
	GetOrCreate(ctx context.Context, userID snowflake.ID, identity string) (*LedgerEntry, error)
	ConsumeInvoice(ctx context.Context, tx *gorm.DB, userID snowflake.ID, identity string) (bool, error)
	ConsumeStatusCheck(ctx context.Context, tx *gorm.DB, userID snowflake.ID, identity string) (bool, error)
	Status(ctx context.Context, userID snowflake.ID, identity string) (StatusResponse, error)
}

// Repository is the raw SQL surface of the quota tables. Every method takes
// a db handle so services can run it against a transaction.
type Repository interface {
	InsertLedger(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	FindLedgerByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*LedgerEntry, error)
	// DecrementInvoice conditionally spends one invoice credit. Returns
	// false without error when the counter is already zero.
	DecrementInvoice(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) (bool, error)
	DecrementStatus(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) (bool, error)

	InsertHistory(ctx context.Context, db *gorm.DB, history *GrantHistory) error
	FindHistoryByIdentifier(ctx context.Context, db *gorm.DB, identifier string) (*GrantHistory, error)
	IncrementInvoiceUsed(ctx context.Context, db *gorm.DB, identifier string) error
	IncrementStatusUsed(ctx context.Context, db *gorm.DB, identifier string) error
	// MarkConsumed latches is_consumed and stamps consumed_at once.
	MarkConsumed(ctx context.Context, db *gorm.DB, identifier string, at time.Time) error
}
