package domain

import (
	"context"
	"errors"

	billingdomain "github.com/baroworks/taxbill/internal/billing/domain"
	"github.com/baroworks/taxbill/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type RegisterRequest struct {
	UserID         snowflake.ID
	BillingCycleID snowflake.ID  `json:"billing_cycle_id,string" binding:"required"`
	Amount         int64         `json:"amount"`
	Method         PaymentMethod `json:"method" binding:"required"`
	TransactionID  string        `json:"transaction_id"`
	Success        bool          `json:"success"`
}

type ListRequest struct {
	UserID    snowflake.ID
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type ListResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

// Service records settlement attempts. All guards run inside the recording
// transaction while the cycle row is locked, so concurrent attempts against
// the same cycle serialize and at most one succeeds.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Payment, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	// LockCycle fetches the cycle under FOR UPDATE where the dialect
	// supports it.
	LockCycle(ctx context.Context, db *gorm.DB, userID, cycleID snowflake.ID) (*billingdomain.Cycle, error)
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	TransitionPaid(ctx context.Context, db *gorm.DB, cycleID snowflake.ID) (bool, error)
}

var (
	ErrAlreadySettled = errors.New("billing_cycle_already_settled")
	ErrAmountMismatch = errors.New("payment_amount_mismatch")
	ErrInvalidMethod  = errors.New("invalid_payment_method")
	ErrInvalidAmount  = errors.New("invalid_payment_amount")
)
