package repository

import (
	"context"

	billingdomain "github.com/baroworks/taxbill/internal/billing/domain"
	paymentdomain "github.com/baroworks/taxbill/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() paymentdomain.Repository {
	return &repo{}
}

func (r *repo) LockCycle(ctx context.Context, db *gorm.DB, userID, cycleID snowflake.ID) (*billingdomain.Cycle, error) {
	query := `SELECT id, user_id, year_month, total_usage_amount, monthly_fee,
		        total_bill_amount, status, due_date, created_at
		 FROM billing_cycles
		 WHERE user_id = ? AND id = ?`
	if db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var cycle billingdomain.Cycle
	err := db.WithContext(ctx).Raw(query, userID, cycleID).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *paymentdomain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, billing_cycle_id, user_id, amount, method,
			transaction_id, status, paid_at, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.BillingCycleID,
		payment.UserID,
		payment.Amount,
		payment.Method,
		payment.TransactionID,
		payment.Status,
		payment.PaidAt,
		payment.CreatedAt,
	).Error
}

func (r *repo) TransitionPaid(ctx context.Context, db *gorm.DB, cycleID snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE billing_cycles SET status = ?
		 WHERE id = ? AND status IN (?, ?)`,
		billingdomain.CycleStatusPaid,
		cycleID,
		billingdomain.CycleStatusPending,
		billingdomain.CycleStatusOverdue,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
