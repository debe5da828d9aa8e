package repository

import (
	"context"
	"time"

	usagedomain "github.com/baroworks/taxbill/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *usagedomain.Record) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (id, user_id, usage_type, unit_price, quantity, total_price, billing_cycle_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID,
		record.UsageType,
		record.UnitPrice,
		record.Quantity,
		record.TotalPrice,
		record.BillingCycleID,
		record.CreatedAt,
	).Error
}

func (r *repo) SummarizeMonth(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) (usagedomain.MonthlySummary, error) {
	var summary struct {
		TotalAmount    int64
		RecordCount    int64
		UnbilledAmount int64
		UnbilledCount  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(total_price), 0) AS total_amount,
			COUNT(1) AS record_count,
			COALESCE(SUM(CASE WHEN billing_cycle_id IS NULL THEN total_price ELSE 0 END), 0) AS unbilled_amount,
			COALESCE(SUM(CASE WHEN billing_cycle_id IS NULL THEN 1 ELSE 0 END), 0) AS unbilled_count
		 FROM usage_records
		 WHERE user_id = ? AND created_at >= ? AND created_at < ?`,
		userID,
		from,
		to,
	).Scan(&summary).Error
	if err != nil {
		return usagedomain.MonthlySummary{}, err
	}
	return usagedomain.MonthlySummary{
		TotalAmount:    summary.TotalAmount,
		RecordCount:    summary.RecordCount,
		UnbilledAmount: summary.UnbilledAmount,
		UnbilledCount:  summary.UnbilledCount,
	}, nil
}
