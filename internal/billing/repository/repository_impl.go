package repository

import (
	"context"
	"time"

	billingdomain "github.com/baroworks/taxbill/internal/billing/domain"
	usagedomain "github.com/baroworks/taxbill/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() billingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, cycle *billingdomain.Cycle) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_cycles (
			id, user_id, year_month, total_usage_amount, monthly_fee,
			total_bill_amount, status, due_date, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cycle.ID,
		cycle.UserID,
		cycle.YearMonth,
		cycle.TotalUsageAmount,
		cycle.MonthlyFee,
		cycle.TotalBillAmount,
		cycle.Status,
		cycle.DueDate,
		cycle.CreatedAt,
	).Error
}

func (r *repo) FindByUserMonth(ctx context.Context, db *gorm.DB, userID snowflake.ID, yearMonth string) (*billingdomain.Cycle, error) {
	var cycle billingdomain.Cycle
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, year_month, total_usage_amount, monthly_fee,
		        total_bill_amount, status, due_date, created_at
		 FROM billing_cycles
		 WHERE user_id = ? AND year_month = ?`,
		userID,
		yearMonth,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, cycleID snowflake.ID) (*billingdomain.Cycle, error) {
	var cycle billingdomain.Cycle
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, year_month, total_usage_amount, monthly_fee,
		        total_bill_amount, status, due_date, created_at
		 FROM billing_cycles
		 WHERE user_id = ? AND id = ?`,
		userID,
		cycleID,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) PinUnbilledRecordIDs(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) ([]snowflake.ID, error) {
	query := `SELECT id FROM usage_records
		 WHERE user_id = ? AND billing_cycle_id IS NULL
		   AND created_at >= ? AND created_at < ?
		 ORDER BY id`
	if db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(query, userID, from, to).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) SumRecords(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(total_price), 0) FROM usage_records WHERE id IN (?)`,
		ids,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) SealRecords(ctx context.Context, db *gorm.DB, cycleID snowflake.ID, ids []snowflake.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	// billing_cycle_id IS NULL keeps the marker write-once.
	result := db.WithContext(ctx).Exec(
		`UPDATE usage_records SET billing_cycle_id = ?
		 WHERE id IN (?) AND billing_cycle_id IS NULL`,
		cycleID,
		ids,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) RecordsForCycle(ctx context.Context, db *gorm.DB, userID, cycleID snowflake.ID) ([]usagedomain.Record, error) {
	var records []usagedomain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, usage_type, unit_price, quantity, total_price, billing_cycle_id, created_at
		 FROM usage_records
		 WHERE user_id = ? AND billing_cycle_id = ?
		 ORDER BY created_at DESC, id DESC`,
		userID,
		cycleID,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) CountUnbilled(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM usage_records
		 WHERE user_id = ? AND billing_cycle_id IS NULL
		   AND created_at >= ? AND created_at < ?`,
		userID,
		from,
		to,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) MarkOverdue(ctx context.Context, db *gorm.DB, asOf time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE billing_cycles SET status = ?
		 WHERE status = ? AND due_date IS NOT NULL AND due_date < ?`,
		billingdomain.CycleStatusOverdue,
		billingdomain.CycleStatusPending,
		asOf,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) UsersWithUnbilledUsage(ctx context.Context, db *gorm.DB, from, to time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT user_id FROM usage_records
		 WHERE billing_cycle_id IS NULL AND created_at >= ? AND created_at < ?
		 ORDER BY user_id`,
		from,
		to,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
