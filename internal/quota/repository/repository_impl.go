package repository

import (
	"context"
	"time"

	quotadomain "github.com/baroworks/taxbill/internal/quota/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() quotadomain.Repository {
	return &repo{}
}

func (r *repo) InsertLedger(ctx context.Context, db *gorm.DB, entry *quotadomain.LedgerEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO quota_ledger (id, user_id, free_invoice_left, free_status_left, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.FreeInvoiceLeft,
		entry.FreeStatusLeft,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Error
}

func (r *repo) FindLedgerByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*quotadomain.LedgerEntry, error) {
	var entry quotadomain.LedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, free_invoice_left, free_status_left, created_at, updated_at
		 FROM quota_ledger WHERE user_id = ?`,
		userID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) DecrementInvoice(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE quota_ledger
		 SET free_invoice_left = free_invoice_left - 1, updated_at = ?
		 WHERE user_id = ? AND free_invoice_left > 0`,
		now,
		userID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DecrementStatus(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE quota_ledger
		 SET free_status_left = free_status_left - 1, updated_at = ?
		 WHERE user_id = ? AND free_status_left > 0`,
		now,
		userID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, history *quotadomain.GrantHistory) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO quota_grant_history (
			id, user_identifier, free_invoice_total, free_status_total,
			free_invoice_used, free_status_used, is_consumed, consumed_at, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		history.ID,
		history.UserIdentifier,
		history.FreeInvoiceTotal,
		history.FreeStatusTotal,
		history.FreeInvoiceUsed,
		history.FreeStatusUsed,
		history.IsConsumed,
		history.ConsumedAt,
		history.CreatedAt,
	).Error
}

func (r *repo) FindHistoryByIdentifier(ctx context.Context, db *gorm.DB, identifier string) (*quotadomain.GrantHistory, error) {
	var history quotadomain.GrantHistory
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_identifier, free_invoice_total, free_status_total,
		        free_invoice_used, free_status_used, is_consumed, consumed_at, created_at
		 FROM quota_grant_history WHERE user_identifier = ?`,
		identifier,
	).Scan(&history).Error
	if err != nil {
		return nil, err
	}
	if history.ID == 0 {
		return nil, nil
	}
	return &history, nil
}

func (r *repo) IncrementInvoiceUsed(ctx context.Context, db *gorm.DB, identifier string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE quota_grant_history
		 SET free_invoice_used = free_invoice_used + 1
		 WHERE user_identifier = ?`,
		identifier,
	).Error
}

func (r *repo) IncrementStatusUsed(ctx context.Context, db *gorm.DB, identifier string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE quota_grant_history
		 SET free_status_used = free_status_used + 1
		 WHERE user_identifier = ?`,
		identifier,
	).Error
}

func (r *repo) MarkConsumed(ctx context.Context, db *gorm.DB, identifier string, at time.Time) error {
	// is_consumed = FALSE in the predicate keeps consumed_at write-once.
	return db.WithContext(ctx).Exec(
		`UPDATE quota_grant_history
		 SET is_consumed = TRUE, consumed_at = ?
		 WHERE user_identifier = ? AND is_consumed = FALSE`,
		at,
		identifier,
	).Error
}
