package repository

import (
	"context"
	"time"

	issuancedomain "github.com/baroworks/taxbill/internal/issuance/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() issuancedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *issuancedomain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO issued_invoices (
			id, user_id, mgt_key, write_date,
			invoicer_corp_num, invoicer_corp_name, invoicer_ceo_name,
			invoicee_corp_num, invoicee_corp_name, invoicee_ceo_name, invoicee_email,
			amount_total, tax_total, total_amount, line_items,
			status, issued_at, cancelled_at, retention_until, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.UserID,
		invoice.MgtKey,
		invoice.WriteDate,
		invoice.InvoicerCorpNum,
		invoice.InvoicerCorpName,
		invoice.InvoicerCEOName,
		invoice.InvoiceeCorpNum,
		invoice.InvoiceeCorpName,
		invoice.InvoiceeCEOName,
		invoice.InvoiceeEmail,
		invoice.AmountTotal,
		invoice.TaxTotal,
		invoice.TotalAmount,
		invoice.LineItems,
		invoice.Status,
		invoice.IssuedAt,
		invoice.CancelledAt,
		invoice.RetentionUntil,
		invoice.CreatedAt,
	).Error
}

func (r *repo) FindByMgtKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, mgtKey string) (*issuancedomain.Invoice, error) {
	var invoice issuancedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, mgt_key, write_date,
		        invoicer_corp_num, invoicer_corp_name, invoicer_ceo_name,
		        invoicee_corp_num, invoicee_corp_name, invoicee_ceo_name, invoicee_email,
		        amount_total, tax_total, total_amount, line_items,
		        status, issued_at, cancelled_at, retention_until, created_at
		 FROM issued_invoices
		 WHERE user_id = ? AND mgt_key = ?`,
		userID,
		mgtKey,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, userID snowflake.ID, mgtKey string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE issued_invoices SET status = ?, cancelled_at = ?
		 WHERE user_id = ? AND mgt_key = ? AND status = ?`,
		issuancedomain.InvoiceStatusCancelled,
		at,
		userID,
		mgtKey,
		issuancedomain.InvoiceStatusIssued,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
