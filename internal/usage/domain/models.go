// Package domain contains persistence models for priced usage records.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageType classifies a billable event.
const (
	UsageTypeInvoiceIssue = "INVOICE_ISSUE"
	UsageTypeStatusCheck  = "STATUS_CHECK"
)

// Record is one immutable priced usage event. Prices are snapshots in KRW
// taken at recording time; later tariff changes never touch old rows. The
// billing_cycle_id column starts NULL and is written once when a cycle
// seals the record.
type Record struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	UserID         snowflake.ID  `gorm:"not null;index"`
	UsageType      string        `gorm:"type:text;not null;index"`
	UnitPrice      int64         `gorm:"not null"`
	Quantity       int           `gorm:"not null;default:1"`
	TotalPrice     int64         `gorm:"not null"`
	BillingCycleID *snowflake.ID `gorm:"index"`
	CreatedAt      time.Time     `gorm:"not null;index"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "usage_records" }
