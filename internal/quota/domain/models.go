// Package domain contains persistence models for the free quota ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerEntry tracks the remaining free allowance for one user. Counters
// never go below zero.
type LedgerEntry struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	UserID          snowflake.ID `gorm:"not null;uniqueIndex"`
	FreeInvoiceLeft int          `gorm:"not null"`
	FreeStatusLeft  int          `gorm:"not null"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "quota_ledger" }

// GrantHistory records the lifetime free grant per billing identity (email
// or tax registration number). It survives account deletion so re-signups
// cannot farm fresh grants. Used counters only grow; is_consumed latches on
// and consumed_at is written exactly once.
type GrantHistory struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserIdentifier   string       `gorm:"type:text;not null;uniqueIndex"`
	FreeInvoiceTotal int          `gorm:"not null"`
	FreeStatusTotal  int          `gorm:"not null"`
	FreeInvoiceUsed  int          `gorm:"not null;default:0"`
	FreeStatusUsed   int          `gorm:"not null;default:0"`
	IsConsumed       bool         `gorm:"not null;default:false"`
	ConsumedAt       *time.Time
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GrantHistory) TableName() string { return "quota_grant_history" }

// InvoiceRemaining reports the unspent invoice grant for a history row.
func (h *GrantHistory) InvoiceRemaining() int {
	remaining := h.FreeInvoiceTotal - h.FreeInvoiceUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// StatusRemaining reports the unspent status-check grant for a history row.
func (h *GrantHistory) StatusRemaining() int {
	remaining := h.FreeStatusTotal - h.FreeStatusUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
