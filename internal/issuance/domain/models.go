// Package domain contains persistence models for issued tax invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type InvoiceStatus string

const (
	InvoiceStatusIssued    InvoiceStatus = "ISSUED"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// RetentionYears is how long issued documents are kept, per the national
// tax code retention requirement.
const RetentionYears = 5

// Invoice is the local record of a document issued through the provider.
// Party fields are snapshots taken at issue time; the provider remains the
// source of truth for document state.
type Invoice struct {
	ID     snowflake.ID `gorm:"primaryKey"`
	UserID snowflake.ID `gorm:"not null;index"`
	MgtKey string       `gorm:"type:text;not null;uniqueIndex"`

	WriteDate string `gorm:"type:text;not null"` // YYYYMMDD

	InvoicerCorpNum  string `gorm:"type:text;not null"`
	InvoicerCorpName string `gorm:"type:text;not null"`
	InvoicerCEOName  string `gorm:"type:text"`
	InvoiceeCorpNum  string `gorm:"type:text;not null"`
	InvoiceeCorpName string `gorm:"type:text;not null"`
	InvoiceeCEOName  string `gorm:"type:text"`
	InvoiceeEmail    string `gorm:"type:text"`

	AmountTotal string `gorm:"type:text;not null"`
	TaxTotal    string `gorm:"type:text;not null"`
	TotalAmount string `gorm:"type:text;not null"`

	LineItems datatypes.JSON `gorm:"type:jsonb"`

	Status         InvoiceStatus `gorm:"type:text;not null;index"`
	IssuedAt       time.Time     `gorm:"not null"`
	CancelledAt    *time.Time
	RetentionUntil time.Time `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "issued_invoices" }
