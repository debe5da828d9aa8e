// Package domain contains persistence models for registered users.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is a registered business owner issuing tax invoices.
type User struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	LoginID  string       `gorm:"type:text;not null;uniqueIndex"`
	Email    string       `gorm:"type:text"`
	BizName  string       `gorm:"type:text;not null"`
	CorpNum  string       `gorm:"type:text"` // tax registration number
	CertKey  string       `gorm:"type:text"`
	APIKey   string       `gorm:"type:text;uniqueIndex"`
	IsActive bool         `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// PaymentMethod is a registered card or bank account used once the free
// grant is spent.
type PaymentMethod struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	UserID       snowflake.ID `gorm:"not null;index"`
	MethodType   string       `gorm:"type:text;not null"` // card, bank
	MaskedNumber string       `gorm:"type:text;not null"`
	Provider     string       `gorm:"type:text;not null;default:toss"`
	IsDefault    bool         `gorm:"not null;default:false"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentMethod) TableName() string { return "payment_methods" }
