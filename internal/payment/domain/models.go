// Package domain contains persistence models for recorded payments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodBank PaymentMethod = "bank"
)

type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Payment is one settlement attempt against a billing cycle. PaidAt is set
// only when Status is success.
type Payment struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	BillingCycleID snowflake.ID  `gorm:"not null;index"`
	UserID         snowflake.ID  `gorm:"not null;index"`
	Amount         int64         `gorm:"not null"`
	Method         PaymentMethod `gorm:"type:text;not null"`
	TransactionID  string        `gorm:"type:text"`
	Status         PaymentStatus `gorm:"type:text;not null"`
	PaidAt         *time.Time
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }
