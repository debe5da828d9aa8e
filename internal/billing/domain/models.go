// Package domain contains persistence models for monthly billing cycles.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type CycleStatus string

const (
	CycleStatusPending CycleStatus = "pending"
	CycleStatusPaid    CycleStatus = "paid"
	CycleStatusOverdue CycleStatus = "overdue"
)

// Cycle is one user's bill for one calendar month. The (user_id, year_month)
// pair is unique; concurrent sweeps race on the insert and the loser adopts
// the winner's row.
type Cycle struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"not null;index"`
	YearMonth        string       `gorm:"type:text;not null"` // YYYYMM
	TotalUsageAmount int64        `gorm:"not null;default:0"`
	MonthlyFee       int64        `gorm:"not null;default:0"`
	TotalBillAmount  int64        `gorm:"not null"`
	Status           CycleStatus  `gorm:"type:text;not null;default:pending;index"`
	DueDate          *time.Time
	CreatedAt        time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Cycle) TableName() string { return "billing_cycles" }

// DueDateFor returns the payment deadline for a cycle month: the last day
// of the month after it. Day zero in time.Date normalizes to the final day
// of the preceding month, which absorbs the December rollover.
func DueDateFor(yearMonth string) (time.Time, error) {
	start, err := time.ParseInLocation("200601", yearMonth, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(start.Year(), start.Month()+2, 0, 0, 0, 0, 0, time.UTC), nil
}
