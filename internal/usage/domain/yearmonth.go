package domain

import (
	"time"
)

// FormatYearMonth renders a timestamp as the YYYYMM cycle key.
func FormatYearMonth(t time.Time) string {
	return t.UTC().Format("200601")
}

// MonthRange converts a YYYYMM key into the half-open [start, end) UTC
// interval covering that calendar month.
func MonthRange(yearMonth string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("200601", yearMonth, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidYearMonth
	}
	return start, start.AddDate(0, 1, 0), nil
}
