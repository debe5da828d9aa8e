package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDueDateForIsLastDayOfNextMonth(t *testing.T) {
	cases := []struct {
		yearMonth string
		want      time.Time
	}{
		{"202604", time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)},
		{"202601", time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"202401", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"202512", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"202511", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := DueDateFor(tc.yearMonth)
		require.NoError(t, err, tc.yearMonth)
		assert.Equal(t, tc.want, got, tc.yearMonth)
	}
}

func TestDueDateForRejectsMalformedMonth(t *testing.T) {
	_, err := DueDateFor("2026-04")
	assert.Error(t, err)

	_, err = DueDateFor("202613")
	assert.Error(t, err)
}
