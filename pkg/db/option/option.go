package option

import (
	"strconv"
	"strings"
	"time"

	"github.com/baroworks/taxbill/pkg/db/pagination"
	"gorm.io/gorm"
)

type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithQuerySortBy(sortBy, orderBy string, allow map[string]bool) QuerySortBy {
	return QuerySortBy{SortBy: sortBy, OrderBy: orderBy, Allow: allow}
}

// WithSortBy orders by an allow-listed column. Unknown columns fall back to
// created_at so user input never reaches the ORDER BY clause raw.
func WithSortBy(sort QuerySortBy) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.TrimSpace(sort.SortBy)
		if column == "" || !sort.Allow[column] {
			column = "created_at"
		}
		direction := strings.ToLower(strings.TrimSpace(sort.OrderBy))
		if direction != "asc" {
			direction = "desc"
		}
		return db.Order(column + " " + direction + ", id " + direction)
	})
}

// parseCursorTime binds cursor timestamps as time.Time so the driver, not
// the token format, decides how they compare against stored values.
func parseCursorTime(value string) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return at, nil
	}
	return time.Parse(time.RFC3339, value)
}

// WithFilter appends an extra WHERE condition.
func WithFilter(query string, args ...any) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

// ApplyPagination applies cursor pagination. It fetches one extra row so the
// caller can detect has_more without a count query.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 50
		}
		if size > 250 {
			size = 250
		}

		if token := strings.TrimSpace(page.PageToken); token != "" {
			cursor, err := pagination.DecodeCursor(token)
			if err == nil && cursor != nil && cursor.CreatedAt != "" {
				if at, parseErr := parseCursorTime(cursor.CreatedAt); parseErr == nil {
					if id, idErr := strconv.ParseInt(cursor.ID, 10, 64); idErr == nil {
						db = db.Where("(created_at < ?) OR (created_at = ? AND id < ?)", at, at, id)
					} else {
						db = db.Where("created_at < ?", at)
					}
				}
			}
		}

		return db.Limit(size + 1)
	})
}
