package repository

import (
	"context"

	"github.com/baroworks/taxbill/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a thin generic store over gorm for simple filter-by-struct
// lookups. Anything needing raw SQL or row locks lives in the per-domain
// repository packages instead.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Count(ctx context.Context, query *T) (int64, error)
}
