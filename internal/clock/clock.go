package clock

import (
	"context"
	"time"
)

// Clock abstracts wall time so billing cutoffs can be tested.
type Clock interface {
	Now(ctx context.Context) time.Time
}

type SystemClock struct{}

func (SystemClock) Now(ctx context.Context) time.Time {
	_ = ctx
	return time.Now().UTC()
}
