package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// DefaultTimeout bounds a persistence call when the caller configures none.
const DefaultTimeout = 3 * time.Second

// Scoped binds conn to a context that expires after timeout. Callers must
// invoke the returned cancel func once the operation (or transaction) ends.
func Scoped(ctx context.Context, conn *gorm.DB, timeout time.Duration) (*gorm.DB, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return conn.WithContext(ctx), cancel
}

// Transact runs fn in a transaction bounded by timeout. A timeout rolls the
// transaction back.
func Transact(ctx context.Context, conn *gorm.DB, timeout time.Duration, fn func(tx *gorm.DB) error) error {
	scoped, cancel := Scoped(ctx, conn, timeout)
	defer cancel()
	return scoped.Transaction(fn)
}
