package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var ErrLockNotAcquired = errors.New("advisory lock held by another process")

func persistentContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

// withAdvisoryLock runs fn while holding a MySQL named lock. GET_LOCK is bound to
// the session, so acquire and release share one pinned connection.
func withAdvisoryLock(ctx context.Context, db *gorm.DB, lockName string, fn func() error) error {
	if strings.TrimSpace(lockName) == "" {
		return fn()
	}

	return db.WithContext(persistentContext(ctx)).Connection(func(conn *gorm.DB) error {
		var ok int
		if err := conn.Raw("SELECT GET_LOCK(?, 0)", lockName).Scan(&ok).Error; err != nil {
			return err
		}
		if ok != 1 {
			return ErrLockNotAcquired
		}
		defer func() {
			var released int
			_ = conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released).Error
		}()
		return fn()
	})
}
