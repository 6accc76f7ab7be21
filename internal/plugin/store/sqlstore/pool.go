package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/gigmarket/chat-service/internal/security"
	"gorm.io/gorm"
)

// ConfigurePool applies connection pool limits and keeps the pool gauges current
// until ctx is cancelled.
func ConfigurePool(ctx context.Context, db *gorm.DB, maxOpen, maxIdle int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if security.DBPoolMaxConnections != nil {
		security.DBPoolMaxConnections.Set(float64(maxOpen))
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if security.DBPoolOpenConnections != nil {
					security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()
	return nil
}
