package storage

import (
	"context"
	"fmt"

	"github.com/vaidashi/stationery-orders/internal/config"
	"github.com/vaidashi/stationery-orders/pkg/logger"
)

// Open builds the Store selected by cfg.Storage.Driver
func Open(ctx context.Context, cfg *config.Config, logger logger.Logger) (Store, error) {
	owner := cfg.UserID
	if owner == "" {
		owner = "dept-" + cfg.DepartmentID
	}

	switch cfg.Storage.Driver {
	case "file":
		return NewFileStore(cfg.Storage.Dir)
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(cfg.Storage.PostgresDSN, owner, logger)
	case "redis":
		return NewRedisStore(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisDB, owner)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
