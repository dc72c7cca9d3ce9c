package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ballotbox/internal/platform/retry"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Postgres wraps DB connectivity.
// Keep transaction helpers here to support outbox + state consistency.
type Postgres struct {
	DB *gorm.DB
}

// Connect opens the database and pings it until it answers or policy is
// exhausted. The ledger container usually starts after the services.
func Connect(ctx context.Context, dsn string, policy retry.Policy, log *slog.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	var opened *gorm.DB
	err := retry.Do(ctx, policy, log, "postgres", func(ctx context.Context) error {
		db, err := open(ctx, dsn)
		if err != nil {
			return err
		}
		opened = db
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Postgres{DB: opened}, nil
}

func open(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
