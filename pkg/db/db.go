package db

import (
	"context"
	"time"

	"github.com/serviora/bookpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("db",
	fx.Provide(New),
	fx.Invoke(registerClose),
)

// New opens the postgres connection, retrying while the database comes up.
func New(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	var conn *gorm.DB
	var err error

	const maxRetries = 10
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err == nil {
			var sqlDB interface{ Ping() error }
			sqlDB, err = conn.DB()
			if err == nil {
				err = sqlDB.Ping()
			}
		}
		if err == nil {
			return conn, nil
		}
		log.Named("db").Warn("database not ready",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		time.Sleep(2 * time.Second)
	}
	return nil, err
}

func registerClose(lc fx.Lifecycle, conn *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
}
