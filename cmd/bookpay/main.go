package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/serviora/bookpay/internal/audit"
	"github.com/serviora/bookpay/internal/capture"
	"github.com/serviora/bookpay/internal/clock"
	"github.com/serviora/bookpay/internal/config"
	"github.com/serviora/bookpay/internal/events"
	"github.com/serviora/bookpay/internal/gateway"
	"github.com/serviora/bookpay/internal/kvstore"
	"github.com/serviora/bookpay/internal/logger"
	"github.com/serviora/bookpay/internal/migration"
	"github.com/serviora/bookpay/internal/order"
	"github.com/serviora/bookpay/internal/policy"
	"github.com/serviora/bookpay/internal/seed"
	"github.com/serviora/bookpay/internal/server"
	"github.com/serviora/bookpay/internal/webhook"
	"github.com/serviora/bookpay/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		clock.Module,
		kvstore.Module,
		fx.Invoke(func(conn *gorm.DB) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			return seed.EnsureDefaultPolicies(conn)
		}),

		audit.Module,
		events.Module,
		gateway.Module,
		policy.Module,
		order.Module,
		webhook.Module,
		capture.Module,
		server.Module,
	)
	app.Run()
}
