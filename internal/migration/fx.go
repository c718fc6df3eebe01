package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	billingcycledomain "github.com/boardroomhq/boardroom/internal/billingcycle/domain"
	"github.com/boardroomhq/boardroom/internal/config"
	debatedomain "github.com/boardroomhq/boardroom/internal/debate/domain"
	invoicedomain "github.com/boardroomhq/boardroom/internal/invoice/domain"
	subscriptiondomain "github.com/boardroomhq/boardroom/internal/subscription/domain"
	usagedomain "github.com/boardroomhq/boardroom/internal/usage/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Versioned SQL migrations target postgres; dev databases
			// (sqlite, mysql) build their schema from the models.
			return autoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)

func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&usagedomain.UsageEvent{},
		&usagedomain.Aggregate{},
		&usagedomain.Violation{},
		&subscriptiondomain.Subscription{},
		&billingcycledomain.BillingCycle{},
		&billingcycledomain.LineItem{},
		&invoicedomain.Invoice{},
		&invoicedomain.Item{},
		&debatedomain.Debate{},
		&debatedomain.Message{},
	)
}
