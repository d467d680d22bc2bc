package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	anomalydomain "github.com/scolarium/scolarium/internal/anomaly/domain"
	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	"github.com/scolarium/scolarium/internal/config"
	importerdomain "github.com/scolarium/scolarium/internal/importer/domain"
	riskdomain "github.com/scolarium/scolarium/internal/risk/domain"
	"github.com/scolarium/scolarium/internal/seed"
	studentdomain "github.com/scolarium/scolarium/internal/student/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			if err := conn.AutoMigrate(
				&studentdomain.Student{},
				&billingdomain.BillingRecord{},
				&billingdomain.Payment{},
				&billingdomain.Installment{},
				&riskdomain.RiskEvaluation{},
				&anomalydomain.Anomaly{},
				&importerdomain.ImportJob{},
			); err != nil {
				return err
			}
		}
		if cfg.SeedDemo {
			return seed.EnsureDemoData(conn)
		}
		return nil
	}),
)
